// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// hubWriteTimeout bounds a single frame write to a client.
	hubWriteTimeout = 5 * time.Second

	// hubSendBuffer is the per-client outbound queue. A client that falls
	// this far behind is dropped rather than allowed to stall the hub.
	hubSendBuffer = 64

	// hubMaxFrameSize bounds inbound frames.
	hubMaxFrameSize = 1 * 1024 * 1024
)

// frame is the hub's wire envelope. Inbound frames carry either a control
// action, a hello announcing the client id, or a sync-relay payload.
// Outbound frames flatten the relayed event with its type prefixed "sync-".
type frame struct {
	Type        string         `json:"type,omitempty"`
	Action      string         `json:"action,omitempty"`
	ClientID    string         `json:"clientId,omitempty"`
	SyncMessage *syncMessage   `json:"syncMessage,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
	Seq         uint64         `json:"seq,omitempty"`
	OriginID    string         `json:"originId,omitempty"`
}

type syncMessage struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	OriginID  string         `json:"originId"`
}

// ============================================================================
// HUB
// ============================================================================

// Hub tracks connected peers and forwards each sync-relay frame to every
// peer other than its sender.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// activate runs when a client requests skipWaiting.
	activate func()

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates a hub. activate may be nil when there is no staged cache
// generation to promote.
func NewHub(logger *slog.Logger, activate func()) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		activate: activate,
		clients:  make(map[*hubClient]struct{}),
	}
}

// ClientCount reports how many peers are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and pumps the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(hubMaxFrameSize)

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// ============================================================================
// PUMPS
// ============================================================================

func (h *Hub) readPump(c *hubClient) {
	defer h.drop(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Debug("unreadable frame", "error", err)
			continue
		}

		switch {
		case f.Action == "skipWaiting":
			if h.activate != nil {
				h.logger.Info("skipWaiting requested", "client", c.id)
				h.activate()
			}

		case f.Type == "hello":
			c.id = f.ClientID

		case f.Type == "sync-relay" && f.SyncMessage != nil:
			h.forward(c, f.SyncMessage)
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
}

// forward rewraps the relayed event and queues it on every other client.
// Exclusion is by client id from the hello, with the envelope's origin id
// as a backstop for clients that never said hello.
func (h *Hub) forward(from *hubClient, msg *syncMessage) {
	out := frame{
		Type:      "sync-" + strings.TrimPrefix(msg.Type, "sync-"),
		Data:      msg.Data,
		Timestamp: msg.Timestamp,
		Seq:       msg.Seq,
		OriginID:  msg.OriginID,
	}
	data, err := json.Marshal(out)
	if err != nil {
		h.logger.Warn("encode forwarded frame", "error", err)
		return
	}

	// Queueing happens under the lock so a concurrent drop cannot close a
	// channel mid-send. The sends are non-blocking, so the lock is brief.
	var slow []*hubClient
	h.mu.Lock()
	for c := range h.clients {
		if c == from {
			continue
		}
		if c.id != "" && (c.id == from.id || c.id == msg.OriginID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow sync client", "client", c.id)
		h.drop(c)
	}
}

func (h *Hub) drop(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
		c.conn.Close()
	})
}
