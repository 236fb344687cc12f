// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// RELAY TRANSPORT
// =============================================================================

// ErrRelayDisconnected means a publish was attempted while the relay
// connection was down; the dial loop keeps retrying in the background.
var ErrRelayDisconnected = errors.New("relay connection is down")

const (
	relayWriteTimeout     = 5 * time.Second
	relayReconnectMin     = 250 * time.Millisecond
	relayReconnectMax     = 15 * time.Second
	relayHandshakeTimeout = 10 * time.Second
)

// relayFrame is the envelope exchanged with the relay daemon. Outbound sync
// traffic wraps the event under syncMessage; inbound traffic arrives with
// the event type prefixed "sync-" and the event fields at the top level.
type relayFrame struct {
	Type        string         `json:"type,omitempty"`
	Action      string         `json:"action,omitempty"`
	ClientID    string         `json:"clientId,omitempty"`
	SyncMessage *Event         `json:"syncMessage,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
	Seq         uint64         `json:"seq,omitempty"`
	OriginID    string         `json:"originId,omitempty"`
}

// RelayTransport keeps a websocket session with the relay daemon and
// republishes every frame the daemon forwards from other peers. The
// connection is maintained by a background loop with capped backoff, so a
// daemon restart heals without intervention.
type RelayTransport struct {
	url    string
	bus    *Bus
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// DialRelay connects the bus to the relay daemon at url (ws://host/sync)
// and registers the transport on the bus. The initial dial failing is not
// fatal; the background loop keeps trying.
func DialRelay(ctx context.Context, bus *Bus, url string, logger *slog.Logger) *RelayTransport {
	if logger == nil {
		logger = slog.Default()
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &RelayTransport{
		url:    url,
		bus:    bus,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(loopCtx)
	bus.Attach(t)
	return t
}

func (t *RelayTransport) Name() string { return "relay" }

// Publish wraps the event in a sync-relay frame and writes it to the daemon.
func (t *RelayTransport) Publish(_ context.Context, ev Event) error {
	return t.write(relayFrame{Type: "sync-relay", SyncMessage: &ev})
}

// SkipWaiting asks a staged daemon generation to activate immediately.
func (t *RelayTransport) SkipWaiting() error {
	return t.write(relayFrame{Action: "skipWaiting"})
}

// Close stops the dial loop and drops the connection.
func (t *RelayTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

// =============================================================================
// CONNECTION LOOP
// =============================================================================

// run dials, pumps the read side until the connection drops, and redials
// with exponential backoff.
func (t *RelayTransport) run(ctx context.Context) {
	defer close(t.done)

	backoff := relayReconnectMin
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug("relay dial failed", "url", t.url, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, relayReconnectMax)
			continue
		}
		backoff = relayReconnectMin
		t.logger.Info("relay connected", "url", t.url)

		t.readLoop(conn)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("relay connection lost", "url", t.url)
	}
}

func (t *RelayTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: relayHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	hello := relayFrame{Type: "hello", ClientID: t.bus.OriginID()}
	conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	t.conn = conn
	t.mu.Unlock()
	return conn, nil
}

// Connected reports whether a session with the daemon is currently up.
func (t *RelayTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// readLoop pumps forwarded frames into the bus until the connection errors.
func (t *RelayTransport) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame relayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Debug("relay frame unreadable", "error", err)
			continue
		}
		inner, ok := strings.CutPrefix(frame.Type, "sync-")
		if !ok || inner == "relay" {
			continue
		}
		t.bus.Deliver(Event{
			Type:      EventType(inner),
			Data:      frame.Data,
			Timestamp: frame.Timestamp,
			Seq:       frame.Seq,
			OriginID:  frame.OriginID,
		})
	}
}

func (t *RelayTransport) write(frame relayFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrRelayDisconnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := t.conn.WriteJSON(frame); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}
