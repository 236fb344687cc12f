// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType names a mutation category carried on the bus.
type EventType string

const (
	EventChatCreated     EventType = "chat-created"
	EventChatUpdated     EventType = "chat-updated"
	EventChatDeleted     EventType = "chat-deleted"
	EventMessageAdded    EventType = "message-added"
	EventProviderUpdated EventType = "provider-updated"
)

// Event is the wire envelope shared by every transport. Timestamp is wall
// clock in milliseconds; Seq is a per-origin monotonic counter that breaks
// ties between events stamped in the same millisecond.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	OriginID  string         `json:"originId"`
}

// Key identifies an event for deduplication.
func (e Event) Key() string {
	return fmt.Sprintf("%s/%d/%d", e.OriginID, e.Timestamp, e.Seq)
}

// Marshal renders the envelope as a single JSON object.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent parses a JSON envelope.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("parse sync event: %w", err)
	}
	return e, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// =============================================================================
// DEDUP WINDOW
// =============================================================================

// dedupWindowSize bounds how many recently-seen event keys are remembered.
const dedupWindowSize = 128

// dedupWindow is a fixed-size sliding window over event keys. Not safe for
// concurrent use; the bus serializes access.
type dedupWindow struct {
	keys [dedupWindowSize]string
	seen map[string]struct{}
	next int
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[string]struct{}, dedupWindowSize)}
}

// Observe records the key and reports whether it was already in the window.
func (w *dedupWindow) Observe(key string) bool {
	if _, ok := w.seen[key]; ok {
		return true
	}
	if old := w.keys[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.keys[w.next] = key
	w.seen[key] = struct{}{}
	w.next = (w.next + 1) % dedupWindowSize
	return false
}
