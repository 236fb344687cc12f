// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a chat. Role and ID are fixed after
// creation; Edit is the only sanctioned content mutation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Optional attribution
	AgentID      string `json:"agentId,omitempty"`
	ProviderID   string `json:"providerId,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
	ModelID      string `json:"modelId,omitempty"`
	ModelName    string `json:"modelName,omitempty"`

	// Edit tracking. Edited implies EditedAt != nil.
	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"editedAt"`

	// Metadata carries free-form keys; unknown keys survive round-trips.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a new message with a generated ID and the current
// UTC timestamp.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        GenerateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// MessageFromRecord promotes a plain key/value record into a Message.
// Missing id and timestamp are filled in; unrecognized attribution keys
// are ignored rather than rejected.
func MessageFromRecord(rec map[string]any) *Message {
	msg := &Message{
		ID:        stringField(rec, "id"),
		Role:      Role(stringField(rec, "role")),
		Content:   stringField(rec, "content"),
		Timestamp: timeField(rec, "timestamp"),

		AgentID:      stringField(rec, "agentId"),
		ProviderID:   stringField(rec, "providerId"),
		ProviderName: stringField(rec, "providerName"),
		ModelID:      stringField(rec, "modelId"),
		ModelName:    stringField(rec, "modelName"),
	}

	if msg.ID == "" {
		msg.ID = GenerateMessageID()
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if meta, ok := rec["metadata"].(map[string]any); ok {
		msg.Metadata = copyMetadata(meta)
	}
	if edited, ok := rec["edited"].(bool); ok && edited {
		msg.Edited = true
		at := timeField(rec, "editedAt")
		if at.IsZero() {
			at = msg.Timestamp
		}
		msg.EditedAt = &at
	}

	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Edit replaces the message content and records the edit time.
func (m *Message) Edit(content string) {
	now := time.Now().UTC()
	m.Content = content
	m.Edited = true
	m.EditedAt = &now
}

// IsUser reports whether this is a user turn.
func (m *Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAI reports whether this is an assistant turn.
func (m *Message) IsAI() bool {
	return m.Role == RoleAssistant
}

// Clone returns a deep copy of the message with the same ID.
func (m *Message) Clone() *Message {
	cp := *m
	if m.EditedAt != nil {
		at := *m.EditedAt
		cp.EditedAt = &at
	}
	cp.Metadata = copyMetadata(m.Metadata)
	return &cp
}

// CloneFresh returns a deep copy carrying a newly generated ID.
// Used when cloning a whole chat.
func (m *Message) CloneFresh() *Message {
	cp := m.Clone()
	cp.ID = GenerateMessageID()
	return cp
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GenerateMessageID creates a unique message ID. The millisecond prefix
// keeps IDs roughly sortable; the random suffix avoids collisions between
// messages created within the same millisecond.
func GenerateMessageID() string {
	return "msg_" + timeSeed() + "_" + randomSuffix()
}

// GenerateChatID creates a unique chat ID.
func GenerateChatID() string {
	return "chat_" + timeSeed() + "_" + randomSuffix()
}

func timeSeed() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36)
}

func randomSuffix() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// copyMetadata deep-copies the top level of a metadata map. Nested values
// are shared; callers treat metadata as immutable once attached.
func copyMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	cp := make(map[string]any, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

func stringField(rec map[string]any, key string) string {
	if s, ok := rec[key].(string); ok {
		return s
	}
	return ""
}

func timeField(rec map[string]any, key string) time.Time {
	switch v := rec[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
