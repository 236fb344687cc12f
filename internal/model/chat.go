// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jeranaias/polychat/internal/util"
)

// DefaultTitle is the title given to chats created without one.
const DefaultTitle = "New Chat"

// autoTitleMax is the rune budget for auto-generated titles.
const autoTitleMax = 50

// ErrMessageNotFound is returned when patching a message that is not in
// the chat.
var ErrMessageNotFound = errors.New("message not found in chat")

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds one conversation: an append-mostly ordered message sequence
// plus identity and flags. Messages are ordered by insertion, not by
// timestamp. UpdatedAt is bumped on every state-changing operation and is
// never earlier than CreatedAt.
type Chat struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Messages []*Message `json:"messages"`

	DefaultProviderID string `json:"defaultProviderId,omitempty"`
	DefaultModelID    string `json:"defaultModelId,omitempty"`

	Archived bool `json:"archived"`
	Pinned   bool `json:"pinned"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatOptions configures NewChat.
type ChatOptions struct {
	Title             string
	ProjectID         string
	DefaultProviderID string
	DefaultModelID    string
}

// NewChat creates an empty chat with a generated ID. An empty title falls
// back to DefaultTitle.
func NewChat(opts ChatOptions) *Chat {
	now := time.Now().UTC()
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	return &Chat{
		ID:                GenerateChatID(),
		ProjectID:         opts.ProjectID,
		Title:             title,
		CreatedAt:         now,
		UpdatedAt:         now,
		Messages:          make([]*Message, 0),
		DefaultProviderID: opts.DefaultProviderID,
		DefaultModelID:    opts.DefaultModelID,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message and bumps UpdatedAt. A message without an
// ID or timestamp is completed in place.
func (c *Chat) AddMessage(msg *Message) {
	if msg.ID == "" {
		msg.ID = GenerateMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.touch()
}

// AddRecord promotes a plain record into a Message and appends it.
func (c *Chat) AddRecord(rec map[string]any) *Message {
	msg := MessageFromRecord(rec)
	c.AddMessage(msg)
	return msg
}

// MessagePatch describes an in-place update to a message. Nil fields are
// left untouched; Metadata entries are merged key by key.
type MessagePatch struct {
	Content      *string
	AgentID      *string
	ProviderID   *string
	ProviderName *string
	ModelID      *string
	ModelName    *string
	Metadata     map[string]any
}

// UpdateMessage patches the message with the given id. Patching content
// marks the message edited. Returns ErrMessageNotFound if the id is not
// in the chat.
func (c *Chat) UpdateMessage(id string, patch MessagePatch) error {
	msg := c.MessageByID(id)
	if msg == nil {
		return ErrMessageNotFound
	}

	if patch.Content != nil {
		msg.Edit(*patch.Content)
	}
	if patch.AgentID != nil {
		msg.AgentID = *patch.AgentID
	}
	if patch.ProviderID != nil {
		msg.ProviderID = *patch.ProviderID
	}
	if patch.ProviderName != nil {
		msg.ProviderName = *patch.ProviderName
	}
	if patch.ModelID != nil {
		msg.ModelID = *patch.ModelID
	}
	if patch.ModelName != nil {
		msg.ModelName = *patch.ModelName
	}
	if len(patch.Metadata) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			msg.Metadata[k] = v
		}
	}

	c.touch()
	return nil
}

// DeleteMessage removes the message with the given id and reports whether
// removal happened. Deleting the last message keeps the chat alive.
func (c *Chat) DeleteMessage(id string) bool {
	for i, msg := range c.Messages {
		if msg.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.touch()
			return true
		}
	}
	return false
}

// ClearMessages empties the message list while retaining chat identity.
func (c *Chat) ClearMessages() {
	c.Messages = make([]*Message, 0)
	c.touch()
}

// MessageByID returns the message with the given id, or nil.
func (c *Chat) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// FirstUserMessage returns the earliest user message, or nil.
func (c *Chat) FirstUserMessage() *Message {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Chat) MessageCount() int {
	return len(c.Messages)
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// HasDefaultTitle reports whether the title is still the creation default.
func (c *Chat) HasDefaultTitle() bool {
	return c.Title == DefaultTitle
}

// GenerateAutoTitle derives a title from the first user message: its first
// line, clipped to 50 runes, with an ellipsis appended when the message
// content ran past the budget. Returns false when there is no user message
// to derive from.
func (c *Chat) GenerateAutoTitle() (string, bool) {
	first := c.FirstUserMessage()
	if first == nil || first.Content == "" {
		return "", false
	}

	title := util.ClipRunes(util.FirstLine(first.Content), autoTitleMax)
	if util.RuneLen(first.Content) > autoTitleMax {
		title += "…"
	}
	return title, true
}

// SetTitle sets the title and bumps UpdatedAt.
func (c *Chat) SetTitle(title string) {
	c.Title = title
	c.touch()
}

// =============================================================================
// FLAGS
// =============================================================================

// SetArchived sets the archived flag and bumps UpdatedAt.
func (c *Chat) SetArchived(archived bool) {
	c.Archived = archived
	c.touch()
}

// SetPinned sets the pinned flag and bumps UpdatedAt.
func (c *Chat) SetPinned(pinned bool) {
	c.Pinned = pinned
	c.touch()
}

// =============================================================================
// CLONE
// =============================================================================

// Clone produces a new chat with a fresh ID, CreatedAt set to now, deep
// copies of every message (each carrying a fresh ID), and the title
// suffixed " (Copy)". Flags and defaults carry over.
func (c *Chat) Clone() *Chat {
	now := time.Now().UTC()
	clone := &Chat{
		ID:                GenerateChatID(),
		ProjectID:         c.ProjectID,
		Title:             c.Title + " (Copy)",
		CreatedAt:         now,
		UpdatedAt:         now,
		Messages:          make([]*Message, len(c.Messages)),
		DefaultProviderID: c.DefaultProviderID,
		DefaultModelID:    c.DefaultModelID,
		Archived:          c.Archived,
		Pinned:            c.Pinned,
		Metadata:          copyMetadata(c.Metadata),
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.CloneFresh()
	}
	return clone
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ToJSON returns the chat's full JSON projection. The projection is the
// persisted form and the export format.
func (c *Chat) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// ChatFromJSON hydrates a chat from its JSON projection. Unknown metadata
// keys are preserved.
func ChatFromJSON(data []byte) (*Chat, error) {
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, err
	}
	if chat.Messages == nil {
		chat.Messages = make([]*Message, 0)
	}
	return &chat, nil
}

// ChatExport is the presentation projection: no ids, no metadata.
type ChatExport struct {
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"createdAt"`
	Messages  []MessageExport `json:"messages"`
}

// MessageExport is one presentation turn inside a ChatExport.
type MessageExport struct {
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	ProviderName string    `json:"providerName,omitempty"`
	ModelName    string    `json:"modelName,omitempty"`
}

// Export returns the presentation record for the chat.
func (c *Chat) Export() ChatExport {
	out := ChatExport{
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		Messages:  make([]MessageExport, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		out.Messages[i] = MessageExport{
			Role:         msg.Role.String(),
			Content:      msg.Content,
			Timestamp:    msg.Timestamp,
			ProviderName: msg.ProviderName,
			ModelName:    msg.ModelName,
		}
	}
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// touch bumps UpdatedAt, keeping the UpdatedAt >= CreatedAt invariant even
// if the wall clock moved backwards.
func (c *Chat) touch() {
	now := time.Now().UTC()
	if now.Before(c.CreatedAt) {
		now = c.CreatedAt
	}
	c.UpdatedAt = now
}
