// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("ID should start with 'msg_', got %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if msg.Edited || msg.EditedAt != nil {
		t.Error("new message must not be marked edited")
	}
}

func TestMessageIDsUniqueWithinMillisecond(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateMessageID()
		if seen[id] {
			t.Fatalf("duplicate message ID generated: %q", id)
		}
		seen[id] = true
	}
}

func TestMessageEdit(t *testing.T) {
	msg := NewUserMessage("original")
	msg.Edit("changed")

	if msg.Content != "changed" {
		t.Errorf("Content = %q, want %q", msg.Content, "changed")
	}
	if !msg.Edited {
		t.Error("Edited should be true after Edit")
	}
	if msg.EditedAt == nil {
		t.Fatal("EditedAt should be set after Edit")
	}
}

func TestMessageRoles(t *testing.T) {
	user := NewUserMessage("hi")
	ai := NewAssistantMessage("hello")

	if !user.IsUser() || user.IsAI() {
		t.Error("user message role checks wrong")
	}
	if !ai.IsAI() || ai.IsUser() {
		t.Error("assistant message role checks wrong")
	}
}

func TestMessageFromRecord(t *testing.T) {
	rec := map[string]any{
		"role":         "assistant",
		"content":      "generated reply",
		"providerName": "OpenAI",
		"modelName":    "gpt-4",
		"metadata":     map[string]any{"tokens": 42.0},
	}

	msg := MessageFromRecord(rec)

	if msg.ID == "" {
		t.Error("promoted record should get a generated ID")
	}
	if msg.Role != RoleAssistant {
		t.Errorf("Role = %q, want assistant", msg.Role)
	}
	if msg.Timestamp.IsZero() {
		t.Error("promoted record should get a timestamp")
	}
	if msg.Metadata["tokens"] != 42.0 {
		t.Error("metadata should carry over")
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestNewChatDefaults(t *testing.T) {
	chat := NewChat(ChatOptions{})

	if chat.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", chat.Title, DefaultTitle)
	}
	if !strings.HasPrefix(chat.ID, "chat_") {
		t.Errorf("ID should start with 'chat_', got %q", chat.ID)
	}
	if chat.UpdatedAt.Before(chat.CreatedAt) {
		t.Error("UpdatedAt must not precede CreatedAt")
	}
	if len(chat.Messages) != 0 {
		t.Error("new chat should have no messages")
	}
}

func TestChatAddMessageBumpsUpdatedAt(t *testing.T) {
	chat := NewChat(ChatOptions{Title: "t"})
	before := chat.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	chat.AddMessage(NewUserMessage("hello"))

	if len(chat.Messages) != 1 {
		t.Fatalf("MessageCount = %d, want 1", chat.MessageCount())
	}
	if !chat.UpdatedAt.After(before) {
		t.Error("UpdatedAt should be bumped by AddMessage")
	}
}

func TestChatUpdateMessage(t *testing.T) {
	chat := NewChat(ChatOptions{})
	msg := NewUserMessage("before")
	chat.AddMessage(msg)

	content := "after"
	if err := chat.UpdateMessage(msg.ID, MessagePatch{Content: &content}); err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}

	got := chat.MessageByID(msg.ID)
	if got.Content != "after" || !got.Edited {
		t.Errorf("patched message = %+v", got)
	}

	err := chat.UpdateMessage("missing-id", MessagePatch{Content: &content})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestChatDeleteMessage(t *testing.T) {
	chat := NewChat(ChatOptions{})
	msg := NewUserMessage("only one")
	chat.AddMessage(msg)

	if !chat.DeleteMessage(msg.ID) {
		t.Error("DeleteMessage should report removal")
	}
	if chat.DeleteMessage(msg.ID) {
		t.Error("second delete should report false")
	}
	// Deleting the last message keeps the chat itself.
	if chat.ID == "" || chat.MessageCount() != 0 {
		t.Error("chat identity must survive deleting the last message")
	}
}

func TestChatClearMessages(t *testing.T) {
	chat := NewChat(ChatOptions{Title: "keep me"})
	chat.AddMessage(NewUserMessage("a"))
	chat.AddMessage(NewAssistantMessage("b"))

	id := chat.ID
	chat.ClearMessages()

	if chat.MessageCount() != 0 {
		t.Error("messages should be empty after ClearMessages")
	}
	if chat.ID != id || chat.Title != "keep me" {
		t.Error("chat identity must be retained")
	}
}

// =============================================================================
// AUTO-TITLE TESTS
// =============================================================================

func TestGenerateAutoTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"first line only", "Hello world\nsecond line", "Hello world"},
		{"short single line", "Hi", "Hi"},
		{"long content clipped", strings.Repeat("a", 80), strings.Repeat("a", 50) + "…"},
		{"exactly at budget", strings.Repeat("b", 50), strings.Repeat("b", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := NewChat(ChatOptions{})
			chat.AddMessage(NewUserMessage(tt.content))

			title, ok := chat.GenerateAutoTitle()
			if !ok {
				t.Fatal("expected a derived title")
			}
			if title != tt.want {
				t.Errorf("title = %q, want %q", title, tt.want)
			}
		})
	}
}

func TestGenerateAutoTitleNoUserMessage(t *testing.T) {
	chat := NewChat(ChatOptions{})
	chat.AddMessage(NewAssistantMessage("unprompted"))

	if _, ok := chat.GenerateAutoTitle(); ok {
		t.Error("no user message should mean no derived title")
	}
}

// =============================================================================
// CLONE TESTS
// =============================================================================

func TestChatClone(t *testing.T) {
	chat := NewChat(ChatOptions{Title: "X"})
	chat.AddMessage(NewUserMessage("one"))
	chat.AddMessage(NewAssistantMessage("two"))

	clone := chat.Clone()

	if clone.Title != "X (Copy)" {
		t.Errorf("clone title = %q, want %q", clone.Title, "X (Copy)")
	}
	if clone.ID == chat.ID {
		t.Error("clone must have a different chat ID")
	}
	if len(clone.Messages) != 2 {
		t.Fatalf("clone message count = %d, want 2", len(clone.Messages))
	}
	for i, msg := range clone.Messages {
		if msg.ID == chat.Messages[i].ID {
			t.Errorf("clone message %d kept the original ID", i)
		}
		if msg.Content != chat.Messages[i].Content {
			t.Errorf("clone message %d content differs", i)
		}
	}
	if clone.CreatedAt.Before(chat.CreatedAt) {
		t.Error("clone CreatedAt should be now")
	}

	// Deep copy: mutating the clone must not touch the original.
	clone.Messages[0].Edit("mutated")
	if chat.Messages[0].Content != "one" {
		t.Error("clone shares message storage with the original")
	}
}

// =============================================================================
// SERIALIZATION TESTS
// =============================================================================

func TestChatJSONRoundTrip(t *testing.T) {
	chat := NewChat(ChatOptions{Title: "rt", ProjectID: "proj-9"})
	chat.Pinned = true
	chat.Metadata = map[string]any{"color": "teal", "unknown_key": float64(7)}
	msg := NewUserMessage("body")
	msg.Metadata = map[string]any{"custom": "kept"}
	chat.AddMessage(msg)

	data, err := chat.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	back, err := ChatFromJSON(data)
	if err != nil {
		t.Fatalf("ChatFromJSON failed: %v", err)
	}

	if back.ID != chat.ID || back.Title != chat.Title || back.ProjectID != chat.ProjectID {
		t.Error("identity fields lost in round-trip")
	}
	if !back.Pinned {
		t.Error("pinned flag lost in round-trip")
	}
	if back.Metadata["unknown_key"] != float64(7) {
		t.Error("unknown metadata key lost in round-trip")
	}
	if back.Messages[0].Metadata["custom"] != "kept" {
		t.Error("message metadata lost in round-trip")
	}

	// Second projection must equal the first.
	again, err := back.ToJSON()
	if err != nil {
		t.Fatalf("second ToJSON failed: %v", err)
	}
	var a, b map[string]any
	json.Unmarshal(data, &a)
	json.Unmarshal(again, &b)
	if len(a) != len(b) {
		t.Error("round-trip changed the projection shape")
	}
}

func TestChatExportProjection(t *testing.T) {
	chat := NewChat(ChatOptions{Title: "export me"})
	msg := NewUserMessage("question")
	msg.ProviderName = "OpenAI"
	msg.ModelName = "gpt-4"
	msg.Metadata = map[string]any{"secret": true}
	chat.AddMessage(msg)

	out := chat.Export()

	if out.Title != "export me" {
		t.Errorf("export title = %q", out.Title)
	}
	if len(out.Messages) != 1 {
		t.Fatal("export should carry all messages")
	}
	exp := out.Messages[0]
	if exp.Role != "user" || exp.Content != "question" || exp.ProviderName != "OpenAI" || exp.ModelName != "gpt-4" {
		t.Errorf("export message = %+v", exp)
	}

	// Presentation record carries no ids and no metadata.
	data, _ := json.Marshal(out)
	if strings.Contains(string(data), msg.ID) {
		t.Error("export must not contain message ids")
	}
	if strings.Contains(string(data), "secret") {
		t.Error("export must not contain metadata")
	}
}

// =============================================================================
// PROVIDER TESTS
// =============================================================================

func TestProviderRoundTrip(t *testing.T) {
	p := NewProvider("OpenAI", "openai", "https://api.openai.com/v1")
	p.APIKey = "sk-test"
	p.Models = []string{"gpt-4", "gpt-4o-mini"}
	p.DefaultModel = "gpt-4"

	data, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	back, err := ProviderFromJSON(data)
	if err != nil {
		t.Fatalf("ProviderFromJSON failed: %v", err)
	}

	if back.ID != p.ID || back.APIKey != "sk-test" || len(back.Models) != 2 {
		t.Errorf("provider round-trip lost fields: %+v", back)
	}
	if !back.Enabled {
		t.Error("enabled flag lost")
	}
}
