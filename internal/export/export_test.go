// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/polychat/internal/model"
)

func sampleChat(t *testing.T) *model.Chat {
	t.Helper()
	chat := model.NewChat(model.ChatOptions{Title: "Trip planning"})
	chat.AddMessage(model.NewUserMessage("Where should I go in May?"))

	reply := model.NewAssistantMessage("Lisbon is lovely in May.")
	reply.ModelName = "gpt-4"
	reply.ProviderName = "OpenAI"
	chat.AddMessage(reply)
	return chat
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdownExportShape(t *testing.T) {
	chat := sampleChat(t)

	content, err := NewMarkdownExporter(nil).Export(chat)
	require.NoError(t, err)
	out := string(content)

	require.Contains(t, out, "# Trip planning")
	require.Contains(t, out, "## User")
	require.Contains(t, out, "## Assistant (gpt-4)")
	require.Contains(t, out, "Where should I go in May?")
	require.Contains(t, out, "Lisbon is lovely in May.")

	// The presentation record carries no identifiers.
	require.NotContains(t, out, chat.ID)
	require.NotContains(t, out, chat.Messages[0].ID)
}

func TestMarkdownWithoutMetadataHasNoFrontmatter(t *testing.T) {
	chat := sampleChat(t)

	content, err := NewMarkdownExporter(&Options{}).Export(chat)
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(string(content), "---\n"))
}

func TestMarkdownEscapesAwkwardTitles(t *testing.T) {
	chat := model.NewChat(model.ChatOptions{Title: "notes: day #1"})
	chat.AddMessage(model.NewUserMessage("hi"))

	content, err := NewMarkdownExporter(nil).Export(chat)
	require.NoError(t, err)
	require.Contains(t, string(content), `title: "notes: day #1"`)
}

func TestMarkdownNilChatFails(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(nil)
	require.Error(t, err)
}

// =============================================================================
// JSON
// =============================================================================

func TestJSONExportIsReimportable(t *testing.T) {
	chat := sampleChat(t)

	content, err := NewJSONExporter(nil).Export(chat)
	require.NoError(t, err)

	back, err := model.ChatFromJSON(content)
	require.NoError(t, err)
	require.Equal(t, chat.ID, back.ID)
	require.Equal(t, chat.Title, back.Title)
	require.Len(t, back.Messages, 2)
	require.Equal(t, chat.Messages[1].ModelName, back.Messages[1].ModelName)
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

func TestExportToFileWritesUnderOutputDir(t *testing.T) {
	chat := sampleChat(t)
	dir := t.TempDir()

	path, err := ExportToFile(chat, NewMarkdownExporter(nil), &Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, dir))
	require.True(t, strings.HasSuffix(path, ".md"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "# Trip planning")
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Trip planning":    "trip_planning",
		"weird/../title?!": "weirdtitle",
		"":                 "untitled",
		"日本語のタイトル":         "日本語のタイトル",
	}
	for in, want := range cases {
		require.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	require.Equal(t, "2024-05-01 09:30:00", formatTimestamp(ts))
}
