// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/polychat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders the presentation record of a chat: title,
// creation date, and each turn's role, content, and model attribution.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a chat to Markdown.
func (e *MarkdownExporter) Export(chat *model.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}

	record := chat.Export()
	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(record.Title)))
		sb.WriteString(fmt.Sprintf("date: %s\n", record.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(record.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(record.Title)))

	for i, msg := range record.Messages {
		sb.WriteString(fmt.Sprintf("## %s", roleHeading(msg.Role)))
		if msg.ModelName != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", msg.ModelName))
		} else if msg.ProviderName != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", msg.ProviderName))
		}
		sb.WriteString("\n\n")

		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("*%s*\n\n", formatTimestamp(msg.Timestamp)))
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n")
		if i < len(record.Messages)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func roleHeading(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "":
		return "Turn"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// escapeYAML quotes a value when it would break simple YAML frontmatter.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#\"'\n") {
		return fmt.Sprintf("%q", strings.ReplaceAll(s, "\n", " "))
	}
	return s
}

// escapeMarkdown neutralizes heading markers at the start of a title.
func escapeMarkdown(s string) string {
	return strings.TrimLeft(s, "#")
}
