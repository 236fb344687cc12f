// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chats to files. The JSON exporter writes the full
// persisted projection and is the re-importable interchange format; the
// Markdown exporter writes the presentation record (no ids, no metadata)
// for reading and sharing.
package export
