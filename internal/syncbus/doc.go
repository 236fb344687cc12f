// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncbus fans mutation events out to every peer process working
// against the same data directory. Publishing tries the in-process channel
// broker and the relay daemon in parallel; a journal file watched with
// fsnotify covers peers that can reach neither. Inbound events are filtered
// by origin, deduplicated over a sliding window, and handed to subscribers,
// who are expected to re-read the affected entity from storage rather than
// trust the payload.
package syncbus
