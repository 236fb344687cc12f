// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the process-wide in-memory chat list and orchestrates
// every mutation: each operation mutates the in-memory entity, persists it,
// and announces it on the sync bus. When persistence fails the in-memory
// change is rolled back before the error surfaces, so the view never
// diverges from the store. Inbound bus events and Resync re-read from the
// store rather than trusting event payloads.
package chat
