// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for polychat: atomic file
// writes and rune-aware string handling.
//
// Nothing in this package knows about chats, providers, or sync; it is
// the bottom of the dependency graph.
package util
