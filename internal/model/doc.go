// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages, and
// provider configurations.
//
// Entities here are pure value objects: they perform no I/O and hold no
// references back into storage. Messages are owned by their Chat and have
// no independent identity in persistence. JSON projections round-trip
// losslessly, including free-form metadata keys the current code does not
// know about.
package model
