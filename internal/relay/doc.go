// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay implements the background daemon that peers of one data
// directory share. It has two duties: a websocket hub that forwards sync
// envelopes from each connected peer to every other peer, and a caching
// proxy in front of the asset origin that keeps the UI loadable while the
// network is down. Cache generations are versioned directories; activating
// a generation deletes its siblings.
package relay
