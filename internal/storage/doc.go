// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable persistence for chats and providers on
// an embedded SQLite database.
//
// Every operation runs in exactly one transaction. Bulk operations are
// all-or-nothing; an empty bulk input succeeds without opening a
// transaction at all. Saves are blind upserts: the caller supplies the
// full entity and the last writer wins per key. Reads of missing ids
// return nil without error, and deletes of missing ids are no-ops.
//
// The database handle is opened once at Open and shared by the stores;
// it is not a free-floating singleton.
package storage
