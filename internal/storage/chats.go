// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jeranaias/polychat/internal/model"
)

// =============================================================================
// CHAT STORE
// =============================================================================

// ChatStore is the durable ordered collection of chats. The key is the
// chat id; listing is ordered by updatedAt descending with ties broken by
// id descending.
type ChatStore struct {
	db *DB
}

// NewChatStore creates a chat store on the shared database handle.
func NewChatStore(db *DB) *ChatStore {
	return &ChatStore{db: db}
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveChat upserts a chat by id. The caller supplies the full chat; the
// store never reads before writing, so concurrent saves for the same id
// resolve to last-writer-wins under SQLite's serialization.
func (s *ChatStore) SaveChat(ctx context.Context, chat *model.Chat) error {
	data, err := chat.ToJSON()
	if err != nil {
		return opErr("save chat", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO chats (id, updated_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			data       = excluded.data
	`, chat.ID, chat.UpdatedAt.UnixMilli(), string(data))
	return opErr("save chat", err)
}

// SaveChats bulk-upserts chats in a single transaction; either every chat
// is written or none is. An empty slice succeeds without opening a
// transaction.
func (s *ChatStore) SaveChats(ctx context.Context, chats []*model.Chat) error {
	if len(chats) == 0 {
		return nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr("save chats", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chats (id, updated_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			data       = excluded.data
	`)
	if err != nil {
		return opErr("save chats", err)
	}
	defer stmt.Close()

	for _, chat := range chats {
		data, err := chat.ToJSON()
		if err != nil {
			return opErr("save chats", err)
		}
		if _, err := stmt.ExecContext(ctx, chat.ID, chat.UpdatedAt.UnixMilli(), string(data)); err != nil {
			return opErr("save chats", err)
		}
	}

	return opErr("save chats", tx.Commit())
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// GetChat returns the chat hydrated as an entity, or nil if absent.
func (s *ChatStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx, `SELECT data FROM chats WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get chat", err)
	}

	chat, err := model.ChatFromJSON([]byte(data))
	if err != nil {
		return nil, opErr("get chat", err)
	}
	return chat, nil
}

// GetAllChats returns every chat, sorted by updatedAt descending with ties
// broken by id descending.
func (s *ChatStore) GetAllChats(ctx context.Context) ([]*model.Chat, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT data FROM chats ORDER BY updated_at DESC, id DESC
	`)
	if err != nil {
		return nil, opErr("get all chats", err)
	}
	defer rows.Close()

	chats := make([]*model.Chat, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, opErr("get all chats", err)
		}
		chat, err := model.ChatFromJSON([]byte(data))
		if err != nil {
			return nil, opErr("get all chats", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get all chats", err)
	}
	return chats, nil
}

// CountChats returns the number of stored chats.
func (s *ChatStore) CountChats(ctx context.Context) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, opErr("count chats", err)
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteChat removes a chat by id. Deleting an absent id is not an error.
func (s *ChatStore) DeleteChat(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	return opErr("delete chat", err)
}

// DeleteChats bulk-deletes chats in one transaction, idempotent per id.
// An empty slice is a no-op.
func (s *ChatStore) DeleteChats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr("delete chats", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chats WHERE id = ?`)
	if err != nil {
		return opErr("delete chats", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return opErr("delete chats", err)
		}
	}

	return opErr("delete chats", tx.Commit())
}
