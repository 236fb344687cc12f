// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/polychat/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "polychat.db"))
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { db.Close() })
	return db
}

// chatAt builds a chat with a pinned updatedAt for ordering tests.
func chatAt(title string, updated time.Time) *model.Chat {
	chat := model.NewChat(model.ChatOptions{Title: title})
	chat.CreatedAt = updated.Add(-time.Hour)
	chat.UpdatedAt = updated
	return chat
}

// =============================================================================
// CRUD LIFECYCLE
// =============================================================================

func TestChatStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	chat := model.NewChat(model.ChatOptions{Title: "A"})
	chat.AddMessage(model.NewUserMessage("hello"))

	require.NoError(t, store.SaveChat(ctx, chat))

	loaded, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, chat.ID, loaded.ID)
	require.Equal(t, "A", loaded.Title)
	require.Len(t, loaded.Messages, 1)
	require.Equal(t, "hello", loaded.Messages[0].Content)

	require.NoError(t, store.DeleteChat(ctx, chat.ID))

	gone, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Nil(t, gone, "deleted chat must read back as nil")
}

func TestChatStore_GetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	chat, err := store.GetChat(ctx, "chat_never_existed")
	require.NoError(t, err)
	require.Nil(t, chat)
}

func TestChatStore_DeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	require.NoError(t, store.SaveChat(ctx, model.NewChat(model.ChatOptions{Title: "stay"})))
	require.NoError(t, store.DeleteChat(ctx, "chat_never_existed"))

	n, err := store.CountChats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "deleting an absent id must leave the store unchanged")
}

func TestChatStore_SaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	chat := model.NewChat(model.ChatOptions{Title: "v1"})
	require.NoError(t, store.SaveChat(ctx, chat))

	chat.SetTitle("v2")
	require.NoError(t, store.SaveChat(ctx, chat))

	loaded, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", loaded.Title)

	n, _ := store.CountChats(ctx)
	require.Equal(t, 1, n)
}

// =============================================================================
// ORDERED LISTING
// =============================================================================

func TestChatStore_GetAllChatsSortedByUpdatedAtDesc(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	old := chatAt("Old", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := chatAt("Newer", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	newest := chatAt("Newest", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))

	// Arbitrary save order.
	for _, c := range []*model.Chat{newer, newest, old} {
		require.NoError(t, store.SaveChat(ctx, c))
	}

	chats, err := store.GetAllChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	require.Equal(t, "Newest", chats[0].Title)
	require.Equal(t, "Newer", chats[1].Title)
	require.Equal(t, "Old", chats[2].Title)
}

func TestChatStore_GetAllChatsTieBrokenByIDDesc(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := chatAt("a", when)
	b := chatAt("b", when)
	require.NoError(t, store.SaveChats(ctx, []*model.Chat{a, b}))

	chats, err := store.GetAllChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)

	wantFirst := a.ID
	if b.ID > a.ID {
		wantFirst = b.ID
	}
	require.Equal(t, wantFirst, chats[0].ID, "equal updatedAt must order by id descending")
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

func TestChatStore_BulkSaveAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chats := make([]*model.Chat, 5)
	for i := range chats {
		chats[i] = chatAt("Chat "+string(rune('0'+i)), base.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, store.SaveChats(ctx, chats))

	n, _ := store.CountChats(ctx)
	require.Equal(t, 5, n)

	require.NoError(t, store.DeleteChats(ctx, []string{chats[0].ID, chats[2].ID, chats[4].ID}))

	remaining, err := store.GetAllChats(ctx)
	require.NoError(t, err)

	titles := make([]string, 0, len(remaining))
	for _, c := range remaining {
		titles = append(titles, c.Title)
	}
	sort.Strings(titles)
	require.Equal(t, []string{"Chat 1", "Chat 3"}, titles)
}

func TestChatStore_EmptyBulkOpsAreNoops(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	require.NoError(t, store.SaveChat(ctx, model.NewChat(model.ChatOptions{Title: "solo"})))

	require.NoError(t, store.SaveChats(ctx, nil))
	require.NoError(t, store.SaveChats(ctx, []*model.Chat{}))
	require.NoError(t, store.DeleteChats(ctx, nil))
	require.NoError(t, store.DeleteChats(ctx, []string{}))

	n, _ := store.CountChats(ctx)
	require.Equal(t, 1, n)
}

func TestChatStore_BulkDeleteIdempotentPerID(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(newTestDB(t))

	chat := model.NewChat(model.ChatOptions{Title: "target"})
	require.NoError(t, store.SaveChat(ctx, chat))

	// Mixing present and absent ids must still succeed.
	require.NoError(t, store.DeleteChats(ctx, []string{chat.ID, "chat_absent", chat.ID}))

	n, _ := store.CountChats(ctx)
	require.Equal(t, 0, n)
}

// =============================================================================
// PERSISTENCE ACROSS REOPEN
// =============================================================================

func TestChatStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "polychat.db")

	db, err := Open(path)
	require.NoError(t, err)
	chat := model.NewChat(model.ChatOptions{Title: "durable"})
	require.NoError(t, NewChatStore(db).SaveChat(ctx, chat))
	require.NoError(t, db.Close())

	// Open is idempotent on an already-migrated database.
	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	loaded, err := NewChatStore(db2).GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "durable", loaded.Title)
}
