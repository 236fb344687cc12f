// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/storage"
	"github.com/jeranaias/polychat/internal/syncbus"
)

// ErrChatNotFound is returned by operations addressing an id that is not
// in the manager's list.
var ErrChatNotFound = errors.New("chat not found")

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the in-memory chat list, the loaded provider set, and the
// mutation path. The list is kept in store order: updatedAt descending,
// ties broken by id descending.
type Manager struct {
	chats     *storage.ChatStore
	providers *storage.ProviderStore
	bus       *syncbus.Bus
	logger    *slog.Logger

	mu           sync.RWMutex
	list         []*model.Chat
	providerList []*model.Provider
	active       *model.Provider
}

// NewManager wires a manager over the two stores and the sync bus. The bus
// may be nil for standalone use; mutations then simply go unannounced.
func NewManager(chats *storage.ChatStore, providers *storage.ProviderStore, bus *syncbus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		chats:     chats,
		providers: providers,
		bus:       bus,
		logger:    logger,
	}
}

// Init loads every chat and provider into memory and subscribes to peer
// events. It emits no events of its own.
func (m *Manager) Init(ctx context.Context) error {
	list, err := m.chats.GetAllChats(ctx)
	if err != nil {
		return err
	}
	providerList, err := m.providers.GetAllProviders(ctx)
	if err != nil {
		return err
	}
	active, err := m.providers.GetActiveProvider(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.list = list
	m.providerList = providerList
	m.active = active
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.SubscribeAll(m.handlePeerEvent)
	}
	return nil
}

// =============================================================================
// CHAT MUTATIONS
// =============================================================================

// CreateChat constructs a chat, persists it, and inserts it at the front of
// the in-memory list.
func (m *Manager) CreateChat(ctx context.Context, opts model.ChatOptions) (*model.Chat, error) {
	chat := model.NewChat(opts)
	if err := m.chats.SaveChat(ctx, chat); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.list = append([]*model.Chat{chat}, m.list...)
	m.mu.Unlock()

	m.announce(ctx, syncbus.EventChatCreated, chat.ID)
	return chat, nil
}

// AddMessage appends a message to the chat. When the appended message is
// the chat's first user message and the title is still the default, the
// chat auto-titles before persisting.
func (m *Manager) AddMessage(ctx context.Context, chatID string, msg *model.Message) (*model.Chat, error) {
	return m.mutate(ctx, chatID, syncbus.EventMessageAdded, func(c *model.Chat) {
		c.AddMessage(msg)
		if msg.IsUser() && c.HasDefaultTitle() {
			if title, ok := c.GenerateAutoTitle(); ok {
				c.Title = title
			}
		}
	})
}

// AddRecord promotes a plain record into a message and appends it.
func (m *Manager) AddRecord(ctx context.Context, chatID string, rec map[string]any) (*model.Chat, error) {
	return m.AddMessage(ctx, chatID, model.MessageFromRecord(rec))
}

// UpdateMessage patches one message in place.
func (m *Manager) UpdateMessage(ctx context.Context, chatID, messageID string, patch model.MessagePatch) (*model.Chat, error) {
	var patchErr error
	chat, err := m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		patchErr = c.UpdateMessage(messageID, patch)
	})
	if err != nil {
		return nil, err
	}
	if patchErr != nil {
		return nil, patchErr
	}
	return chat, nil
}

// DeleteMessage removes one message and reports whether removal happened.
// Deleting the last message keeps the chat.
func (m *Manager) DeleteMessage(ctx context.Context, chatID, messageID string) (bool, error) {
	removed := false
	_, err := m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		removed = c.DeleteMessage(messageID)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// UpdateChatTitle renames the chat.
func (m *Manager) UpdateChatTitle(ctx context.Context, chatID, title string) (*model.Chat, error) {
	return m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		c.SetTitle(title)
	})
}

// ToggleArchive flips the archived flag.
func (m *Manager) ToggleArchive(ctx context.Context, chatID string) (*model.Chat, error) {
	return m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		c.SetArchived(!c.Archived)
	})
}

// TogglePin flips the pinned flag.
func (m *Manager) TogglePin(ctx context.Context, chatID string) (*model.Chat, error) {
	return m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		c.SetPinned(!c.Pinned)
	})
}

// ClearChatMessages empties a chat's message list while keeping its
// identity.
func (m *Manager) ClearChatMessages(ctx context.Context, chatID string) (*model.Chat, error) {
	return m.mutate(ctx, chatID, syncbus.EventChatUpdated, func(c *model.Chat) {
		c.ClearMessages()
	})
}

// DeleteChat removes the chat from the store and the in-memory list.
// Deleting an absent id is a no-op.
func (m *Manager) DeleteChat(ctx context.Context, chatID string) error {
	if err := m.chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}

	m.mu.Lock()
	m.removeLocked(chatID)
	m.mu.Unlock()

	m.announce(ctx, syncbus.EventChatDeleted, chatID)
	return nil
}

// CloneChat deep-copies the chat under a fresh identity and persists the
// copy.
func (m *Manager) CloneChat(ctx context.Context, chatID string) (*model.Chat, error) {
	m.mu.RLock()
	source := m.findLocked(chatID)
	m.mu.RUnlock()
	if source == nil {
		return nil, ErrChatNotFound
	}

	clone := source.Clone()
	if err := m.chats.SaveChat(ctx, clone); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.list = append([]*model.Chat{clone}, m.list...)
	m.resortLocked()
	m.mu.Unlock()

	m.announce(ctx, syncbus.EventChatCreated, clone.ID)
	return clone, nil
}

// =============================================================================
// CHAT QUERIES
// =============================================================================

// ChatByID returns the in-memory chat, or nil.
func (m *Manager) ChatByID(id string) *model.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(id)
}

// AllChats returns the full in-memory list in store order.
func (m *Manager) AllChats() []*model.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Chat{}, m.list...)
}

// ChatsByProject filters the list by project id.
func (m *Manager) ChatsByProject(projectID string) []*model.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Chat, 0)
	for _, c := range m.list {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out
}

// ActiveChats returns the non-archived chats, pinned first. The sort is
// stable: within each partition the updatedAt-descending order holds.
func (m *Manager) ActiveChats() []*model.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Chat, 0, len(m.list))
	for _, c := range m.list {
		if !c.Archived {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Pinned && !out[j].Pinned
	})
	return out
}

// ArchivedChats returns only the archived chats, in store order.
func (m *Manager) ArchivedChats() []*model.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Chat, 0)
	for _, c := range m.list {
		if c.Archived {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// EXPORT AND IMPORT
// =============================================================================

// ExportAllChats returns the full JSON projection of every chat, suitable
// for ImportChats.
func (m *Manager) ExportAllChats() ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]json.RawMessage, 0, len(m.list))
	for _, c := range m.list {
		data, err := c.ToJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// ImportChats re-hydrates each record, assigns a fresh id on collision with
// an existing chat, persists the batch in one transaction, and announces
// each imported chat. Messages, createdAt, and flags are preserved.
func (m *Manager) ImportChats(ctx context.Context, records []json.RawMessage) ([]*model.Chat, error) {
	if len(records) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	taken := make(map[string]struct{}, len(m.list))
	for _, c := range m.list {
		taken[c.ID] = struct{}{}
	}
	m.mu.RUnlock()

	imported := make([]*model.Chat, 0, len(records))
	for _, rec := range records {
		chat, err := model.ChatFromJSON(rec)
		if err != nil {
			return nil, err
		}
		if _, collides := taken[chat.ID]; collides || chat.ID == "" {
			chat.ID = model.GenerateChatID()
		}
		taken[chat.ID] = struct{}{}
		imported = append(imported, chat)
	}

	if err := m.chats.SaveChats(ctx, imported); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.list = append(imported, m.list...)
	m.resortLocked()
	m.mu.Unlock()

	for _, chat := range imported {
		m.announce(ctx, syncbus.EventChatCreated, chat.ID)
	}
	return imported, nil
}

// =============================================================================
// PROVIDERS
// =============================================================================

// Providers returns the loaded provider list.
func (m *Manager) Providers() []*model.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Provider{}, m.providerList...)
}

// ActiveProvider returns the provider the singleton pointer designates,
// or nil.
func (m *Manager) ActiveProvider() *model.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SaveProvider upserts a provider configuration.
func (m *Manager) SaveProvider(ctx context.Context, p *model.Provider) error {
	if err := m.providers.SaveProvider(ctx, p); err != nil {
		return err
	}
	if err := m.reloadProviders(ctx); err != nil {
		return err
	}
	m.announce(ctx, syncbus.EventProviderUpdated, p.ID)
	return nil
}

// DeleteProvider removes a provider; if it was active the pointer clears
// with it.
func (m *Manager) DeleteProvider(ctx context.Context, id string) error {
	if err := m.providers.DeleteProvider(ctx, id); err != nil {
		return err
	}
	if err := m.reloadProviders(ctx); err != nil {
		return err
	}
	m.announce(ctx, syncbus.EventProviderUpdated, id)
	return nil
}

// SetActiveProvider moves the singleton pointer. An empty id clears it.
func (m *Manager) SetActiveProvider(ctx context.Context, id string) error {
	if err := m.providers.SaveActiveProvider(ctx, id); err != nil {
		return err
	}
	if err := m.reloadProviders(ctx); err != nil {
		return err
	}
	m.announce(ctx, syncbus.EventProviderUpdated, id)
	return nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Resync replaces the in-memory view with a full re-read of the store. It
// is the recovery path for events missed while the process was detached
// from every transport.
func (m *Manager) Resync(ctx context.Context) error {
	list, err := m.chats.GetAllChats(ctx)
	if err != nil {
		return err
	}
	providerList, err := m.providers.GetAllProviders(ctx)
	if err != nil {
		return err
	}
	active, err := m.providers.GetActiveProvider(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.list = list
	m.providerList = providerList
	m.active = active
	m.mu.Unlock()
	return nil
}

// handlePeerEvent folds one peer mutation into the in-memory view by
// re-reading the affected entity. Payloads carry ids only.
func (m *Manager) handlePeerEvent(ev syncbus.Event) {
	ctx := context.Background()

	switch ev.Type {
	case syncbus.EventChatDeleted:
		m.mu.Lock()
		m.removeLocked(eventEntityID(ev))
		m.mu.Unlock()

	case syncbus.EventChatCreated, syncbus.EventChatUpdated, syncbus.EventMessageAdded:
		id := eventEntityID(ev)
		if id == "" {
			return
		}
		chat, err := m.chats.GetChat(ctx, id)
		if err != nil {
			m.logger.Warn("re-read after peer event failed", "type", ev.Type, "chatId", id, "error", err)
			return
		}
		m.mu.Lock()
		m.removeLocked(id)
		if chat != nil {
			m.list = append([]*model.Chat{chat}, m.list...)
			m.resortLocked()
		}
		m.mu.Unlock()

	case syncbus.EventProviderUpdated:
		if err := m.reloadProviders(ctx); err != nil {
			m.logger.Warn("provider reload after peer event failed", "error", err)
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// mutate applies fn to the chat, persists it, and announces eventType. On a
// persistence failure the pre-mutation state is restored so the in-memory
// list never diverges from the store.
func (m *Manager) mutate(ctx context.Context, chatID string, eventType syncbus.EventType, fn func(*model.Chat)) (*model.Chat, error) {
	m.mu.Lock()
	chat := m.findLocked(chatID)
	if chat == nil {
		m.mu.Unlock()
		return nil, ErrChatNotFound
	}

	snapshot, err := chat.ToJSON()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	fn(chat)
	m.resortLocked()
	m.mu.Unlock()

	if err := m.chats.SaveChat(ctx, chat); err != nil {
		if restored, restoreErr := model.ChatFromJSON(snapshot); restoreErr == nil {
			m.mu.Lock()
			m.removeLocked(chatID)
			m.list = append([]*model.Chat{restored}, m.list...)
			m.resortLocked()
			m.mu.Unlock()
		}
		return nil, err
	}

	m.announce(ctx, eventType, chatID)
	return chat, nil
}

func (m *Manager) announce(ctx context.Context, eventType syncbus.EventType, id string) {
	if m.bus == nil {
		return
	}
	key := "chatId"
	if eventType == syncbus.EventProviderUpdated {
		key = "providerId"
	}
	m.bus.Broadcast(ctx, eventType, map[string]any{key: id})
}

func (m *Manager) reloadProviders(ctx context.Context) error {
	providerList, err := m.providers.GetAllProviders(ctx)
	if err != nil {
		return err
	}
	active, err := m.providers.GetActiveProvider(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.providerList = providerList
	m.active = active
	m.mu.Unlock()
	return nil
}

func eventEntityID(ev syncbus.Event) string {
	if id, ok := ev.Data["chatId"].(string); ok {
		return id
	}
	return ""
}

// findLocked returns the chat with the given id. Caller holds m.mu.
func (m *Manager) findLocked(id string) *model.Chat {
	for _, c := range m.list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// removeLocked drops the chat with the given id. Caller holds m.mu.
func (m *Manager) removeLocked(id string) {
	for i, c := range m.list {
		if c.ID == id {
			m.list = append(m.list[:i], m.list[i+1:]...)
			return
		}
	}
}

// resortLocked restores store order: updatedAt descending, id descending.
// Caller holds m.mu.
func (m *Manager) resortLocked() {
	sort.SliceStable(m.list, func(i, j int) bool {
		a, b := m.list[i], m.list[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}
