// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/secret"
)

// =============================================================================
// PROVIDER STORE
// =============================================================================

// ProviderStore is the durable collection of provider configurations plus
// the singleton active-provider pointer. With a cipher attached, API keys
// are sealed before they reach the database and opened on the way out.
type ProviderStore struct {
	db     *DB
	cipher *secret.Cipher
}

// NewProviderStore creates a provider store on the shared database handle.
// cipher may be nil, in which case keys are stored as supplied.
func NewProviderStore(db *DB, cipher *secret.Cipher) *ProviderStore {
	return &ProviderStore{db: db, cipher: cipher}
}

// =============================================================================
// PROVIDER CRUD
// =============================================================================

// SaveProvider upserts a provider by id.
func (s *ProviderStore) SaveProvider(ctx context.Context, p *model.Provider) error {
	stored := p
	if s.cipher != nil && p.APIKey != "" && !secret.IsSealed(p.APIKey) {
		stored = p.Clone()
		sealed, err := s.cipher.SealString(p.APIKey)
		if err != nil {
			return opErr("save provider", err)
		}
		stored.APIKey = sealed
	}

	data, err := stored.ToJSON()
	if err != nil {
		return opErr("save provider", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO providers (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, stored.ID, string(data))
	return opErr("save provider", err)
}

// GetProvider returns the provider hydrated as an entity, or nil if absent.
func (s *ProviderStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx, `SELECT data FROM providers WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get provider", err)
	}
	return s.hydrate([]byte(data))
}

// GetAllProviders returns every stored provider, ordered by id for a
// deterministic listing.
func (s *ProviderStore) GetAllProviders(ctx context.Context) ([]*model.Provider, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT data FROM providers ORDER BY id`)
	if err != nil {
		return nil, opErr("get all providers", err)
	}
	defer rows.Close()

	providers := make([]*model.Provider, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, opErr("get all providers", err)
		}
		p, err := s.hydrate([]byte(data))
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get all providers", err)
	}
	return providers, nil
}

// DeleteProvider removes a provider by id; absent ids are a no-op. If the
// deleted provider is currently active, the pointer is cleared in the same
// transaction.
func (s *ProviderStore) DeleteProvider(ctx context.Context, id string) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr("delete provider", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id); err != nil {
		return opErr("delete provider", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE active_provider SET provider_id = NULL WHERE slot = 0 AND provider_id = ?
	`, id); err != nil {
		return opErr("delete provider", err)
	}

	return opErr("delete provider", tx.Commit())
}

// =============================================================================
// ACTIVE PROVIDER POINTER
// =============================================================================

// SaveActiveProvider writes the singleton pointer. An empty id clears it.
func (s *ProviderStore) SaveActiveProvider(ctx context.Context, providerID string) error {
	var value any
	if providerID != "" {
		value = providerID
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO active_provider (slot, provider_id) VALUES (0, ?)
		ON CONFLICT(slot) DO UPDATE SET provider_id = excluded.provider_id
	`, value)
	return opErr("save active provider", err)
}

// GetActiveProvider returns the provider the pointer designates, or nil
// when the pointer is unset or points at a deleted id.
func (s *ProviderStore) GetActiveProvider(ctx context.Context) (*model.Provider, error) {
	var providerID sql.NullString
	err := s.db.db.QueryRowContext(ctx, `
		SELECT provider_id FROM active_provider WHERE slot = 0
	`).Scan(&providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get active provider", err)
	}
	if !providerID.Valid || providerID.String == "" {
		return nil, nil
	}
	return s.GetProvider(ctx, providerID.String)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// hydrate parses stored provider JSON and opens a sealed API key.
func (s *ProviderStore) hydrate(data []byte) (*model.Provider, error) {
	p, err := model.ProviderFromJSON(data)
	if err != nil {
		return nil, opErr("hydrate provider", err)
	}
	if s.cipher != nil && p.APIKey != "" {
		key, err := s.cipher.OpenString(p.APIKey)
		if err != nil {
			return nil, opErr("hydrate provider", err)
		}
		p.APIKey = key
	}
	return p, nil
}
