// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "encoding/json"

// =============================================================================
// PROVIDER TYPE
// =============================================================================

// Provider is the stored configuration of one AI backend. The engine never
// calls the backend itself; it only stores the configuration for the
// collaborator that does.
type Provider struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	APIURL       string   `json:"apiUrl"`
	APIKey       string   `json:"apiKey"`
	Enabled      bool     `json:"enabled"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"defaultModel"`
}

// NewProvider creates a provider with a generated ID.
func NewProvider(name, typ, apiURL string) *Provider {
	return &Provider{
		ID:      "prov_" + timeSeed() + "_" + randomSuffix(),
		Name:    name,
		Type:    typ,
		APIURL:  apiURL,
		Enabled: true,
		Models:  make([]string, 0),
	}
}

// Clone returns a deep copy of the provider.
func (p *Provider) Clone() *Provider {
	cp := *p
	cp.Models = append([]string(nil), p.Models...)
	return &cp
}

// ToJSON returns the provider's JSON projection.
func (p *Provider) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ProviderFromJSON hydrates a provider from its JSON projection.
func ProviderFromJSON(data []byte) (*Provider, error) {
	var p Provider
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Models == nil {
		p.Models = make([]string, 0)
	}
	return &p, nil
}
