// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secret seals provider API keys at rest with AES-GCM. The cipher
// key is derived from a local passphrase with scrypt, so the database file
// alone does not reveal credentials.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidKeySize means the AES key was not 16, 24, or 32 bytes.
	ErrInvalidKeySize = errors.New("invalid AES key size (must be 16, 24, or 32 bytes)")

	// ErrInvalidCiphertext means the ciphertext is too short to contain a nonce.
	ErrInvalidCiphertext = errors.New("ciphertext too short to contain nonce")

	// ErrAuthenticationFailed means the ciphertext failed GCM authentication.
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// sealedPrefix marks strings that hold sealed data. Unprefixed values are
// treated as plaintext so stores created before sealing keep working.
const sealedPrefix = "sealed:"

// =============================================================================
// KEY DERIVATION
// =============================================================================

// scrypt parameters; interactive-strength per the scrypt paper's
// recommendation for sub-second derivation.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// DeriveKey stretches a passphrase into a 32-byte AES key.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// NewSalt generates a random 16-byte salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// =============================================================================
// CIPHER
// =============================================================================

// Cipher seals and opens small secrets with AES-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a raw AES key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromPassphrase derives a key from the passphrase and salt and
// returns a cipher over it.
func NewCipherFromPassphrase(passphrase string, salt []byte) (*Cipher, error) {
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return NewCipher(key)
}

// Seal encrypts plaintext with a random nonce prepended to the output.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return append(nonce, c.aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// Open decrypts output of Seal (nonce-prefixed ciphertext).
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// SealString seals a string into a prefixed base64 form suitable for JSON
// fields. Empty strings pass through unchanged.
func (c *Cipher) SealString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	sealed, err := c.Seal([]byte(s))
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString. Values without the sealed prefix are
// returned as-is.
func (c *Cipher) OpenString(s string) (string, error) {
	if !strings.HasPrefix(s, sealedPrefix) {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	plaintext, err := c.Open(raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether a string holds sealed data.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix)
}
