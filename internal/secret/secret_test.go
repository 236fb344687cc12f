// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package secret

import (
	"errors"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.SealString("sk-very-secret")
	if err != nil {
		t.Fatalf("SealString failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("sealed string should carry the prefix, got %q", sealed)
	}
	if sealed == "sk-very-secret" {
		t.Error("sealed string must differ from plaintext")
	}

	opened, err := c.OpenString(sealed)
	if err != nil {
		t.Fatalf("OpenString failed: %v", err)
	}
	if opened != "sk-very-secret" {
		t.Errorf("opened = %q, want plaintext back", opened)
	}
}

func TestOpenStringPassthrough(t *testing.T) {
	c := newTestCipher(t)

	// Pre-sealing databases hold plaintext keys; those pass through.
	opened, err := c.OpenString("legacy-plaintext-key")
	if err != nil {
		t.Fatalf("OpenString failed: %v", err)
	}
	if opened != "legacy-plaintext-key" {
		t.Errorf("opened = %q", opened)
	}
}

func TestSealEmptyString(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.SealString("")
	if err != nil || sealed != "" {
		t.Errorf("empty string should pass through, got %q, %v", sealed, err)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c := newTestCipher(t)
	sealed, _ := c.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0xff

	_, err := c.Open(sealed)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	c := newTestCipher(t)
	_, err := c.Open([]byte{1, 2, 3})
	if !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestNewCipherRejectsBadKeySize(t *testing.T) {
	_, err := NewCipher(make([]byte, 15))
	if !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := DeriveKey("passphrase", salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, _ := DeriveKey("passphrase", salt)
	if string(k1) != string(k2) {
		t.Error("same passphrase and salt must derive the same key")
	}

	k3, _ := DeriveKey("other", salt)
	if string(k1) == string(k3) {
		t.Error("different passphrases must derive different keys")
	}

	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}
}
