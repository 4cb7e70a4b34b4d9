package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("Secret123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hash == "Secret123" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt output, got %q", hash)
	}

	ok, err := hasher.Verify("Secret123", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("Secret124", hash)
	if err != nil || ok {
		t.Fatalf("expected clean mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestBcryptHasherRejectsEmptyPassword(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestBcryptHasherReportsUnusableHash(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	ok, err := hasher.Verify("Secret123", "plaintext-not-a-hash")
	if ok || err == nil {
		t.Fatalf("expected error for malformed hash, got ok=%v err=%v", ok, err)
	}
}

func TestNewBcryptHasherDefaultsCost(t *testing.T) {
	if hasher := NewBcryptHasher(0); hasher.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", hasher.cost)
	}
}

func TestParseProvider(t *testing.T) {
	provider, err := ParseProvider(" GitHub ")
	if err != nil || provider != ProviderGitHub {
		t.Fatalf("expected github, got %q err=%v", provider, err)
	}
	if _, err := ParseProvider("myspace"); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}
