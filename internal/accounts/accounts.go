// Package accounts holds the wallet directory the sniper trades from.
package accounts

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNotFound is returned when a wallet id is not in the directory.
	ErrNotFound = errors.New("wallet not found")

	// ErrExists is returned when adding a wallet that is already present.
	ErrExists = errors.New("wallet already exists")

	// ErrInvalidKey is returned for keys that are not 64-byte ed25519 keypairs.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrWrongPassphrase is returned when the keystore cannot be decrypted.
	ErrWrongPassphrase = errors.New("wrong keystore passphrase")
)

// Directory lists the wallets available for trading and resolves their signing keys.
// Wallet ids are base58 public keys.
type Directory interface {
	List(ctx context.Context) ([]string, error)
	Resolve(ctx context.Context, id string) (solana.PrivateKey, error)
}

// ParsePrivateKey accepts a base58 secret key or a JSON byte array
// such as the solana CLI writes to id.json.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}

	var raw []byte
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		var arr []int
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		raw = make([]byte, len(arr))
		for i, v := range arr {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKey, i)
			}
			raw[i] = byte(v)
		}
	} else {
		key, err := solana.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		raw = key
	}

	if err := validateKeypair(raw); err != nil {
		return nil, err
	}
	return solana.PrivateKey(raw), nil
}

// validateKeypair checks the public half matches the seed.
func validateKeypair(raw []byte) error {
	if len(raw) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(raw))
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !derived.Equal(ed25519.PrivateKey(raw)) {
		return fmt.Errorf("%w: public key does not match seed", ErrInvalidKey)
	}
	return nil
}

// Static is a fixed in-memory Directory.
type Static struct {
	ids  []string
	keys map[string]solana.PrivateKey
}

// NewStatic builds a directory over keys, listed in the given order.
func NewStatic(keys ...solana.PrivateKey) *Static {
	s := &Static{keys: make(map[string]solana.PrivateKey, len(keys))}
	for _, k := range keys {
		id := k.PublicKey().String()
		if _, ok := s.keys[id]; ok {
			continue
		}
		s.ids = append(s.ids, id)
		s.keys[id] = k
	}
	return s
}

// Compile-time interface check.
var _ Directory = (*Static)(nil)

// List returns the wallet ids.
func (s *Static) List(_ context.Context) ([]string, error) {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out, nil
}

// Resolve returns the key for id.
func (s *Static) Resolve(_ context.Context, id string) (solana.PrivateKey, error) {
	k, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}
