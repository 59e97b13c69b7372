package peer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidKeyFile is returned when a key file cannot be parsed.
var ErrInvalidKeyFile = errors.New("invalid node key file")

// Identity is the node's long-term signing key.
type Identity struct {
	key ed25519.PrivateKey
	id  NodeID
}

// GenerateIdentity creates a fresh random identity.
func GenerateIdentity() (*Identity, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node key: %w", err)
	}
	return NewIdentity(key), nil
}

// NewIdentity wraps an existing private key.
func NewIdentity(key ed25519.PrivateKey) *Identity {
	var id NodeID
	copy(id[:], key.Public().(ed25519.PublicKey))
	return &Identity{key: key, id: id}
}

// LoadIdentity reads a hex-encoded ed25519 seed from path.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d, want %d", ErrInvalidKeyFile, len(seed), ed25519.SeedSize)
	}
	return NewIdentity(ed25519.NewKeyFromSeed(seed)), nil
}

// LoadOrGenerateIdentity loads the key at path, creating it if missing.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	ident, err := LoadIdentity(path)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ident, err = GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := ident.Save(path); err != nil {
		return nil, err
	}
	return ident, nil
}

// Save writes the seed to path with owner-only permissions.
func (i *Identity) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	data := []byte(hex.EncodeToString(i.key.Seed()) + "\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write node key: %w", err)
	}
	return nil
}

// ID returns the node identifier.
func (i *Identity) ID() NodeID {
	return i.id
}

// PrivateKey returns the signing key.
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.key
}

// Sign signs msg with the node key.
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.key, msg)
}
