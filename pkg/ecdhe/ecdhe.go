// Package ecdhe implements the one-shot ephemeral key agreement used during
// the session handshake.
//
// A KeyPair can be used for exactly one agreement. The private scalar is
// wiped once Agree has run, whether or not the agreement succeeded, so an
// ephemeral key can never be reused across peers or retries.
package ecdhe

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of public keys and shared secrets.
const KeySize = curve25519.PointSize

var (
	// ErrInvalidState is returned when Agree is called on a consumed key.
	ErrInvalidState = errors.New("ecdhe: key agreement already performed")

	// ErrInvalidPublicKey is returned for malformed or low-order remote keys.
	ErrInvalidPublicKey = errors.New("ecdhe: invalid remote public key")
)

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	mu      sync.Mutex
	private []byte
	public  []byte
	used    bool
}

// Generate creates a fresh ephemeral key pair.
func Generate() (*KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("ecdhe: failed to read randomness: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("ecdhe: failed to derive public key: %w", err)
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// PublicKey returns a copy of the public key to send to the remote side.
func (k *KeyPair) PublicKey() []byte {
	return append([]byte(nil), k.public...)
}

// Agree derives the shared secret with remote. It succeeds at most once; any
// later call returns ErrInvalidState and leaves the first result untouched.
func (k *KeyPair) Agree(remote []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.used {
		return nil, ErrInvalidState
	}
	k.used = true
	defer k.wipe()

	if len(remote) != KeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(remote))
	}
	secret, err := curve25519.X25519(k.private, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	return secret, nil
}

func (k *KeyPair) wipe() {
	for i := range k.private {
		k.private[i] = 0
	}
}
