package signer

import (
	"crypto/ed25519"
	"fmt"
)

// Ed25519 signs with an Ed25519 private key.
type Ed25519 struct {
	key ed25519.PrivateKey // key is the private key, nil when unloaded
}

// NewEd25519 wraps an Ed25519 private key.
func NewEd25519(key ed25519.PrivateKey) *Ed25519 {
	return &Ed25519{key: key}
}

// Sign returns an Ed25519 signature over payload.
func (s *Ed25519) Sign(payload []byte) ([]byte, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sign:\n%w", ErrKeyMaterial)
	}

	return ed25519.Sign(s.key, payload), nil
}

// PublicKey returns the 32-byte public key.
func (s *Ed25519) PublicKey() []byte {
	if len(s.key) != ed25519.PrivateKeySize {
		return nil
	}

	return []byte(s.key.Public().(ed25519.PublicKey))
}

// Scheme returns SchemeEd25519.
func (s *Ed25519) Scheme() Scheme {
	return SchemeEd25519
}
