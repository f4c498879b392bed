package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
)

// ErrKeyMaterial is returned when a signing key is absent or unusable.
// It is fatal at startup.
var ErrKeyMaterial = errors.New("key material unavailable")

// Scheme identifies a signature algorithm.
type Scheme uint8

const (
	// SchemeEd25519 is the default scheme, matching the gateway identity key.
	SchemeEd25519 Scheme = 1

	// SchemeBLS is BLS12-381 with public keys in G1 and signatures in G2.
	SchemeBLS Scheme = 2
)

// String returns the scheme name used in config and peers files.
func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeBLS:
		return "bls"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme maps a scheme name to a Scheme. The empty string selects Ed25519.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(name) {
	case "", "ed25519":
		return SchemeEd25519, nil
	case "bls", "bls12-381":
		return SchemeBLS, nil
	default:
		return 0, fmt.Errorf("unknown signature scheme %q", name)
	}
}

// Signer produces signatures with the gateway's own key.
type Signer interface {
	// Sign signs payload. It fails only when key material is missing.
	Sign(payload []byte) ([]byte, error)

	// PublicKey returns the encoded verification key.
	PublicKey() []byte

	// Scheme returns the signature algorithm.
	Scheme() Scheme
}

// Verify checks sig over payload against pubkey under scheme.
// Malformed keys or signatures and unknown schemes yield false, never a panic.
func Verify(scheme Scheme, payload, sig, pubkey []byte) bool {
	switch scheme {
	case SchemeEd25519:
		if len(pubkey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pubkey), payload, sig)
	case SchemeBLS:
		return verifyBLS(sig, payload, pubkey)
	default:
		return false
	}
}

// New builds a signer of the given scheme from an Ed25519 identity key.
// BLS keys are derived deterministically from the Ed25519 seed.
func New(scheme Scheme, key ed25519.PrivateKey) (Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity key has %d bytes:\n%w", len(key), ErrKeyMaterial)
	}

	switch scheme {
	case SchemeEd25519:
		return NewEd25519(key), nil
	case SchemeBLS:
		return DeriveBLS(key)
	default:
		return nil, fmt.Errorf("scheme %s:\n%w", scheme, ErrKeyMaterial)
	}
}
