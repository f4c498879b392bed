package signer

import (
	"crypto/ed25519"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature in bytes.
	BLSSignatureSize = 96

	// blsKeygenDomain binds derived BLS keys to the gateway identity.
	blsKeygenDomain = "ferry-bls-keygen"
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLS signs with a BLS12-381 secret key.
type BLS struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// DeriveBLS derives a deterministic BLS key from an Ed25519 identity key
// via BLAKE3(domain || seed).
func DeriveBLS(key ed25519.PrivateKey) (*BLS, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("derive bls key:\n%w", ErrKeyMaterial)
	}

	h := blake3.New()
	h.Write([]byte(blsKeygenDomain))
	h.Write(key.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return blsFromSeed(derived[:])
}

// blsFromSeed creates a BLS key pair from a seed of at least 32 bytes.
func blsFromSeed(seed []byte) (*BLS, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes:\n%w", ErrKeyMaterial)
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("bls keygen failed:\n%w", ErrKeyMaterial)
	}

	return &BLS{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign returns a compressed BLS signature over payload.
func (k *BLS) Sign(payload []byte) ([]byte, error) {
	if k.secret == nil {
		return nil, fmt.Errorf("sign:\n%w", ErrKeyMaterial)
	}

	return new(blst.P2Affine).Sign(k.secret, payload, blsDST).Compress(), nil
}

// PublicKey returns the compressed public key.
func (k *BLS) PublicKey() []byte {
	if k.public == nil {
		return nil
	}

	return k.public.Compress()
}

// Scheme returns SchemeBLS.
func (k *BLS) Scheme() Scheme {
	return SchemeBLS
}

// verifyBLS checks a compressed BLS signature.
func verifyBLS(signature, message, publicKey []byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKey) != BLSPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}
