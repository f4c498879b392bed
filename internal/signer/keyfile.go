package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// sealedVersion is the current sealed key file format.
	sealedVersion = 1

	// scrypt cost parameters for sealed key files.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrWrongPassphrase is returned when a sealed key cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// sealedKey is the on-disk JSON form of a passphrase-protected key.
type sealedKey struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_n"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// GenerateKey creates a new Ed25519 identity key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// LoadKey reads an identity key file. Raw 64-byte files are used as is;
// anything else is treated as a sealed key and opened with passphrase.
func LoadKey(path, passphrase string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s:\n%w", path, errors.Join(err, ErrKeyMaterial))
	}

	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}

	raw, err := open(passphrase, data)
	if err != nil {
		return nil, fmt.Errorf("open key file %s:\n%w", path, errors.Join(err, ErrKeyMaterial))
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d:\n%w", len(raw), ed25519.PrivateKeySize, ErrKeyMaterial)
	}

	return ed25519.PrivateKey(raw), nil
}

// SaveKey writes key to path with 0600 permissions.
// A non-empty passphrase seals the key with scrypt and ChaCha20-Poly1305.
func SaveKey(path string, key ed25519.PrivateKey, passphrase string) error {
	data := []byte(key)

	if passphrase != "" {
		sealed, err := seal(passphrase, key)
		if err != nil {
			return fmt.Errorf("seal key:\n%w", err)
		}
		data = sealed
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return nil
}

// seal derives a key from passphrase and encrypts raw into a JSON blob.
func seal(passphrase string, raw []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}

	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	// zero nonce: the salt makes every derived key unique
	var nonce [chacha20poly1305.NonceSize]byte

	return json.Marshal(sealedKey{
		V:      sealedVersion,
		Salt:   salt[:],
		N:      scryptN,
		R:      scryptR,
		P:      scryptP,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

// open decrypts a sealed key blob.
func open(passphrase string, data []byte) ([]byte, error) {
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("decode sealed key:\n%w", err)
	}

	if sk.V > sealedVersion {
		return nil, fmt.Errorf("unsupported key file version %d", sk.V)
	}

	key, err := scrypt.Key([]byte(passphrase), sk.Salt, sk.N, sk.R, sk.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSize]byte

	raw, err := aead.Open(nil, nonce[:], sk.Cipher, sk.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	return raw, nil
}
