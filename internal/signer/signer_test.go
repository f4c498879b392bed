package signer

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestKey generates an identity key or fails the test.
func newTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	return key
}

func TestSignVerifyBothSchemes(t *testing.T) {
	key := newTestKey(t)

	for _, scheme := range []Scheme{SchemeEd25519, SchemeBLS} {
		t.Run(scheme.String(), func(t *testing.T) {
			s, err := New(scheme, key)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			msg := []byte("transfer proposal")

			sig, err := s.Sign(msg)
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}

			if !Verify(scheme, msg, sig, s.PublicKey()) {
				t.Fatal("valid signature rejected")
			}

			if Verify(scheme, []byte("tampered"), sig, s.PublicKey()) {
				t.Error("signature verified over a different payload")
			}

			bad := bytes.Clone(sig)
			bad[len(bad)-1] ^= 0xFF
			if Verify(scheme, msg, bad, s.PublicKey()) {
				t.Error("flipped signature verified")
			}
		})
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	tests := []struct {
		name   string
		scheme Scheme
		sig    []byte
		pub    []byte
	}{
		{"ed25519 empty", SchemeEd25519, nil, nil},
		{"ed25519 short key", SchemeEd25519, make([]byte, 64), make([]byte, 3)},
		{"bls empty", SchemeBLS, nil, nil},
		{"bls garbage", SchemeBLS, bytes.Repeat([]byte{0xAB}, BLSSignatureSize), bytes.Repeat([]byte{0xCD}, BLSPublicKeySize)},
		{"unknown scheme", Scheme(9), []byte{1}, []byte{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.scheme, []byte("m"), tt.sig, tt.pub) {
				t.Error("malformed input verified")
			}
		})
	}
}

func TestCrossSchemeRejected(t *testing.T) {
	key := newTestKey(t)

	ed := NewEd25519(key)
	sig, _ := ed.Sign([]byte("m"))

	if Verify(SchemeBLS, []byte("m"), sig, ed.PublicKey()) {
		t.Error("ed25519 signature accepted as bls")
	}
}

func TestBLSDerivationDeterministic(t *testing.T) {
	key := newTestKey(t)

	a, err := DeriveBLS(key)
	if err != nil {
		t.Fatalf("DeriveBLS failed: %v", err)
	}

	b, err := DeriveBLS(key)
	if err != nil {
		t.Fatalf("DeriveBLS failed: %v", err)
	}

	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Error("derived BLS keys differ for the same identity")
	}
}

func TestMissingKeyMaterial(t *testing.T) {
	if _, err := NewEd25519(nil).Sign([]byte("m")); !errors.Is(err, ErrKeyMaterial) {
		t.Errorf("Sign with no key: err = %v, want ErrKeyMaterial", err)
	}

	if _, err := New(SchemeEd25519, nil); !errors.Is(err, ErrKeyMaterial) {
		t.Errorf("New with no key: err = %v, want ErrKeyMaterial", err)
	}

	if _, err := new(BLS).Sign([]byte("m")); !errors.Is(err, ErrKeyMaterial) {
		t.Errorf("BLS Sign with no key: err = %v, want ErrKeyMaterial", err)
	}
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"", SchemeEd25519, false},
		{"Ed25519", SchemeEd25519, false},
		{"bls", SchemeBLS, false},
		{"rsa", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseScheme(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseScheme(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestKeyFileRaw(t *testing.T) {
	key := newTestKey(t)
	path := filepath.Join(t.TempDir(), "gateway.key")

	if err := SaveKey(path, key, ""); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	got, err := LoadKey(path, "")
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}

	if !bytes.Equal(got, key) {
		t.Error("raw key round trip mismatch")
	}
}

func TestKeyFileSealed(t *testing.T) {
	key := newTestKey(t)
	path := filepath.Join(t.TempDir(), "gateway.key")

	if err := SaveKey(path, key, "correct horse"); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if bytes.Contains(data, key.Seed()) {
		t.Fatal("sealed file contains the plaintext seed")
	}

	got, err := LoadKey(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}

	if !bytes.Equal(got, key) {
		t.Error("sealed key round trip mismatch")
	}

	_, err = LoadKey(path, "wrong")
	if !errors.Is(err, ErrWrongPassphrase) || !errors.Is(err, ErrKeyMaterial) {
		t.Errorf("wrong passphrase: err = %v", err)
	}
}

func TestLoadKeyMissingFile(t *testing.T) {
	_, err := LoadKey(filepath.Join(t.TempDir(), "absent"), "")
	if !errors.Is(err, ErrKeyMaterial) {
		t.Errorf("err = %v, want ErrKeyMaterial", err)
	}
}

func TestKeyring(t *testing.T) {
	a, _ := New(SchemeEd25519, newTestKey(t))
	b, _ := New(SchemeBLS, newTestKey(t))

	path := filepath.Join(t.TempDir(), "peers.json")
	content := `{"peers":[` +
		`{"name":"gw-a","public_key":"` + PeerFor("gw-a", "", a).PublicKey + `","scheme":"ed25519","base_path":"127.0.0.1:7000","ledgers":["ledger-a"]},` +
		`{"name":"gw-b","public_key":"` + PeerFor("gw-b", "", b).PublicKey + `","scheme":"bls","base_path":"127.0.0.1:7001","ledgers":["ledger-b"]}]}`

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write peers: %v", err)
	}

	ring, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}

	if !ring.Known(a.PublicKey()) || !ring.Known(b.PublicKey()) {
		t.Fatal("registered keys not known")
	}

	if ring.Known([]byte{1, 2, 3}) {
		t.Error("unregistered key reported as known")
	}

	peer, ok := ring.ForLedger("ledger-b")
	if !ok || peer.Name != "gw-b" || peer.BasePath != "127.0.0.1:7001" {
		t.Errorf("ForLedger(ledger-b) = %+v, %v", peer, ok)
	}

	pub, scheme, err := peer.Key()
	if err != nil || scheme != SchemeBLS || !bytes.Equal(pub, b.PublicKey()) {
		t.Errorf("peer.Key() = %x, %v, %v", pub, scheme, err)
	}
}

func TestKeyringRejectsBadEntries(t *testing.T) {
	if _, err := NewKeyring(Peer{Name: "x", PublicKey: "zz"}); err == nil {
		t.Error("accepted non-hex key")
	}

	if _, err := NewKeyring(Peer{Name: "x", PublicKey: "abcd", Scheme: "rsa"}); err == nil {
		t.Error("accepted unknown scheme")
	}

	p := Peer{Name: "x", PublicKey: "abcd"}
	if _, err := NewKeyring(p, p); err == nil {
		t.Error("accepted duplicate name")
	}
}
