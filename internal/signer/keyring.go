package signer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Peer is a known counterpart gateway.
type Peer struct {
	Name      string   `json:"name"`       // Name is the operator-facing gateway name
	PublicKey string   `json:"public_key"` // PublicKey is the hex-encoded verification key
	Scheme    string   `json:"scheme"`     // Scheme is the signature scheme name
	BasePath  string   `json:"base_path"`  // BasePath is the gateway's transport address
	Ledgers   []string `json:"ledgers"`    // Ledgers lists the ledgers the gateway fronts
}

// Keyring is the read-only registry of peer gateways, keyed by public key.
type Keyring struct {
	byKey  map[string]Peer
	byName map[string]Peer
}

// peersFile is the on-disk layout of the peers file.
type peersFile struct {
	Peers []Peer `json:"peers"`
}

// NewKeyring builds a keyring from peers.
func NewKeyring(peers ...Peer) (*Keyring, error) {
	k := &Keyring{
		byKey:  make(map[string]Peer, len(peers)),
		byName: make(map[string]Peer, len(peers)),
	}

	for _, p := range peers {
		pub, err := hex.DecodeString(p.PublicKey)
		if err != nil || len(pub) == 0 {
			return nil, fmt.Errorf("peer %q: invalid public key", p.Name)
		}

		if _, err := ParseScheme(p.Scheme); err != nil {
			return nil, fmt.Errorf("peer %q:\n%w", p.Name, err)
		}

		if _, dup := k.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate peer name %q", p.Name)
		}

		k.byKey[hex.EncodeToString(pub)] = p
		k.byName[p.Name] = p
	}

	return k, nil
}

// LoadKeyring reads a JSON peers file.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peers file %s:\n%w", path, err)
	}

	var f peersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode peers file %s:\n%w", path, err)
	}

	return NewKeyring(f.Peers...)
}

// Known reports whether pubkey belongs to a registered peer.
func (k *Keyring) Known(pubkey []byte) bool {
	_, ok := k.Lookup(pubkey)
	return ok
}

// Lookup returns the peer registered under pubkey.
func (k *Keyring) Lookup(pubkey []byte) (Peer, bool) {
	if k == nil {
		return Peer{}, false
	}

	p, ok := k.byKey[hex.EncodeToString(pubkey)]
	return p, ok
}

// ByName returns the peer with the given name.
func (k *Keyring) ByName(name string) (Peer, bool) {
	if k == nil {
		return Peer{}, false
	}

	p, ok := k.byName[name]
	return p, ok
}

// ForLedger returns the first peer fronting ledger, in name order.
func (k *Keyring) ForLedger(ledger string) (Peer, bool) {
	if k == nil {
		return Peer{}, false
	}

	names := make([]string, 0, len(k.byName))
	for name := range k.byName {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := k.byName[name]
		if slices.Contains(p.Ledgers, ledger) {
			return p, true
		}
	}

	return Peer{}, false
}

// Key decodes the peer's public key and scheme.
func (p Peer) Key() ([]byte, Scheme, error) {
	pub, err := hex.DecodeString(p.PublicKey)
	if err != nil {
		return nil, 0, fmt.Errorf("peer %q public key:\n%w", p.Name, err)
	}

	scheme, err := ParseScheme(p.Scheme)
	if err != nil {
		return nil, 0, err
	}

	return pub, scheme, nil
}

// PeerFor describes the local gateway as a Peer entry, for writing peers files.
func PeerFor(name, basePath string, s Signer, ledgers ...string) Peer {
	return Peer{
		Name:      name,
		PublicKey: hex.EncodeToString(s.PublicKey()),
		Scheme:    s.Scheme().String(),
		BasePath:  basePath,
		Ledgers:   ledgers,
	}
}
