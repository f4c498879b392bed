package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"Ferry/internal/gateway"
	"Ferry/internal/signer"
)

// Config holds the gateway configuration.
type Config struct {
	// Name is this gateway's name in the peers file.
	Name string

	// DataPath is the directory for the session log and mirror.
	DataPath string

	// QUICAddress is the gateway-to-gateway listen address.
	QUICAddress string

	// HTTPAddress is the operator API listen address.
	HTTPAddress string

	// AdvertiseAddress is the address peers use to reach this gateway.
	// Defaults to QUICAddress.
	AdvertiseAddress string

	// KeyPath is the identity key file.
	KeyPath string

	// Passphrase opens a sealed key file.
	Passphrase string

	// Scheme is the signature scheme derived from the identity key.
	Scheme string

	// PeersPath is the JSON peers file.
	PeersPath string

	// LedgerKind selects the connector: "memory" or "http".
	LedgerKind string

	// LedgerName names the ledger this gateway fronts.
	LedgerName string

	// LedgerEndpoint is the base URL of an HTTP ledger connector.
	LedgerEndpoint string

	// Issue lists assets pre-issued on a memory ledger.
	Issue []string

	// SupportedLedgers are the recipient ledgers accepted; empty accepts any.
	SupportedLedgers []string

	// MaxTimeout is the default per-attempt deadline.
	MaxTimeout time.Duration

	// MaxRetries is the default number of attempts.
	MaxRetries uint32

	// WatchInterval is the stall watchdog period.
	WatchInterval time.Duration

	// LogLevel is debug, info, warn or error.
	LogLevel string

	// PrivateKey is the loaded identity key.
	PrivateKey ed25519.PrivateKey
}

// bindFlags registers the run flags on cmd.
func (c *Config) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.StringVar(&c.Name, "name", "", "Gateway name (must match the peers file)")
	f.StringVar(&c.DataPath, "data", "./data", "Data directory path")
	f.StringVar(&c.QUICAddress, "quic", ":7000", "Gateway-to-gateway QUIC address")
	f.StringVar(&c.HTTPAddress, "http", ":8080", "Operator HTTP API address")
	f.StringVar(&c.AdvertiseAddress, "advertise", "", "Address peers dial (default: --quic)")
	f.StringVar(&c.KeyPath, "key", "", "Identity key path (generates new if missing)")
	f.StringVar(&c.Scheme, "scheme", "ed25519", "Signature scheme (ed25519 or bls)")
	f.StringVar(&c.PeersPath, "peers", "peers.json", "Peers file path")
	f.StringVar(&c.LedgerKind, "ledger", "memory", "Ledger connector (memory or http)")
	f.StringVar(&c.LedgerName, "ledger-name", "", "Name of the ledger this gateway fronts")
	f.StringVar(&c.LedgerEndpoint, "ledger-endpoint", "", "HTTP ledger connector base URL")
	f.StringSliceVar(&c.Issue, "issue", nil, "Assets to issue on a memory ledger")
	f.StringSliceVar(&c.SupportedLedgers, "accept", nil, "Recipient ledgers accepted (default: any)")
	f.DurationVar(&c.MaxTimeout, "max-timeout", gateway.DefaultMaxTimeout, "Default per-attempt deadline")
	f.Uint32Var(&c.MaxRetries, "max-retries", gateway.DefaultMaxRetries, "Default number of attempts")
	f.DurationVar(&c.WatchInterval, "watch", 10*time.Second, "Stall watchdog interval")
	f.StringVar(&c.LogLevel, "log-level", "info", "Log level")
}

// validate checks flag combinations.
func (c *Config) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("--name is required")
	case c.LedgerName == "":
		return fmt.Errorf("--ledger-name is required")
	case c.LedgerKind == "http" && c.LedgerEndpoint == "":
		return fmt.Errorf("--ledger-endpoint is required for the http ledger")
	case c.LedgerKind != "http" && c.LedgerKind != "memory":
		return fmt.Errorf("unknown ledger connector %q", c.LedgerKind)
	case c.MaxTimeout <= 0 || c.MaxRetries == 0:
		return fmt.Errorf("--max-timeout and --max-retries must be positive")
	}

	if c.AdvertiseAddress == "" {
		c.AdvertiseAddress = c.QUICAddress
	}

	if c.KeyPath == "" {
		c.KeyPath = filepath.Join(c.DataPath, "identity.key")
	}

	return nil
}

// loadOrGenerateKey loads the identity key from file or generates and saves a new one.
func loadOrGenerateKey(keyPath, passphrase string) (ed25519.PrivateKey, error) {
	key, err := signer.LoadKey(keyPath, passphrase)
	if err == nil {
		return key, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory:\n%w", err)
	}

	key, err = signer.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := signer.SaveKey(keyPath, key, passphrase); err != nil {
		return nil, err
	}

	return key, nil
}
