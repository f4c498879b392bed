// Package ledger connects a gateway to the chain it fronts.
package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Op names a connector operation.
type Op string

const (
	OpLock       Op = "lock"
	OpAssert     Op = "assert"
	OpCompensate Op = "compensate"
)

// Result is the ledger's answer to an operation.
// OK false is a protocol-level refusal; transport failures are returned as errors.
type Result struct {
	OK       bool   `json:"ok"`
	Evidence []byte `json:"evidence,omitempty"` // Evidence is the ledger's proof, e.g. a transaction id
	Reason   string `json:"reason,omitempty"`
}

// Connector performs irreversible actions on one ledger. Every operation
// is idempotent per session: repeating it returns the first result.
type Connector interface {
	// LockAsset escrows assetRef for the session.
	LockAsset(ctx context.Context, sessionID, assetRef string) (Result, error)

	// AssertCommit burns the locked asset on the source ledger or mints it
	// on the recipient ledger.
	AssertCommit(ctx context.Context, sessionID, assetRef string) (Result, error)

	// Compensate undoes whatever the session did: unlock, re-issue or revoke.
	Compensate(ctx context.Context, sessionID, assetRef string) (Result, error)
}

// Config selects and configures a connector.
type Config struct {
	Kind     string // Kind is "memory" or "http"
	Name     string // Name is the ledger name, used by the memory ledger
	Endpoint string // Endpoint is the base URL of the http connector
	Assets   []string
}

// New builds the connector described by cfg.
func New(cfg Config) (Connector, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "memory":
		m := NewMemory(cfg.Name)
		for _, a := range cfg.Assets {
			m.Issue(a)
		}
		return m, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http ledger requires an endpoint")
		}
		return NewHTTP(cfg.Endpoint, nil), nil
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", cfg.Kind)
	}
}
