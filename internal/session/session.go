// Package session holds the in-memory view of transfer sessions and rebuilds
// it from the journal.
package session

import (
	"slices"
	"time"

	"Ferry/internal/protocol"
)

// Session is one asset transfer between a client and a server gateway.
// Fields are only changed by the gateway state machine or by Replay.
type Session struct {
	ID   string        `json:"id"`
	Role protocol.Role `json:"role"`

	Stage    protocol.Stage `json:"stage"`
	Sequence uint64         `json:"sequence"` // Sequence is the last completed exchange
	Pending  uint64         `json:"pending"`  // Pending is the logged-but-unanswered request, client only

	SourceBasePath         string `json:"source_base_path"`
	RecipientBasePath      string `json:"recipient_base_path"`
	SourceGatewayPubkey    []byte `json:"source_gateway_pubkey"`
	RecipientGatewayPubkey []byte `json:"recipient_gateway_pubkey"`

	MaxTimeout time.Duration `json:"max_timeout"`
	MaxRetries uint32        `json:"max_retries"`

	Outcome protocol.Outcome `json:"outcome"`
	Reason  protocol.Reason  `json:"reason,omitempty"`

	AssetRef        string `json:"asset_ref"`
	SourceLedger    string `json:"source_ledger"`
	RecipientLedger string `json:"recipient_ledger"`
	Originator      string `json:"originator"`
	Beneficiary     string `json:"beneficiary"`

	Locked       bool   `json:"locked"`
	Asserted     bool   `json:"asserted"`
	Compensated  bool   `json:"compensated"`
	CompFailed   bool   `json:"compensation_failed"`
	LockEvidence []byte `json:"lock_evidence,omitempty"`
	MintEvidence []byte `json:"mint_evidence,omitempty"`

	PendingRequest  []byte `json:"-"` // PendingRequest is the signed outstanding request, client only
	LastRequestHash []byte `json:"-"` // LastRequestHash is the last accepted request, server only
	LastResponse    []byte `json:"-"` // LastResponse is the signed reply to LastRequestHash, server only

	History []protocol.Digest `json:"history"`

	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
}

// Terminal reports whether the session reached a final outcome.
func (s *Session) Terminal() bool {
	return s.Stage.Terminal()
}

// Counterpart returns the verification key of the other gateway.
func (s *Session) Counterpart() []byte {
	if s.Role == protocol.RoleServer {
		return s.SourceGatewayPubkey
	}
	return s.RecipientGatewayPubkey
}

// PeerAddr returns the transport address of the other gateway.
func (s *Session) PeerAddr() string {
	if s.Role == protocol.RoleServer {
		return s.SourceBasePath
	}
	return s.RecipientBasePath
}

// NeedsCompensation reports whether an aborted session still holds an
// irreversible action that was neither undone nor given up on.
func (s *Session) NeedsCompensation() bool {
	return s.Stage == protocol.StageAborted && (s.Locked || s.Asserted) && !s.Compensated && !s.CompFailed
}

// View returns the session as reported to the counterpart during recovery.
func (s *Session) View() protocol.View {
	return protocol.View{
		Stage:    s.Stage,
		Sequence: s.Sequence,
		Pending:  s.Pending,
		Outcome:  s.Outcome,
		Reason:   s.Reason,
		History:  slices.Clone(s.History),
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.SourceGatewayPubkey = slices.Clone(s.SourceGatewayPubkey)
	c.RecipientGatewayPubkey = slices.Clone(s.RecipientGatewayPubkey)
	c.LockEvidence = slices.Clone(s.LockEvidence)
	c.MintEvidence = slices.Clone(s.MintEvidence)
	c.PendingRequest = slices.Clone(s.PendingRequest)
	c.LastRequestHash = slices.Clone(s.LastRequestHash)
	c.LastResponse = slices.Clone(s.LastResponse)
	c.History = slices.Clone(s.History)
	return &c
}
