package session

import (
	"errors"
	"fmt"
	"time"

	"Ferry/internal/journal"
	"Ferry/internal/protocol"
)

// ErrCorruptLog is returned when a log cannot describe a valid session.
var ErrCorruptLog = errors.New("corrupt session log")

// Replay rebuilds a session from its log entries in timestamp order.
// It is a pure function of the entries.
func Replay(entries []journal.Entry) (*Session, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries:\n%w", ErrCorruptLog)
	}

	s := &Session{}
	for i, e := range entries {
		if i > 0 && e.Timestamp <= entries[i-1].Timestamp {
			return nil, fmt.Errorf("entry %d out of order:\n%w", i, ErrCorruptLog)
		}

		if err := s.Apply(e); err != nil {
			return nil, fmt.Errorf("replay %s entry %d (%s):\n%w", e.SessionID, i, e.Type, err)
		}
	}

	return s, nil
}

// Apply folds one log entry into the session. The state machine uses the
// same function on live transitions, so a replayed session always equals
// the session that wrote the log.
func (s *Session) Apply(e journal.Entry) error {
	if s.ID == "" {
		if e.SessionID == "" {
			return fmt.Errorf("entry without session:\n%w", ErrCorruptLog)
		}
		s.ID = e.SessionID
	}

	if s.Role == 0 {
		s.Role = e.Role
	}

	if s.Created.IsZero() {
		s.Created = time.Unix(0, e.Timestamp)
	}

	if e.SessionID != s.ID {
		return fmt.Errorf("entry of %s applied to %s:\n%w", e.SessionID, s.ID, ErrCorruptLog)
	}

	if s.Terminal() && !afterTerminal(e.Type) {
		return fmt.Errorf("%s after %s:\n%w", e.Type, s.Stage, protocol.ErrSessionClosed)
	}

	if e.Sequence < s.Sequence || e.Pending < e.Sequence {
		return fmt.Errorf("sequence %d/%d after %d:\n%w", e.Sequence, e.Pending, s.Sequence, protocol.ErrSequence)
	}

	if err := s.applyType(e); err != nil {
		return err
	}

	if e.Sequence > s.Sequence {
		s.History = append(s.History, protocol.Digest{Sequence: e.Sequence, RequestHash: e.PayloadHash})
	}

	s.Stage = e.Stage
	s.Sequence = e.Sequence
	s.Pending = e.Pending
	s.Outcome = e.Outcome
	s.Reason = e.Reason
	s.LastActivity = time.Unix(0, e.Timestamp)

	if s.Role == protocol.RoleClient && s.Pending == s.Sequence {
		s.PendingRequest = nil
	}

	return nil
}

// applyType handles the fields specific to an entry type.
func (s *Session) applyType(e journal.Entry) error {
	switch e.Type {
	case journal.EntryProposalSent, journal.EntryProposalReceived:
		if err := s.applyProposal(e.RawPayload); err != nil {
			return err
		}
		if e.Type == journal.EntryProposalSent {
			s.PendingRequest = e.RawPayload
		}

	case journal.EntryCommenceSent, journal.EntryPrepareSent, journal.EntryCompleteSent:
		s.PendingRequest = e.RawPayload

	case journal.EntryLocked:
		s.Locked = true
		s.LockEvidence = e.RawPayload

	case journal.EntryAsserted:
		s.Asserted = true
		if s.Role == protocol.RoleClient {
			s.PendingRequest = e.RawPayload
		} else {
			s.MintEvidence = e.RawPayload
		}

	case journal.EntryAssertAcked:
		if ack, ok := decodeAs[protocol.FinalAck](e.RawPayload); ok {
			s.MintEvidence = ack.MintEvidence
		}

	case journal.EntryCompensated:
		s.Compensated = true

	case journal.EntryCompensationFailed:
		s.CompFailed = true

	case journal.EntryMessageAccepted:
		s.LastRequestHash = e.PayloadHash
		s.LastResponse = e.RawPayload

	case journal.EntryAborted:
		// A server abort in answer to a request carries the signed refusal.
		if len(e.PayloadHash) > 0 {
			s.LastRequestHash = e.PayloadHash
			s.LastResponse = e.RawPayload
		}
	}

	return nil
}

// applyProposal copies the transfer terms out of a signed proposal.
func (s *Session) applyProposal(raw []byte) error {
	p, ok := decodeAs[protocol.ProposalRequest](raw)
	if !ok {
		return fmt.Errorf("proposal entry without a readable proposal:\n%w", ErrCorruptLog)
	}

	s.AssetRef = p.AssetRef
	s.SourceLedger = p.SourceLedger
	s.RecipientLedger = p.RecipientLedger
	s.Originator = p.Originator
	s.Beneficiary = p.Beneficiary
	s.SourceBasePath = p.SourceBasePath
	s.RecipientBasePath = p.RecipientBasePath
	s.SourceGatewayPubkey = p.SourcePubkey
	s.RecipientGatewayPubkey = p.RecipientPubkey
	s.MaxTimeout = p.MaxTimeout
	s.MaxRetries = p.MaxRetries

	return nil
}

// afterTerminal lists the entries a terminal session may still receive.
func afterTerminal(t journal.EntryType) bool {
	switch t {
	case journal.EntryCompensated, journal.EntryCompensationFailed, journal.EntryRecoveryCheckpoint:
		return true
	default:
		return false
	}
}

// decodeAs decodes raw envelope bytes and returns the payload as T.
func decodeAs[T protocol.Payload](raw []byte) (T, bool) {
	var zero T

	if len(raw) == 0 {
		return zero, false
	}

	env, err := protocol.Decode(raw)
	if err != nil {
		return zero, false
	}

	p, err := env.Payload()
	if err != nil {
		return zero, false
	}

	v, ok := p.(T)
	return v, ok
}
