package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

// expectation is the stage a request must declare and the stage the
// server session must be in to accept it.
type expectation struct {
	declared protocol.Stage
	current  protocol.Stage
}

var expected = map[protocol.Kind]expectation{
	protocol.KindCommenceRequest: {protocol.StageCommencing, protocol.StageCommencing},
	protocol.KindPrepareRequest:  {protocol.StagePreparing, protocol.StageLocking},
	protocol.KindFinalAssertion:  {protocol.StageAsserting, protocol.StageAsserting},
	protocol.KindCompleteRequest: {protocol.StageCommitting, protocol.StageCommitting},
}

// HandleRequest processes one inbound session request and returns the
// signed reply. A returned error means the message was dropped: no reply
// is sent and the sender's retry policy applies.
func (g *Gateway) HandleRequest(ctx context.Context, env *protocol.Envelope, raw []byte) ([]byte, error) {
	g.metrics.Received(env.Kind.String())

	var (
		reply []byte
		err   error
	)

	switch env.Kind {
	case protocol.KindProposalRequest:
		reply, err = g.handleProposal(ctx, env, raw)
	case protocol.KindRollback:
		reply, err = g.handleRollback(ctx, env)
	case protocol.KindCommenceRequest, protocol.KindPrepareRequest,
		protocol.KindFinalAssertion, protocol.KindCompleteRequest:
		reply, err = g.handleSequenced(ctx, env)
	default:
		err = fmt.Errorf("%s is not a session request:\n%w", env.Kind, protocol.ErrMalformed)
	}

	if err != nil {
		g.drop(env, err)
		return nil, err
	}

	return reply, nil
}

// drop logs and counts a refused inbound message.
func (g *Gateway) drop(env *protocol.Envelope, err error) {
	reason := "internal"
	switch {
	case errors.Is(err, protocol.ErrBadSignature):
		reason = "signature"
	case errors.Is(err, protocol.ErrSequence):
		reason = "sequence"
	case errors.Is(err, protocol.ErrStage):
		reason = "stage"
	case errors.Is(err, protocol.ErrUnknownSession):
		reason = "unknown_session"
	case errors.Is(err, protocol.ErrMalformed):
		reason = "malformed"
	}

	g.metrics.Drop(reason)
	g.log.Warn("message dropped",
		"session", env.SessionID,
		"kind", env.Kind,
		"seq", env.Sequence,
		"reason", reason,
		"error", err,
	)
}

// handleProposal opens a server session, or replays the receipt of a
// proposal already answered.
func (g *Gateway) handleProposal(ctx context.Context, env *protocol.Envelope, raw []byte) ([]byte, error) {
	p, err := env.Payload()
	if err != nil {
		return nil, err
	}

	proposal, ok := p.(protocol.ProposalRequest)
	if !ok {
		return nil, fmt.Errorf("proposal body:\n%w", protocol.ErrMalformed)
	}

	if err := env.Verify(proposal.SourcePubkey); err != nil {
		return nil, err
	}

	if env.Sequence != 1 {
		return nil, fmt.Errorf("proposal seq %d:\n%w", env.Sequence, protocol.ErrSequence)
	}

	if env.Stage != protocol.StageInit {
		return nil, fmt.Errorf("proposal declared %s:\n%w", env.Stage, protocol.ErrStage)
	}

	hash := env.Hash()

	s := &session.Session{ID: env.SessionID, Role: protocol.RoleServer}

	sl, err := g.store.CreateLocked(s)
	if errors.Is(err, session.ErrExists) {
		return g.replayProposal(env, hash)
	}
	if err != nil {
		return nil, err
	}
	defer sl.Unlock()

	e := NewEntry(s, journal.EntryProposalReceived)
	e.Stage = protocol.StageProposed
	e.PayloadHash = hash
	e.RawPayload = raw

	if err := g.Record(s, e); err != nil {
		g.store.Drop(s.ID)
		return nil, err
	}

	g.track(s.ID, false)
	g.metrics.SessionStarted(s.Role.String())

	receipt := protocol.ProposalReceipt{RequestHash: hash, Accept: true}
	next, reason := protocol.StageCommencing, protocol.ReasonNone

	if why := g.admit(proposal); why != "" {
		g.log.Info("proposal rejected",
			"session", s.ID,
			"reason", why,
		)

		receipt.Accept = false
		receipt.Reason = protocol.ReasonPeerRejected
		next, reason = protocol.StageRejected, protocol.ReasonPeerRejected
	} else {
		g.log.Info("proposal accepted",
			"session", s.ID,
			"asset", proposal.AssetRef,
			"ledger", proposal.SourceLedger,
		)
	}

	return g.accept(s, env, hash, next, reason, receipt)
}

// replayProposal answers a proposal for a session that already exists.
func (g *Gateway) replayProposal(env *protocol.Envelope, hash []byte) ([]byte, error) {
	sl, err := g.store.Get(env.SessionID)
	if err != nil {
		return nil, err
	}

	s := sl.Lock()
	defer sl.Unlock()

	if s.Role == protocol.RoleServer && s.Sequence == 1 && bytes.Equal(s.LastRequestHash, hash) {
		return s.LastResponse, nil
	}

	return nil, fmt.Errorf("proposal for existing session %s:\n%w", env.SessionID, protocol.ErrSequence)
}

// admit returns why a proposal is refused, or "" to accept it.
func (g *Gateway) admit(p protocol.ProposalRequest) string {
	switch {
	case !bytes.Equal(p.RecipientPubkey, g.signer.PublicKey()):
		return "proposal addressed to another gateway"
	case !g.keyring.Known(p.SourcePubkey):
		return "unknown source gateway"
	case !g.supports(p.RecipientLedger):
		return fmt.Sprintf("unsupported recipient ledger %q", p.RecipientLedger)
	case p.AssetRef == "":
		return "missing asset reference"
	case p.MaxTimeout <= 0 || p.MaxRetries == 0:
		return "invalid retry policy"
	case p.SourceBasePath == "":
		return "missing source address"
	default:
		return ""
	}
}

// handleSequenced processes an in-session request under the sequence rule.
func (g *Gateway) handleSequenced(ctx context.Context, env *protocol.Envelope) ([]byte, error) {
	sl, err := g.store.Get(env.SessionID)
	if err != nil {
		return nil, err
	}

	if err := env.Verify(sl.Snapshot().Counterpart()); err != nil {
		return nil, err
	}

	s := sl.Lock()
	defer sl.Unlock()

	if s.Role != protocol.RoleServer {
		return nil, fmt.Errorf("%s sent to the client of %s:\n%w", env.Kind, s.ID, protocol.ErrStage)
	}

	hash := env.Hash()

	if env.Sequence == s.Sequence {
		if bytes.Equal(hash, s.LastRequestHash) {
			return s.LastResponse, nil
		}
		return nil, fmt.Errorf("seq %d replayed with another payload:\n%w", env.Sequence, protocol.ErrSequence)
	}

	if env.Sequence != s.Sequence+1 {
		return nil, fmt.Errorf("seq %d after %d:\n%w", env.Sequence, s.Sequence, protocol.ErrSequence)
	}

	if s.Terminal() {
		reason := s.Reason
		if s.Outcome == protocol.OutcomeAborted {
			reason = protocol.ReasonPeerAborted
		}
		return g.refuse(s, env, hash, reason)
	}

	want := expected[env.Kind]
	if s.Stage != want.current || env.Stage != want.declared {
		g.log.Warn("stage violation",
			"session", s.ID,
			"kind", env.Kind,
			"declared", env.Stage,
			"stage", s.Stage,
		)
		return g.violate(ctx, s, env, hash)
	}

	p, err := env.Payload()
	if err != nil {
		return nil, err
	}

	switch p := p.(type) {
	case protocol.CommenceRequest:
		if p.AssetRef != s.AssetRef {
			return g.violate(ctx, s, env, hash)
		}
		return g.accept(s, env, hash, protocol.StageLocking, protocol.ReasonNone, protocol.CommenceResponse{RequestHash: hash})

	case protocol.PrepareRequest:
		if len(p.LockEvidence) == 0 {
			return g.violate(ctx, s, env, hash)
		}
		return g.accept(s, env, hash, protocol.StageAsserting, protocol.ReasonNone, protocol.ReadyResponse{RequestHash: hash})

	case protocol.FinalAssertion:
		if len(p.BurnEvidence) == 0 {
			return g.violate(ctx, s, env, hash)
		}
		return g.mint(ctx, s, env, hash)

	case protocol.CompleteRequest:
		return g.accept(s, env, hash, protocol.StageCommitted, protocol.ReasonCompleted, protocol.CompleteResponse{RequestHash: hash})

	default:
		return nil, fmt.Errorf("%s body:\n%w", env.Kind, protocol.ErrMalformed)
	}
}

// mint asserts the transfer on this ledger and acknowledges the final assertion.
func (g *Gateway) mint(ctx context.Context, s *session.Session, env *protocol.Envelope, hash []byte) ([]byte, error) {
	res, err := g.ledgerCall(ctx, s, ledger.OpAssert)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("mint interrupted:\n%w", protocol.ErrTransport)
		}

		return g.abortRefusing(ctx, s, env, hash, protocol.ReasonLedgerFailure)
	}

	e := NewEntry(s, journal.EntryAsserted)
	e.RawPayload = res.Evidence
	if err := g.Record(s, e); err != nil {
		return nil, err
	}

	return g.accept(s, env, hash, protocol.StageCommitting, protocol.ReasonNone, protocol.FinalAck{
		RequestHash:  hash,
		MintEvidence: res.Evidence,
	})
}

// accept logs an accepted request with its signed reply, then returns the reply.
func (g *Gateway) accept(s *session.Session, env *protocol.Envelope, hash []byte, next protocol.Stage, reason protocol.Reason, reply protocol.Payload) ([]byte, error) {
	_, data, err := protocol.Seal(g.signer, s.ID, env.Sequence, next, reply)
	if err != nil {
		return nil, err
	}

	e := NewEntry(s, journal.EntryMessageAccepted)
	e.Stage = next
	e.Sequence = env.Sequence
	e.Pending = env.Sequence
	e.Reason = reason
	e.PayloadHash = hash
	e.RawPayload = data

	if err := g.Record(s, e); err != nil {
		return nil, err
	}

	return data, nil
}

// violate aborts the session for a protocol violation and answers with an Error.
func (g *Gateway) violate(ctx context.Context, s *session.Session, env *protocol.Envelope, hash []byte) ([]byte, error) {
	return g.abortRefusing(ctx, s, env, hash, protocol.ReasonProtocolViolation)
}

// abortRefusing aborts the session in answer to env. The signed Error is
// logged with the ABORTED entry under the request's sequence, so a
// retransmission gets the same bytes back, before and after a restart.
func (g *Gateway) abortRefusing(ctx context.Context, s *session.Session, env *protocol.Envelope, hash []byte, reason protocol.Reason) ([]byte, error) {
	_, data, err := protocol.Seal(g.signer, s.ID, env.Sequence, protocol.StageAborted, protocol.Error{
		RequestHash: hash,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	e := NewEntry(s, journal.EntryAborted)
	e.Stage = protocol.StageAborted
	e.Reason = reason
	e.Sequence = env.Sequence
	e.Pending = env.Sequence
	e.PayloadHash = hash
	e.RawPayload = data

	if err := g.abort(ctx, s, e, false); err != nil {
		return nil, err
	}

	return data, nil
}

// refuse signs an Error reply for a request that reached a session that
// was already terminal. The reply depends only on the logged outcome.
func (g *Gateway) refuse(s *session.Session, env *protocol.Envelope, hash []byte, reason protocol.Reason) ([]byte, error) {
	_, data, err := protocol.Seal(g.signer, s.ID, env.Sequence, s.Stage, protocol.Error{
		RequestHash: hash,
		Reason:      reason,
	})
	return data, err
}

// handleRollback aborts a session on the peer's request and acknowledges it.
func (g *Gateway) handleRollback(ctx context.Context, env *protocol.Envelope) ([]byte, error) {
	sl, err := g.store.Get(env.SessionID)
	if err != nil {
		return nil, err
	}

	if err := env.Verify(sl.Snapshot().Counterpart()); err != nil {
		return nil, err
	}

	p, err := env.Payload()
	if err != nil {
		return nil, err
	}

	rb, ok := p.(protocol.Rollback)
	if !ok {
		return nil, fmt.Errorf("rollback body:\n%w", protocol.ErrMalformed)
	}

	g.stopDriver(env.SessionID)

	s := sl.Lock()
	defer sl.Unlock()

	if !s.Terminal() {
		g.log.Info("rollback received",
			"session", s.ID,
			"stage", s.Stage,
			"reason", rb.Reason,
		)

		if err := g.AbortLocked(ctx, s, protocol.ReasonPeerAborted, false); err != nil {
			return nil, err
		}
	}

	_, data, err := protocol.Seal(g.signer, s.ID, env.Sequence, s.Stage, protocol.RollbackAck{
		RequestHash: env.Hash(),
		Compensated: !s.NeedsCompensation() && !s.CompFailed,
		Reason:      s.Reason,
	})
	return data, err
}
