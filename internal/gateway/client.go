package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
	"Ferry/internal/signer"
)

// ErrUnroutable is returned when no known peer gateway can receive a transfer.
var ErrUnroutable = errors.New("no route to recipient gateway")

// TransferRequest asks this gateway to move an asset off its ledger.
type TransferRequest struct {
	AssetRef        string `json:"asset_ref"`
	SourceLedger    string `json:"source_ledger"`
	RecipientLedger string `json:"recipient_ledger"`
	Originator      string `json:"originator"`
	Beneficiary     string `json:"beneficiary"`

	// Recipient names the peer gateway; when empty the peer fronting
	// RecipientLedger is used.
	Recipient string `json:"recipient,omitempty"`

	MaxTimeout time.Duration `json:"max_timeout,omitempty"`
	MaxRetries uint32        `json:"max_retries,omitempty"`
}

// Start opens a client session: it signs the proposal, logs it and hands
// the session to a driver goroutine. The returned snapshot is PROPOSED.
func (g *Gateway) Start(ctx context.Context, req TransferRequest) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.AssetRef == "" || req.RecipientLedger == "" {
		return nil, fmt.Errorf("asset_ref and recipient_ledger are required")
	}

	peer, err := g.recipient(req)
	if err != nil {
		return nil, err
	}

	pub, _, err := peer.Key()
	if err != nil {
		return nil, err
	}

	timeout, retries := req.MaxTimeout, req.MaxRetries
	if timeout <= 0 {
		timeout = g.cfg.MaxTimeout
	}
	if retries == 0 {
		retries = g.cfg.MaxRetries
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session id:\n%w", err)
	}

	proposal := protocol.ProposalRequest{
		AssetRef:          req.AssetRef,
		SourceLedger:      req.SourceLedger,
		RecipientLedger:   req.RecipientLedger,
		Originator:        req.Originator,
		Beneficiary:       req.Beneficiary,
		SourceBasePath:    g.cfg.Addr,
		RecipientBasePath: peer.BasePath,
		SourcePubkey:      g.signer.PublicKey(),
		RecipientPubkey:   pub,
		MaxTimeout:        timeout,
		MaxRetries:        retries,
	}

	env, data, err := protocol.Seal(g.signer, id.String(), 1, protocol.StageInit, proposal)
	if err != nil {
		return nil, err
	}

	s := &session.Session{ID: id.String(), Role: protocol.RoleClient}

	sl, err := g.store.CreateLocked(s)
	if err != nil {
		return nil, err
	}

	e := NewEntry(s, journal.EntryProposalSent)
	e.Stage = protocol.StageProposed
	e.Pending = 1
	e.PayloadHash = env.Hash()
	e.RawPayload = data

	if err := g.Record(s, e); err != nil {
		g.store.Drop(s.ID)
		sl.Unlock()
		return nil, err
	}

	g.track(s.ID, false)
	g.metrics.SessionStarted(s.Role.String())
	sl.Unlock()

	g.log.Info("transfer proposed",
		"session", s.ID,
		"peer", peer.Name,
		"asset", req.AssetRef,
		"ledger", req.RecipientLedger,
	)

	g.launch(s.ID, sl)

	return sl.Snapshot(), nil
}

// recipient resolves the peer gateway a transfer goes to.
func (g *Gateway) recipient(req TransferRequest) (signer.Peer, error) {
	if req.Recipient != "" {
		p, ok := g.keyring.ByName(req.Recipient)
		if !ok {
			return signer.Peer{}, fmt.Errorf("unknown peer gateway %q:\n%w", req.Recipient, ErrUnroutable)
		}
		return p, nil
	}

	p, ok := g.keyring.ForLedger(req.RecipientLedger)
	if !ok {
		return signer.Peer{}, fmt.Errorf("no peer gateway fronts ledger %q:\n%w", req.RecipientLedger, ErrUnroutable)
	}
	return p, nil
}

// drive pushes a client session forward one step per lock hold until it
// is terminal or ctx ends. A cancelled driver leaves the session as logged.
func (g *Gateway) drive(ctx context.Context, sl *session.Slot) {
	for {
		s := sl.Lock()

		if s.Terminal() || ctx.Err() != nil {
			sl.Unlock()
			return
		}

		if err := g.step(ctx, s); err != nil && ctx.Err() == nil {
			g.fail(s, err)

			if !s.Terminal() {
				// The abort itself could not be logged; recovery takes over.
				sl.Unlock()
				return
			}
		}

		sl.Unlock()
	}
}

// fail aborts a session after a step error. A peer that answered with an
// Error already knows, so it gets no Rollback.
func (g *Gateway) fail(s *session.Session, err error) {
	var remote *protocol.RemoteError
	notify := !errors.As(err, &remote)

	reason := protocol.ReasonFor(err)

	g.log.Warn("session step failed",
		"session", s.ID,
		"stage", s.Stage,
		"reason", reason,
		"error", err,
	)

	if s.Terminal() {
		return
	}

	if err := g.AbortLocked(g.ctx, s, reason, notify); err != nil {
		g.log.Error("abort failed",
			"session", s.ID,
			"error", err,
		)
	}
}

// step performs the next client action: await the pending reply if a
// request is outstanding, otherwise act on the current stage.
func (g *Gateway) step(ctx context.Context, s *session.Session) error {
	if s.Pending > s.Sequence {
		return g.await(ctx, s)
	}

	switch s.Stage {
	case protocol.StageCommencing:
		return g.sendNext(s, journal.EntryCommenceSent, s.Stage, protocol.CommenceRequest{AssetRef: s.AssetRef})

	case protocol.StageLocking:
		res, err := g.ledgerCall(ctx, s, ledger.OpLock)
		if err != nil {
			return err
		}

		e := NewEntry(s, journal.EntryLocked)
		e.Stage = protocol.StagePreparing
		e.RawPayload = res.Evidence
		return g.Record(s, e)

	case protocol.StagePreparing:
		return g.sendNext(s, journal.EntryPrepareSent, s.Stage, protocol.PrepareRequest{LockEvidence: s.LockEvidence})

	case protocol.StageAsserting:
		res, err := g.ledgerCall(ctx, s, ledger.OpAssert)
		if err != nil {
			return err
		}
		return g.sendNext(s, journal.EntryAsserted, s.Stage, protocol.FinalAssertion{BurnEvidence: res.Evidence})

	case protocol.StageCommitting:
		return g.sendNext(s, journal.EntryCompleteSent, s.Stage, protocol.CompleteRequest{})

	default:
		return fmt.Errorf("no client step from %s:\n%w", s.Stage, protocol.ErrStage)
	}
}

// sendNext signs the next request and logs it as pending. The next step
// sends it, so the bytes on the wire are always the logged bytes.
func (g *Gateway) sendNext(s *session.Session, t journal.EntryType, stage protocol.Stage, p protocol.Payload) error {
	seq := s.Sequence + 1

	env, data, err := protocol.Seal(g.signer, s.ID, seq, stage, p)
	if err != nil {
		return err
	}

	e := NewEntry(s, t)
	e.Pending = seq
	e.PayloadHash = env.Hash()
	e.RawPayload = data

	return g.Record(s, e)
}

// await sends the pending request and applies its reply.
func (g *Gateway) await(ctx context.Context, s *session.Session) error {
	req, err := protocol.Decode(s.PendingRequest)
	if err != nil {
		return fmt.Errorf("pending request of %s:\n%w", s.ID, err)
	}

	reply, raw, err := g.exchange(ctx, s, req, s.PendingRequest)
	if err != nil {
		if s.Stage == protocol.StageCommitting && errors.Is(err, protocol.ErrTransport) {
			// Both ledgers are final; only the close went unanswered.
			g.log.Warn("complete unanswered, committing",
				"session", s.ID,
				"error", err,
			)

			e := NewEntry(s, journal.EntryCommitted)
			e.Stage = protocol.StageCommitted
			e.Reason = protocol.ReasonCompleted
			return g.Record(s, e)
		}

		if s.Stage == protocol.StageProposed && errors.Is(err, protocol.ErrTransport) {
			e := NewEntry(s, journal.EntryRejected)
			e.Stage = protocol.StageRejected
			e.Reason = protocol.ReasonTimeout
			if err := g.Record(s, e); err != nil {
				return err
			}

			// The receipt may have been lost after the peer accepted.
			g.sendRollback(s.Clone())
			return nil
		}

		return err
	}

	var e journal.Entry

	switch p := reply.(type) {
	case protocol.ProposalReceipt:
		if !p.Accept {
			g.log.Info("proposal rejected",
				"session", s.ID,
				"reason", p.Reason,
			)

			e = NewEntry(s, journal.EntryRejected)
			e.Stage = protocol.StageRejected
			e.Reason = protocol.ReasonPeerRejected
			break
		}

		e = NewEntry(s, journal.EntryProposalAccepted)
		e.Stage = protocol.StageCommencing

	case protocol.CommenceResponse:
		e = NewEntry(s, journal.EntryCommenced)
		e.Stage = protocol.StageLocking

	case protocol.ReadyResponse:
		e = NewEntry(s, journal.EntryPrepared)
		e.Stage = protocol.StageAsserting

	case protocol.FinalAck:
		e = NewEntry(s, journal.EntryAssertAcked)
		e.Stage = protocol.StageCommitting

	case protocol.CompleteResponse:
		e = NewEntry(s, journal.EntryCommitted)
		e.Stage = protocol.StageCommitted
		e.Reason = protocol.ReasonCompleted

	default:
		return fmt.Errorf("unexpected %s:\n%w", reply.Kind(), protocol.ErrStage)
	}

	e.Sequence = s.Pending
	e.PayloadHash = req.Hash()
	e.RawPayload = raw

	return g.Record(s, e)
}

// exchange sends data, the encoding of req, under the session's retry
// policy and returns the first valid reply. Invalid replies are dropped and
// count as a lost attempt; a signed Error reply ends the exchange.
func (g *Gateway) exchange(ctx context.Context, s *session.Session, req *protocol.Envelope, data []byte) (protocol.Payload, []byte, error) {
	timeout, retries := g.policy(s)
	hash := req.Hash()
	addr := s.PeerAddr()

	for attempt := uint32(1); ; attempt++ {
		deadline := time.Now().Add(timeout)
		cctx, cancel := context.WithDeadline(ctx, deadline)
		raw, err := g.net.Request(cctx, addr, data)
		cancel()

		if err == nil {
			p, verr := g.checkReply(s, req, hash, raw)
			if verr == nil {
				return p, raw, nil
			}

			var remote *protocol.RemoteError
			if errors.As(verr, &remote) {
				return nil, nil, verr
			}

			g.metrics.Drop(string(protocol.ReasonFor(verr)))
			g.log.Warn("reply dropped",
				"session", s.ID,
				"kind", req.Kind,
				"seq", req.Sequence,
				"error", verr,
			)
			err = verr
		}

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		if attempt >= retries {
			return nil, nil, fmt.Errorf("%s seq %d to %s: no reply after %d attempts: %v:\n%w",
				req.Kind, req.Sequence, addr, attempt, err, protocol.ErrTransport)
		}

		g.metrics.Retry(req.Kind.String())
		g.log.Debug("resending",
			"session", s.ID,
			"kind", req.Kind,
			"seq", req.Sequence,
			"attempt", attempt+1,
			"error", err,
		)

		// A fast failure still waits out the attempt's deadline.
		if wait := time.Until(deadline); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, nil, ctx.Err()
			}
		}
	}
}

// checkReply validates a reply against the request it answers.
func (g *Gateway) checkReply(s *session.Session, req *protocol.Envelope, hash, raw []byte) (protocol.Payload, error) {
	env, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}

	if env.SessionID != s.ID {
		return nil, fmt.Errorf("reply for %s:\n%w", env.SessionID, protocol.ErrUnknownSession)
	}

	if err := env.Verify(s.Counterpart()); err != nil {
		return nil, err
	}

	if env.Sequence != req.Sequence {
		return nil, fmt.Errorf("reply seq %d to request %d:\n%w", env.Sequence, req.Sequence, protocol.ErrSequence)
	}

	p, err := env.Payload()
	if err != nil {
		return nil, err
	}

	if perr, ok := p.(protocol.Error); ok {
		if !bytes.Equal(perr.RequestHash, hash) {
			return nil, fmt.Errorf("error reply for another request:\n%w", protocol.ErrSequence)
		}
		return nil, perr.Err()
	}

	if env.Kind != protocol.ResponseKind(req.Kind) {
		return nil, fmt.Errorf("%s answering %s:\n%w", env.Kind, req.Kind, protocol.ErrStage)
	}

	r, ok := p.(protocol.Response)
	if !ok || !bytes.Equal(r.Answers(), hash) {
		return nil, fmt.Errorf("%s answers another request:\n%w", env.Kind, protocol.ErrSequence)
	}

	return p, nil
}

// Call sends one signed payload for a session and returns the verified
// reply. It shares the retry policy of the driver but logs nothing; the
// caller holds the session lock.
func (g *Gateway) Call(ctx context.Context, s *session.Session, p protocol.Payload) (protocol.Payload, []byte, error) {
	env, data, err := protocol.Seal(g.signer, s.ID, s.Sequence, s.Stage, p)
	if err != nil {
		return nil, nil, err
	}
	return g.exchange(ctx, s, env, data)
}
