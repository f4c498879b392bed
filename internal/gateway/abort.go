package gateway

import (
	"context"
	"fmt"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

// AbortLocked moves a live session to ABORTED, undoes its irreversible
// actions and, when notify is set, tells the peer with a Rollback sent
// after the caller releases the lock. The caller holds the session lock.
func (g *Gateway) AbortLocked(ctx context.Context, s *session.Session, reason protocol.Reason, notify bool) error {
	e := NewEntry(s, journal.EntryAborted)
	e.Stage = protocol.StageAborted
	e.Reason = reason

	return g.abort(ctx, s, e, notify)
}

// abort records the ABORTED entry e, then compensates and notifies.
func (g *Gateway) abort(ctx context.Context, s *session.Session, e journal.Entry, notify bool) error {
	if s.Terminal() {
		return fmt.Errorf("%s is %s:\n%w", s.ID, s.Stage, protocol.ErrSessionClosed)
	}

	prev := s.Stage

	if err := g.Record(s, e); err != nil {
		return err
	}

	g.log.Warn("session aborted",
		"session", s.ID,
		"role", s.Role,
		"stage", prev,
		"reason", e.Reason,
	)

	if s.Locked || s.Asserted || touchedLedger(s.Role, prev) {
		g.compensate(ctx, s)
	}

	if notify {
		g.sendRollback(s.Clone())
	}

	return nil
}

// touchedLedger reports whether a ledger call may have run in stage
// without its result reaching the log.
func touchedLedger(role protocol.Role, stage protocol.Stage) bool {
	if role == protocol.RoleClient {
		return stage == protocol.StageLocking || stage == protocol.StageAsserting
	}
	return stage == protocol.StageAsserting
}

// Compensate retries the compensation of an aborted session that still
// holds an irreversible action. The caller holds the session lock.
func (g *Gateway) Compensate(ctx context.Context, s *session.Session) {
	if s.NeedsCompensation() {
		g.compensate(ctx, s)
	}
}

// compensate undoes the session's ledger actions and logs the result.
// A failure is logged and counted, not retried beyond the session policy.
func (g *Gateway) compensate(ctx context.Context, s *session.Session) {
	if ctx.Err() != nil {
		ctx = g.ctx
	}

	res, err := g.ledgerCall(ctx, s, ledger.OpCompensate)

	t := journal.EntryCompensated
	if err != nil {
		t = journal.EntryCompensationFailed
	}

	e := NewEntry(s, t)
	e.RawPayload = res.Evidence

	if rerr := g.Record(s, e); rerr != nil {
		g.log.Error("log compensation",
			"session", s.ID,
			"error", rerr,
		)
	}

	g.metrics.Compensation(err == nil)

	if err != nil {
		g.log.Error("compensation failed, operator action required",
			"session", s.ID,
			"asset", s.AssetRef,
			"error", err,
		)
		return
	}

	g.log.Info("compensated",
		"session", s.ID,
		"asset", s.AssetRef,
	)
}

// sendRollback tells the peer a session is aborted. It runs in the
// background with a single attempt; the peer's own recovery covers a loss.
func (g *Gateway) sendRollback(s *session.Session) {
	if s.PeerAddr() == "" {
		return
	}

	env, data, err := protocol.Seal(g.signer, s.ID, s.Sequence, s.Stage, protocol.Rollback{Reason: s.Reason})
	if err != nil {
		g.log.Error("seal rollback",
			"session", s.ID,
			"error", err,
		)
		return
	}

	timeout, _ := g.policy(s)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(g.ctx, timeout)
		defer cancel()

		raw, err := g.net.Request(ctx, s.PeerAddr(), data)
		if err == nil {
			_, err = g.checkReply(s, env, env.Hash(), raw)
		}

		if err != nil {
			g.log.Debug("rollback not acknowledged",
				"session", s.ID,
				"peer", s.PeerAddr(),
				"error", err,
			)
			return
		}

		g.log.Debug("rollback acknowledged",
			"session", s.ID,
			"peer", s.PeerAddr(),
		)
	}()
}
