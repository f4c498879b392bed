package gateway

import (
	"context"
	"fmt"
	"time"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

// NewEntry starts a log entry that keeps the session's current position.
func NewEntry(s *session.Session, t journal.EntryType) journal.Entry {
	return journal.Entry{
		SessionID: s.ID,
		Type:      t,
		Role:      s.Role,
		Stage:     s.Stage,
		Sequence:  s.Sequence,
		Pending:   s.Pending,
		Outcome:   s.Outcome,
		Reason:    s.Reason,
	}
}

// Record durably appends e and folds it into s. The entry is checked
// against a copy first so a refused transition leaves nothing in the log.
// The caller holds the session lock.
func (g *Gateway) Record(s *session.Session, e journal.Entry) error {
	if e.Outcome == protocol.OutcomeInProgress {
		e.Outcome = protocol.OutcomeOf(e.Stage)
	}

	if err := s.Clone().Apply(e); err != nil {
		return fmt.Errorf("refuse %s for %s:\n%w", e.Type, e.SessionID, err)
	}

	prev, since, wasTerminal := s.Stage, s.LastActivity, s.Terminal()

	appended, err := g.journal.Append(e)
	if err != nil {
		return fmt.Errorf("log %s for %s:\n%w", e.Type, e.SessionID, err)
	}

	if err := s.Apply(appended); err != nil {
		return fmt.Errorf("apply %s for %s:\n%w", e.Type, e.SessionID, err)
	}

	role := s.Role.String()

	if prev != s.Stage && !since.IsZero() {
		g.metrics.Stage(role, prev.String(), s.LastActivity.Sub(since))
	}

	if s.Terminal() && !wasTerminal {
		g.metrics.SessionFinished(role, s.Outcome.String(), string(s.Reason))
		g.finish(s.ID)

		g.log.Info("session finished",
			"session", s.ID,
			"role", role,
			"stage", s.Stage,
			"reason", s.Reason,
		)
	}

	return nil
}

// ledgerCall runs one connector operation under the session's retry policy.
// Transport failures are retried; a refusal is final.
func (g *Gateway) ledgerCall(ctx context.Context, s *session.Session, op ledger.Op) (ledger.Result, error) {
	timeout, retries := g.policy(s)

	call := g.ledger.LockAsset
	switch op {
	case ledger.OpAssert:
		call = g.ledger.AssertCommit
	case ledger.OpCompensate:
		call = g.ledger.Compensate
	}

	for attempt := uint32(1); ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		res, err := call(cctx, s.ID, s.AssetRef)
		cancel()

		g.metrics.LedgerCall(string(op), time.Since(start))

		if err == nil {
			if !res.OK {
				return res, fmt.Errorf("%s refused: %s:\n%w", op, res.Reason, protocol.ErrLedger)
			}
			return res, nil
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if attempt >= retries {
			return res, fmt.Errorf("%s failed after %d attempts: %v:\n%w", op, attempt, err, protocol.ErrLedger)
		}

		g.metrics.Retry(string(op))
		g.log.Warn("ledger call failed, retrying",
			"session", s.ID,
			"op", op,
			"attempt", attempt,
			"error", err,
		)
	}
}
