// Package recovery rebuilds sessions from the log after a restart and
// settles each open session with its counterpart.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/logger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

const (
	// defaultConcurrency bounds the sessions reconciled at once.
	defaultConcurrency = 16

	// defaultWatchInterval is how often the watchdog looks for stalled sessions.
	defaultWatchInterval = 10 * time.Second
)

// Config configures a Coordinator.
type Config struct {
	Gateway       *gateway.Gateway // Gateway owns the sessions being recovered
	Mirror        *journal.Mirror  // Mirror stores the counterpart's signed views
	Log           *slog.Logger     // Log may be nil
	Concurrency   int              // Concurrency bounds parallel reconciliations
	WatchInterval time.Duration    // WatchInterval is the stall scan period
	Now           func() time.Time // Now is the clock, time.Now when nil
}

// Coordinator runs recovery at boot and from the stall watchdog.
type Coordinator struct {
	gw       *gateway.Gateway
	journal  *journal.Journal
	store    *session.Store
	mirror   *journal.Mirror
	log      *slog.Logger
	limit    int
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	replayed atomic.Bool // replayed is set once the store holds every logged session
	boot     *bootState  // boot is what Replay left for Settle
}

// bootState carries the sessions restored by Replay until Settle handles them.
type bootState struct {
	report     Report
	open       []string
	compensate []string
}

// ErrReplaying is returned for inbound messages that arrive before the
// session store has been rebuilt. Senders treat it as a lost message and retry.
var ErrReplaying = errors.New("session log replay in progress")

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("recovery requires a gateway")
	}
	if cfg.Mirror == nil {
		return nil, fmt.Errorf("recovery requires a mirror")
	}

	c := &Coordinator{
		gw:       cfg.Gateway,
		journal:  cfg.Gateway.Journal(),
		store:    cfg.Gateway.Store(),
		mirror:   cfg.Mirror,
		log:      logger.OrDiscard(cfg.Log),
		limit:    cfg.Concurrency,
		interval: cfg.WatchInterval,
		now:      cfg.Now,
	}

	if c.limit <= 0 {
		c.limit = defaultConcurrency
	}
	if c.interval <= 0 {
		c.interval = defaultWatchInterval
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// Report summarizes one recovery pass.
type Report struct {
	Sessions  int              // Sessions is the number of sessions replayed
	Open      int              // Open is the number of non-terminal sessions reconciled
	Corrupt   []string         // Corrupt lists sessions whose log could not be replayed
	Decisions map[string]Decision
}

// Recover rebuilds the session store from the journal if Replay has not
// run yet, then settles every restored session with Settle.
func (c *Coordinator) Recover(ctx context.Context) (Report, error) {
	if !c.replayed.Load() {
		if _, err := c.Replay(); err != nil {
			return Report{}, err
		}
	}
	return c.Settle(ctx)
}

// Replay rebuilds the session store from the journal without talking to
// any peer. It runs before the transport accepts requests; until it
// returns, Ready reports false and inbound messages are refused.
func (c *Coordinator) Replay() (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replayed.Load() {
		return Report{}, fmt.Errorf("session log already replayed")
	}

	start := time.Now()
	boot := &bootState{report: Report{Decisions: make(map[string]Decision)}}

	ids, err := c.journal.Sessions()
	if err != nil {
		return boot.report, fmt.Errorf("list sessions:\n%w", err)
	}

	for _, id := range ids {
		entries, err := c.journal.Entries(id)
		if err != nil {
			return boot.report, fmt.Errorf("read %s:\n%w", id, err)
		}

		s, err := session.Replay(entries)
		if err != nil {
			c.log.Error("session log unreadable, operator action required",
				"session", id,
				"error", err,
			)
			c.gw.Metrics().Anomaly()
			boot.report.Corrupt = append(boot.report.Corrupt, id)
			continue
		}

		c.gw.Restore(s)
		boot.report.Sessions++

		switch {
		case !s.Terminal():
			boot.open = append(boot.open, id)
		case s.NeedsCompensation():
			boot.compensate = append(boot.compensate, id)
		}
	}

	boot.report.Open = len(boot.open)
	c.boot = boot
	c.replayed.Store(true)

	c.log.Info("session log replayed",
		"sessions", boot.report.Sessions,
		"open", boot.report.Open,
		"corrupt", len(boot.report.Corrupt),
		logger.Timed(start),
	)

	return boot.report, nil
}

// Ready reports whether the session store has been rebuilt from the log.
func (c *Coordinator) Ready() bool {
	return c.replayed.Load()
}

// Settle retries pending compensations and reconciles every open session
// restored by Replay with its counterpart. It runs once; later calls
// return an empty report.
func (c *Coordinator) Settle(ctx context.Context) (Report, error) {
	c.mu.Lock()
	boot := c.boot
	c.boot = nil
	c.mu.Unlock()

	if boot == nil {
		return Report{Decisions: make(map[string]Decision)}, nil
	}

	start := time.Now()
	rep := boot.report

	for _, id := range boot.compensate {
		c.compensate(ctx, id)
	}

	decisions, err := c.reconcileAll(ctx, boot.open, true)
	for id, d := range decisions {
		rep.Decisions[id] = d
	}

	c.log.Info("recovery finished",
		"sessions", rep.Sessions,
		"open", rep.Open,
		"corrupt", len(rep.Corrupt),
		logger.Timed(start),
	)

	return rep, err
}

// compensate retries the compensation of a terminal session.
func (c *Coordinator) compensate(ctx context.Context, id string) {
	sl, err := c.store.Get(id)
	if err != nil {
		return
	}

	s := sl.Lock()
	defer sl.Unlock()

	c.gw.Compensate(ctx, s)
}

// reconcileAll reconciles sessions concurrently. With wait false a session
// whose lock is held is skipped rather than waited for. One failing session
// does not stop the others.
func (c *Coordinator) reconcileAll(ctx context.Context, ids []string, wait bool) (map[string]Decision, error) {
	results := make([]Decision, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.limit)

	for i, id := range ids {
		g.Go(func() error {
			d, err := c.reconcile(ctx, id, wait)
			if err != nil && !errors.Is(err, errBusy) {
				c.log.Error("reconcile failed",
					"session", id,
					"error", err,
				)
				errs[i] = fmt.Errorf("reconcile %s:\n%w", id, err)
			}
			results[i] = d
			return nil
		})
	}

	_ = g.Wait()

	out := make(map[string]Decision, len(ids))
	for i, id := range ids {
		if results[i] != 0 {
			out[id] = results[i]
		}
	}

	return out, errors.Join(errs...)
}

// errBusy means the session was locked and the caller did not want to wait.
var errBusy = errors.New("session busy")

// reconcile exchanges views for one open session and acts on the decision.
func (c *Coordinator) reconcile(ctx context.Context, id string, wait bool) (Decision, error) {
	sl, err := c.store.Get(id)
	if err != nil {
		return 0, err
	}

	var s *session.Session
	if wait {
		s = sl.Lock()
	} else {
		var ok bool
		if s, ok = sl.TryLock(); !ok {
			return 0, errBusy
		}
	}

	d, err := c.settle(ctx, s, wait)
	sl.Unlock()

	if err != nil {
		return d, err
	}

	if d == Resume {
		c.gw.Resume(id)
	}

	return d, nil
}

// settle runs the recovery exchange for a locked session.
func (c *Coordinator) settle(ctx context.Context, s *session.Session, boot bool) (Decision, error) {
	if s.Terminal() {
		return 0, nil
	}

	if boot {
		last, ok, err := c.journal.Last(s.ID)
		if err != nil {
			return 0, err
		}
		if ok && last.Type == journal.EntryRecoveryCheckpoint {
			c.log.Debug("session already reconciled",
				"session", s.ID,
				"stage", s.Stage,
			)
			return Resume, nil
		}
	}

	self := s.View()

	reply, raw, err := c.gw.Call(ctx, s, protocol.RecoverUpdate{View: self})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return c.unreachable(ctx, s, err)
	}

	ack, ok := reply.(protocol.RecoverUpdateAck)
	if !ok {
		return 0, fmt.Errorf("recover reply %s:\n%w", reply.Kind(), protocol.ErrMalformed)
	}

	if env, err := protocol.Decode(raw); err == nil {
		if err := c.mirror.Put(env); err != nil {
			c.log.Warn("mirror recover ack",
				"session", s.ID,
				"error", err,
			)
		}
	}

	d := Reconcile(s.Role, self, ack.View)
	c.gw.Metrics().Recovery(d.String())

	c.log.Info("session reconciled",
		"session", s.ID,
		"role", s.Role,
		"stage", s.Stage,
		"seq", s.Sequence,
		"peer_stage", ack.View.Stage,
		"peer_seq", ack.View.Sequence,
		"decision", d,
	)

	if err := c.apply(ctx, s, d, ack.View); err != nil {
		return d, err
	}

	if err := c.gw.Record(s, gateway.NewEntry(s, journal.EntryRecoveryCheckpoint)); err != nil {
		return d, err
	}

	return d, nil
}

// apply carries out a reconcile decision.
func (c *Coordinator) apply(ctx context.Context, s *session.Session, d Decision, peer protocol.View) error {
	switch d {
	case Resume:
		return nil

	case Follow:
		if peer.Stage == protocol.StageRejected && s.Stage == protocol.StageProposed {
			e := gateway.NewEntry(s, journal.EntryRejected)
			e.Stage = protocol.StageRejected
			e.Sequence = s.Pending
			e.Reason = protocol.ReasonPeerRejected
			return c.gw.Record(s, e)
		}
		return c.gw.AbortLocked(ctx, s, protocol.ReasonPeerAborted, false)

	case Adopt:
		e := gateway.NewEntry(s, journal.EntryCommitted)
		e.Stage = protocol.StageCommitted
		e.Reason = protocol.ReasonCompleted
		return c.gw.Record(s, e)

	case Diverge:
		c.gw.Metrics().Anomaly()
		c.log.Error("recovery divergence, operator action required",
			"session", s.ID,
			"role", s.Role,
			"stage", s.Stage,
			"seq", s.Sequence,
			"pending", s.Pending,
			"peer_stage", peer.Stage,
			"peer_seq", peer.Sequence,
		)
		return c.gw.AbortLocked(ctx, s, protocol.ReasonRecoveryDivergence, true)

	default:
		return fmt.Errorf("unknown decision %d", d)
	}
}

// unreachable aborts a session whose counterpart never answered recovery.
func (c *Coordinator) unreachable(ctx context.Context, s *session.Session, err error) (Decision, error) {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		c.log.Warn("peer refused recovery",
			"session", s.ID,
			"reason", remote.Reason,
		)
		return Follow, c.gw.AbortLocked(ctx, s, protocol.ReasonFor(err), false)
	}

	if !errors.Is(err, protocol.ErrTransport) {
		return 0, err
	}

	c.log.Error("counterpart unreachable during recovery, operator action required",
		"session", s.ID,
		"peer", s.PeerAddr(),
		"error", err,
	)
	c.gw.Metrics().Recovery("unreachable")

	return 0, c.gw.AbortLocked(ctx, s, protocol.ReasonTimeout, false)
}
