// Package gateway runs the transfer state machine: the client driver that
// pushes a session through its stages and the server handlers that answer it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/logger"
	"Ferry/internal/metrics"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
	"Ferry/internal/signer"
)

const (
	// DefaultMaxTimeout is the per-attempt deadline used when a request sets none.
	DefaultMaxTimeout = 5 * time.Second

	// DefaultMaxRetries is the number of attempts used when a request sets none.
	DefaultMaxRetries = 5
)

// Transport delivers one signed request to a peer gateway and returns its reply.
type Transport interface {
	Request(ctx context.Context, addr string, data []byte) ([]byte, error)
}

// Config holds everything a gateway needs.
type Config struct {
	Signer    signer.Signer    // Signer signs every outbound envelope
	Keyring   *signer.Keyring  // Keyring lists the peer gateways this one trusts
	Journal   *journal.Journal // Journal is the durable session log
	Store     *session.Store   // Store is the in-memory session index
	Ledger    ledger.Connector // Ledger is the chain this gateway fronts
	Transport Transport        // Transport reaches peer gateways
	Metrics   *metrics.Metrics // Metrics may be nil
	Log       *slog.Logger     // Log may be nil
	Now       func() time.Time // Now is the clock, time.Now when nil

	Addr             string   // Addr is this gateway's transport address
	SupportedLedgers []string // SupportedLedgers are the recipient ledgers accepted; empty accepts any

	MaxTimeout time.Duration // MaxTimeout is the default per-attempt deadline
	MaxRetries uint32        // MaxRetries is the default number of attempts
}

// Gateway is one side of any number of transfers.
type Gateway struct {
	cfg     Config
	signer  signer.Signer
	keyring *signer.Keyring
	journal *journal.Journal
	store   *session.Store
	ledger  ledger.Connector
	net     Transport
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	ctx    context.Context    // ctx bounds every driver and background send
	cancel context.CancelFunc // cancel stops them on Close
	wg     sync.WaitGroup

	mu      sync.Mutex
	drivers map[string]context.CancelFunc // drivers holds running client drivers
	done    map[string]chan struct{}      // done is closed when a session becomes terminal
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Signer == nil:
		return nil, fmt.Errorf("gateway requires a signer")
	case cfg.Keyring == nil:
		return nil, fmt.Errorf("gateway requires a keyring")
	case cfg.Journal == nil:
		return nil, fmt.Errorf("gateway requires a journal")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("gateway requires a ledger connector")
	case cfg.Transport == nil:
		return nil, fmt.Errorf("gateway requires a transport")
	}

	if cfg.Store == nil {
		cfg.Store = session.NewStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Gateway{
		cfg:     cfg,
		signer:  cfg.Signer,
		keyring: cfg.Keyring,
		journal: cfg.Journal,
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		net:     cfg.Transport,
		metrics: cfg.Metrics,
		log:     logger.OrDiscard(cfg.Log),
		now:     cfg.Now,
		ctx:     ctx,
		cancel:  cancel,
		drivers: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
	}, nil
}

// Close stops every driver and background send and waits for them.
// Sessions are left as logged; recovery resumes them on the next start.
func (g *Gateway) Close() {
	g.cancel()
	g.wg.Wait()
}

// PublicKey returns this gateway's verification key.
func (g *Gateway) PublicKey() []byte {
	return g.signer.PublicKey()
}

// Signer returns the gateway's signer.
func (g *Gateway) Signer() signer.Signer {
	return g.signer
}

// Store returns the session store.
func (g *Gateway) Store() *session.Store {
	return g.store
}

// Journal returns the session log.
func (g *Gateway) Journal() *journal.Journal {
	return g.journal
}

// Metrics returns the gateway metrics, possibly nil.
func (g *Gateway) Metrics() *metrics.Metrics {
	return g.metrics
}

// Logger returns the gateway logger.
func (g *Gateway) Logger() *slog.Logger {
	return g.log
}

// Session returns a snapshot of one session.
func (g *Gateway) Session(id string) (*session.Session, error) {
	sl, err := g.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sl.Snapshot(), nil
}

// Sessions returns snapshots of every session, oldest first.
func (g *Gateway) Sessions() []*session.Session {
	return g.store.Snapshots()
}

// Wait blocks until the session is terminal or ctx ends, and returns its final snapshot.
func (g *Gateway) Wait(ctx context.Context, id string) (*session.Session, error) {
	g.mu.Lock()
	ch, ok := g.done[id]
	g.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%s:\n%w", id, protocol.ErrUnknownSession)
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sl, err := g.store.Get(id)
	if err != nil {
		return nil, err
	}

	// The channel closes while the writer still holds the lock; taking it
	// waits for compensation and the published snapshot.
	s := sl.Lock()
	out := s.Clone()
	sl.Unlock()

	return out, nil
}

// Restore registers a session rebuilt from the log. Client sessions are not
// driven until Resume is called.
func (g *Gateway) Restore(s *session.Session) *session.Slot {
	sl := g.store.Put(s)
	g.track(s.ID, s.Terminal())

	if !s.Terminal() {
		g.metrics.SessionStarted(s.Role.String())
	}

	return sl
}

// Resume starts the driver of a non-terminal client session.
// It reports false when the session needs no driver or one is already running.
func (g *Gateway) Resume(id string) bool {
	sl, err := g.store.Get(id)
	if err != nil {
		return false
	}

	snap := sl.Snapshot()
	if snap.Role != protocol.RoleClient || snap.Terminal() {
		return false
	}

	return g.launch(id, sl)
}

// Abort ends a session on operator request: the session is aborted,
// compensated, and the peer is told with a Rollback.
func (g *Gateway) Abort(ctx context.Context, id string) (*session.Session, error) {
	sl, err := g.store.Get(id)
	if err != nil {
		return nil, err
	}

	g.stopDriver(id)

	s := sl.Lock()
	defer sl.Unlock()

	if s.Terminal() {
		return nil, fmt.Errorf("%s is %s:\n%w", id, s.Stage, protocol.ErrSessionClosed)
	}

	if err := g.AbortLocked(ctx, s, protocol.ReasonOperatorAbort, true); err != nil {
		return nil, err
	}

	return s.Clone(), nil
}

// Counterpart returns the keyring entry for a verification key.
func (g *Gateway) Counterpart(pubkey []byte) (signer.Peer, bool) {
	return g.keyring.Lookup(pubkey)
}

// supports reports whether name may be a recipient ledger of this gateway.
func (g *Gateway) supports(name string) bool {
	return len(g.cfg.SupportedLedgers) == 0 || slices.Contains(g.cfg.SupportedLedgers, name)
}

// track registers the done channel of a session.
func (g *Gateway) track(id string, terminal bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.done[id]; ok {
		return
	}

	ch := make(chan struct{})
	if terminal {
		close(ch)
	}
	g.done[id] = ch
}

// finish closes the done channel of a session that just became terminal.
func (g *Gateway) finish(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.done[id]
	if !ok {
		ch = make(chan struct{})
		g.done[id] = ch
	}

	select {
	case <-ch:
	default:
		close(ch)
	}
}

// launch starts the driver goroutine of a client session.
func (g *Gateway) launch(id string, sl *session.Slot) bool {
	g.mu.Lock()
	if _, running := g.drivers[id]; running || g.ctx.Err() != nil {
		g.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.drivers[id] = cancel
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.release(id)

		g.drive(ctx, sl)
	}()

	return true
}

// release forgets a finished driver.
func (g *Gateway) release(id string) {
	g.mu.Lock()
	cancel := g.drivers[id]
	delete(g.drivers, id)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// stopDriver cancels the driver of a session, if any, so the caller can
// take the session lock without waiting out a send.
func (g *Gateway) stopDriver(id string) {
	g.mu.Lock()
	cancel := g.drivers[id]
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Driving reports whether a client driver runs for the session.
func (g *Gateway) Driving(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.drivers[id]
	return ok
}

// policy returns the retry policy of a session, falling back to the gateway defaults.
func (g *Gateway) policy(s *session.Session) (time.Duration, uint32) {
	timeout, retries := s.MaxTimeout, s.MaxRetries
	if timeout <= 0 {
		timeout = g.cfg.MaxTimeout
	}
	if retries == 0 {
		retries = g.cfg.MaxRetries
	}
	return timeout, retries
}
