package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"Ferry/internal/api"
	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/metrics"
	"Ferry/internal/network"
	"Ferry/internal/recovery"
	"Ferry/internal/rpc"
	"Ferry/internal/signer"
	"Ferry/internal/storage"
)

// Daemon is a running gateway process.
type Daemon struct {
	cfg *Config
	log *slog.Logger

	storage   *storage.Storage      // storage holds the journal and mirror
	journal   *journal.Journal      // journal is the session log
	mirror    *journal.Mirror       // mirror keeps the counterparts' signed views
	signer    signer.Signer         // signer signs outbound envelopes
	keyring   *signer.Keyring       // keyring lists trusted peer gateways
	ledger    ledger.Connector      // ledger is the fronted chain
	metrics   *metrics.Metrics      // metrics is the private Prometheus registry
	transport *network.Transport    // transport is the QUIC endpoint
	gateway   *gateway.Gateway      // gateway runs the state machine
	recovery  *recovery.Coordinator // recovery settles open sessions
	api       *api.Server           // api is the operator HTTP server
}

// newDaemon wires every component. Nothing listens until Run.
func newDaemon(cfg *Config, log *slog.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, log: log, metrics: metrics.New()}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"storage", d.initStorage},
		{"identity", d.initIdentity},
		{"ledger", d.initLedger},
		{"transport", d.initTransport},
		{"gateway", d.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(); err != nil {
			d.Close()
			return nil, fmt.Errorf("init %s:\n%w", s.name, err)
		}
	}

	return d, nil
}

// initStorage opens the Pebble database, the journal and the mirror.
func (d *Daemon) initStorage() error {
	if err := os.MkdirAll(d.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(d.cfg.DataPath, "db"))
	if err != nil {
		return err
	}
	d.storage = db

	j, err := journal.New(db, journal.Config{Log: d.log.With("component", "journal")})
	if err != nil {
		return err
	}
	d.journal = j
	d.mirror = journal.NewMirror(db, nil)

	return nil
}

// initIdentity builds the signer and loads the peers file.
func (d *Daemon) initIdentity() error {
	scheme, err := signer.ParseScheme(d.cfg.Scheme)
	if err != nil {
		return err
	}

	s, err := signer.New(scheme, d.cfg.PrivateKey)
	if err != nil {
		return err
	}
	d.signer = s

	ring, err := signer.LoadKeyring(d.cfg.PeersPath)
	if err != nil {
		return err
	}
	d.keyring = ring

	self, ok := ring.ByName(d.cfg.Name)
	if !ok {
		d.log.Warn("gateway not listed in peers file",
			"name", d.cfg.Name,
			"pubkey", hex.EncodeToString(s.PublicKey()),
		)
	} else if self.PublicKey != hex.EncodeToString(s.PublicKey()) {
		return fmt.Errorf("peers file lists another key for %q", d.cfg.Name)
	}

	return nil
}

// initLedger builds the ledger connector.
func (d *Daemon) initLedger() error {
	switch d.cfg.LedgerKind {
	case "http":
		d.ledger = ledger.NewHTTP(d.cfg.LedgerEndpoint, nil)

	default:
		mem := ledger.NewMemory(d.cfg.LedgerName)
		for _, asset := range d.cfg.Issue {
			mem.Issue(asset)
		}
		d.ledger = mem
	}

	return nil
}

// initTransport creates the QUIC endpoint.
func (d *Daemon) initTransport() error {
	t, err := network.New(network.Config{
		PrivateKey:     d.cfg.PrivateKey,
		ListenAddr:     d.cfg.QUICAddress,
		HandlerTimeout: d.cfg.MaxTimeout,
		Log:            d.log.With("component", "network"),
	})
	if err != nil {
		return err
	}
	d.transport = t

	return nil
}

// initGateway wires the state machine, recovery and the RPC surface.
func (d *Daemon) initGateway() error {
	gw, err := gateway.New(gateway.Config{
		Signer:           d.signer,
		Keyring:          d.keyring,
		Journal:          d.journal,
		Ledger:           d.ledger,
		Transport:        d.transport,
		Metrics:          d.metrics,
		Log:              d.log.With("component", "gateway"),
		Addr:             d.cfg.AdvertiseAddress,
		SupportedLedgers: d.cfg.SupportedLedgers,
		MaxTimeout:       d.cfg.MaxTimeout,
		MaxRetries:       d.cfg.MaxRetries,
	})
	if err != nil {
		return err
	}
	d.gateway = gw

	rec, err := recovery.New(recovery.Config{
		Gateway:       gw,
		Mirror:        d.mirror,
		Log:           d.log.With("component", "recovery"),
		WatchInterval: d.cfg.WatchInterval,
	})
	if err != nil {
		return err
	}
	d.recovery = rec

	d.transport.Handle(rpc.New(gw, rec, d.log.With("component", "rpc")).Handle)

	d.api = api.New(api.Config{
		Addr:      d.cfg.HTTPAddress,
		Transfers: gw,
		Log:       d.journal,
		Metrics:   d.metrics.Handler(),
		Logger:    d.log.With("component", "api"),
	})

	return nil
}

// Run serves until ctx ends. The session log is replayed before the
// transport listens, so no peer ever sees a session that is only on disk.
// Open sessions are settled once the transport is up.
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := d.recovery.Replay(); err != nil {
		return fmt.Errorf("replay session log:\n%w", err)
	}

	if err := d.transport.Start(); err != nil {
		return fmt.Errorf("start transport:\n%w", err)
	}

	rep, err := d.recovery.Settle(ctx)
	if err != nil {
		// Sessions that failed to settle stay open for the watchdog.
		d.log.Error("boot recovery incomplete",
			"error", err,
		)
	}

	if len(rep.Corrupt) > 0 {
		d.log.Error("sessions with unreadable logs",
			"count", len(rep.Corrupt),
			"sessions", rep.Corrupt,
		)
	}

	go d.recovery.Watch(ctx)

	if err := d.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	<-ctx.Done()

	d.log.Info("shutting down")

	return d.Close()
}

// Close shuts down all components in reverse dependency order.
func (d *Daemon) Close() error {
	if d.api != nil {
		d.api.Stop()
	}

	if d.gateway != nil {
		d.gateway.Close()
	}

	if d.transport != nil {
		d.transport.Close()
	}

	if d.journal != nil {
		d.journal.Close()
	}

	if d.storage != nil {
		return d.storage.Close()
	}

	return nil
}

// serveLedger runs a memory ledger behind the HTTP connector protocol.
func serveLedger(ctx context.Context, addr, name string, assets []string, log *slog.Logger) error {
	mem := ledger.NewMemory(name)
	for _, a := range assets {
		mem.Issue(a)
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      ledger.Handler(mem),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledger listening",
			"addr", addr,
			"ledger", name,
			"assets", len(assets),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
