// Package network carries signed gateway messages over QUIC. Every request
// opens a bidirectional stream on a cached connection to the peer address
// and waits for one length-prefixed reply.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Ferry/internal/logger"
	"Ferry/internal/protocol"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "ferry/1"

	// defaultIdleTimeout closes connections without traffic.
	defaultIdleTimeout = 60 * time.Second

	// defaultHandlerTimeout bounds the handling of one inbound request.
	defaultHandlerTimeout = 30 * time.Second
)

// Handler answers one inbound request. An error drops the request without a reply.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Config holds the configuration for a Transport.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the TLS identity of this gateway
	ListenAddr     string             // ListenAddr is the address to listen on (e.g., ":7000")
	IdleTimeout    time.Duration      // IdleTimeout closes idle connections
	HandlerTimeout time.Duration      // HandlerTimeout bounds one inbound request
	Log            *slog.Logger       // Log may be nil
}

// Transport is a QUIC endpoint that both serves and sends gateway requests.
type Transport struct {
	publicKey  ed25519.PublicKey // publicKey is the TLS identity's public key
	listenAddr string            // listenAddr is the address to listen on
	tlsConfig  *tls.Config       // tlsConfig is the TLS configuration
	quicConfig *quic.Config      // quicConfig is the QUIC configuration
	handlerTTL time.Duration     // handlerTTL bounds one inbound request
	log        *slog.Logger

	listener *quic.Listener // listener is the QUIC listener

	conns   map[string]*conn // conns maps dialed addresses to live connections
	connsMu sync.Mutex       // connsMu protects conns

	handler   Handler      // handler answers inbound requests
	handlerMu sync.RWMutex // handlerMu protects handler

	ctx    context.Context    // ctx is the transport's context
	cancel context.CancelFunc // cancel cancels the transport's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// New creates a transport. Start must be called before it serves requests;
// outbound requests work without it.
func New(cfg Config) (*Transport, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = defaultIdleTimeout
	}

	handlerTTL := cfg.HandlerTimeout
	if handlerTTL == 0 {
		handlerTTL = defaultHandlerTimeout
	}

	cert, err := selfCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyGatewayCert,
		NextProtos:            []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  idle,
		KeepAlivePeriod: idle / 3,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		handlerTTL: handlerTTL,
		log:        logger.OrDiscard(cfg.Log),
		conns:      make(map[string]*conn),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// PublicKey returns the transport's TLS public key.
func (t *Transport) PublicKey() ed25519.PublicKey {
	return t.publicKey
}

// Addr returns the listener's address. Returns empty string if not started.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return ""
	}

	return t.listener.Addr().String()
}

// Handle sets the handler for inbound requests.
func (t *Transport) Handle(h Handler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

// Start starts listening for peer gateways.
func (t *Transport) Start() error {
	listener, err := quic.ListenAddr(t.listenAddr, t.tlsConfig, t.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", t.listenAddr, err)
	}

	t.listener = listener

	t.wg.Add(1)
	go t.acceptLoop()

	t.log.Info("transport listening",
		"addr", t.Addr(),
	)

	return nil
}

// Request sends data to the gateway at addr and waits for its reply.
// Every failure wraps protocol.ErrTransport so the caller's retry policy applies.
func (t *Transport) Request(ctx context.Context, addr string, data []byte) ([]byte, error) {
	c, err := t.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %v:\n%w", addr, err, protocol.ErrTransport)
	}

	reply, err := c.request(ctx, data)
	if err != nil {
		// A broken connection is redialed on the next attempt.
		if !errors.Is(err, context.DeadlineExceeded) {
			t.forget(addr, c)
		}
		return nil, fmt.Errorf("request %s: %v:\n%w", addr, err, protocol.ErrTransport)
	}

	return reply, nil
}

// dial returns the cached connection to addr or opens a new one.
func (t *Transport) dial(ctx context.Context, addr string) (*conn, error) {
	t.connsMu.Lock()
	c, ok := t.conns[addr]
	t.connsMu.Unlock()

	if ok && !c.closed.Load() && c.qc.Context().Err() == nil {
		return c, nil
	}

	qc, err := quic.DialAddr(ctx, addr, t.tlsConfig, t.quicConfig)
	if err != nil {
		return nil, err
	}

	c, err = t.setupConn(qc, addr)
	if err != nil {
		qc.CloseWithError(1, "setup failed")
		return nil, err
	}

	t.connsMu.Lock()
	if old, ok := t.conns[addr]; ok && old != c {
		old.close()
	}
	t.conns[addr] = c
	t.connsMu.Unlock()

	return c, nil
}

// forget drops a cached connection if it is still the one for addr.
func (t *Transport) forget(addr string, c *conn) {
	t.connsMu.Lock()
	if t.conns[addr] == c {
		delete(t.conns, addr)
	}
	t.connsMu.Unlock()

	c.close()
}

// Close stops the transport and closes all connections.
func (t *Transport) Close() error {
	t.cancel()

	if t.listener != nil {
		t.listener.Close()
	}

	t.connsMu.Lock()
	for _, c := range t.conns {
		c.close()
	}
	t.conns = make(map[string]*conn)
	t.connsMu.Unlock()

	t.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (t *Transport) acceptLoop() {
	defer t.wg.Done()

	for {
		qc, err := t.listener.Accept(t.ctx)
		if err != nil {
			return // Listener closed
		}

		if _, err := t.setupConn(qc, qc.RemoteAddr().String()); err != nil {
			t.log.Debug("inbound connection refused",
				"remote", qc.RemoteAddr().String(),
				"error", err,
			)
			qc.CloseWithError(1, "setup failed")
		}
	}
}

// setupConn wraps a QUIC connection and starts serving its inbound streams.
func (t *Transport) setupConn(qc *quic.Conn, addr string) (*conn, error) {
	pubKey, err := peerKey(qc.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("peer key:\n%w", err)
	}

	c := &conn{
		remoteKey: pubKey,
		address:   addr,
		qc:        qc,
		transport: t,
	}

	t.log.Debug("connection established",
		"peer", hex.EncodeToString(pubKey[:8]),
		"addr", addr,
	)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		c.serve(t.ctx)
	}()

	return c, nil
}

// callHandler runs the inbound handler under the per-request deadline.
func (t *Transport) callHandler(data []byte) ([]byte, error) {
	t.handlerMu.RLock()
	fn := t.handler
	t.handlerMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.handlerTTL)
	defer cancel()

	return fn(ctx, data)
}
