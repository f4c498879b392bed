// Package integration runs gateways end to end over QUIC and the operator API.
package integration

import (
	"bytes"
	"crypto/ed25519"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Ferry/client"
	"Ferry/internal/api"
	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/logger"
	"Ferry/internal/metrics"
	"Ferry/internal/network"
	"Ferry/internal/recovery"
	"Ferry/internal/rpc"
	"Ferry/internal/signer"
	"Ferry/internal/storage"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node is one gateway process: its own data dir, QUIC endpoint and API.
type Node struct {
	name     string             // name is the peers file name
	key      ed25519.PrivateKey // key is the identity key, kept across restarts
	quicAddr string             // quicAddr is the QUIC address, fixed after the first start
	dataDir  string             // dataDir holds the Pebble database
	ledger   *ledger.Memory     // ledger is the fronted chain, survives restarts
	logs     *safeBuffer        // logs captures the gateway's output

	db        *storage.Storage
	journal   *journal.Journal
	transport *network.Transport
	gateway   *gateway.Gateway
	recovery  *recovery.Coordinator
	metrics   *metrics.Metrics
	api       *httptest.Server
	client    *client.Client

	running bool
}

// Cluster is a set of gateways sharing one peers file.
type Cluster struct {
	t     *testing.T
	nodes map[string]*Node
	ring  *signer.Keyring
}

// newCluster binds one QUIC endpoint per ledger and builds the keyring from
// the bound addresses. Gateways are not started yet.
func newCluster(t *testing.T, ledgers ...string) *Cluster {
	t.Helper()

	c := &Cluster{t: t, nodes: make(map[string]*Node)}

	var peers []signer.Peer

	for _, name := range ledgers {
		key, err := signer.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		n := &Node{
			name:    name,
			key:     key,
			dataDir: filepath.Join(t.TempDir(), name),
			ledger:  ledger.NewMemory(name),
			logs:    &safeBuffer{},
		}

		n.transport = listen(t, key, "127.0.0.1:0")
		n.quicAddr = n.transport.Addr()

		peers = append(peers, signer.PeerFor(name, n.quicAddr, signer.NewEd25519(key), name))
		c.nodes[name] = n
	}

	ring, err := signer.NewKeyring(peers...)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	c.ring = ring

	t.Cleanup(func() {
		for _, n := range c.nodes {
			c.stop(n)
		}
		if t.Failed() {
			for _, n := range c.nodes {
				t.Logf("=== %s logs ===\n%s", n.name, n.logs.String())
			}
		}
	})

	return c
}

// listen starts a QUIC transport at addr.
func listen(t *testing.T, key ed25519.PrivateKey, addr string) *network.Transport {
	t.Helper()

	tr, err := network.New(network.Config{PrivateKey: key, ListenAddr: addr})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("start transport: %v", err)
	}

	return tr
}

// node returns a gateway by ledger name.
func (c *Cluster) node(name string) *Node {
	return c.nodes[name]
}

// start boots a gateway the way gatewayd does: storage, journal, gateway,
// recovery, RPC handler on the listening transport, boot recovery, API.
func (c *Cluster) start(n *Node) recovery.Report {
	c.t.Helper()

	if n.transport == nil {
		n.transport = listen(c.t, n.key, n.quicAddr)
	}

	db, err := storage.New(n.dataDir)
	if err != nil {
		c.t.Fatalf("open storage: %v", err)
	}
	n.db = db

	log := logger.New(n.logs, slog.LevelDebug).With("gw", n.name)

	n.journal, err = journal.New(db, journal.Config{Log: log})
	if err != nil {
		c.t.Fatalf("open journal: %v", err)
	}

	n.metrics = metrics.New()

	n.gateway, err = gateway.New(gateway.Config{
		Signer:     signer.NewEd25519(n.key),
		Keyring:    c.ring,
		Journal:    n.journal,
		Ledger:     n.ledger,
		Transport:  n.transport,
		Metrics:    n.metrics,
		Log:        log,
		Addr:       n.quicAddr,
		MaxTimeout: 500 * time.Millisecond,
		MaxRetries: 4,
	})
	if err != nil {
		c.t.Fatalf("create gateway: %v", err)
	}

	n.recovery, err = recovery.New(recovery.Config{
		Gateway: n.gateway,
		Mirror:  journal.NewMirror(db, nil),
		Log:     log,
	})
	if err != nil {
		c.t.Fatalf("create recovery: %v", err)
	}

	n.transport.Handle(rpc.New(n.gateway, n.recovery, log).Handle)

	rep, err := n.recovery.Recover(c.t.Context())
	if err != nil {
		c.t.Fatalf("recover %s: %v", n.name, err)
	}

	n.api = httptest.NewServer(api.New(api.Config{
		Transfers: n.gateway,
		Log:       n.journal,
		Metrics:   n.metrics.Handler(),
		Logger:    log,
	}).Handler())
	n.client = client.NewClient(n.api.URL)

	n.running = true

	return rep
}

// stop shuts a gateway down, leaving its data dir and ledger in place.
func (c *Cluster) stop(n *Node) {
	if !n.running {
		if n.transport != nil {
			n.transport.Close()
			n.transport = nil
		}
		return
	}

	n.api.Close()
	n.gateway.Close()
	n.transport.Close()
	n.journal.Close()
	n.db.Close()

	n.transport = nil
	n.running = false
}
