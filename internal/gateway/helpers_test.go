package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/signer"
	"Ferry/internal/storage"
)

const (
	clientAddr = "gw-alpha:7000"
	serverAddr = "gw-beta:7000"
	testAsset  = "asset-1"
)

// testNet delivers requests between gateways in process.
type testNet struct {
	mu    sync.Mutex
	nodes map[string]*Gateway
	drop  func(addr string, env *protocol.Envelope) bool
	sent  map[protocol.Kind]int
}

func newTestNet() *testNet {
	return &testNet{
		nodes: make(map[string]*Gateway),
		sent:  make(map[protocol.Kind]int),
	}
}

func (n *testNet) Request(ctx context.Context, addr string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	g := n.nodes[addr]
	drop := n.drop
	n.sent[env.Kind]++
	n.mu.Unlock()

	if g == nil {
		return nil, fmt.Errorf("no gateway at %s:\n%w", addr, protocol.ErrTransport)
	}

	if drop != nil && drop(addr, env) {
		return nil, fmt.Errorf("lost:\n%w", protocol.ErrTransport)
	}

	reply, err := g.HandleRequest(ctx, env, data)
	if err != nil {
		return nil, fmt.Errorf("dropped: %v:\n%w", err, protocol.ErrTransport)
	}

	return reply, nil
}

// setDrop installs a loss rule.
func (n *testNet) setDrop(f func(addr string, env *protocol.Envelope) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// count returns how many requests of kind were sent.
func (n *testNet) count(k protocol.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[k]
}

// dropKind loses every request of kind k.
func dropKind(k protocol.Kind) func(string, *protocol.Envelope) bool {
	return func(_ string, env *protocol.Envelope) bool {
		return env.Kind == k
	}
}

// node is one gateway with its ledger and log.
type node struct {
	gw      *Gateway
	ledger  *ledger.Memory
	journal *journal.Journal
	db      *storage.Storage
	signer  signer.Signer
}

// newSigner creates a fresh ed25519 signer.
func newSigner(t *testing.T) signer.Signer {
	t.Helper()

	key, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return signer.NewEd25519(key)
}

// newJournal opens a journal on an in-memory database.
func newJournal(t *testing.T) (*journal.Journal, *storage.Storage) {
	t.Helper()

	db, err := storage.Open(storage.Options{InMemory: true})
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}

	j, err := journal.New(db, journal.Config{})
	if err != nil {
		t.Fatalf("journal.New failed: %v", err)
	}

	t.Cleanup(func() {
		j.Close()
		db.Close()
	})

	return j, db
}

// newNode builds a gateway registered on net.
func newNode(t *testing.T, net *testNet, addr string, s signer.Signer, ring *signer.Keyring, mem *ledger.Memory, supported ...string) *node {
	t.Helper()

	j, db := newJournal(t)

	g, err := New(Config{
		Signer:           s,
		Keyring:          ring,
		Journal:          j,
		Ledger:           mem,
		Transport:        net,
		Addr:             addr,
		SupportedLedgers: supported,
		MaxTimeout:       50 * time.Millisecond,
		MaxRetries:       3,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(g.Close)

	net.mu.Lock()
	net.nodes[addr] = g
	net.mu.Unlock()

	return &node{gw: g, ledger: mem, journal: j, db: db, signer: s}
}

// newPair builds a client on ledger alpha holding testAsset and a server on
// ledger beta. serverLedgers restricts the recipient ledgers the server accepts.
func newPair(t *testing.T, serverLedgers ...string) (client, server *node, net *testNet) {
	t.Helper()

	net = newTestNet()

	cs, ss := newSigner(t), newSigner(t)

	ring, err := signer.NewKeyring(
		signer.PeerFor("alpha", clientAddr, cs, "alpha"),
		signer.PeerFor("beta", serverAddr, ss, "beta"),
	)
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	alpha := ledger.NewMemory("alpha")
	alpha.Issue(testAsset)

	client = newNode(t, net, clientAddr, cs, ring, alpha)
	server = newNode(t, net, serverAddr, ss, ring, ledger.NewMemory("beta"), serverLedgers...)

	return client, server, net
}

// transfer is the request used by most tests.
func transfer() TransferRequest {
	return TransferRequest{
		AssetRef:        testAsset,
		SourceLedger:    "alpha",
		RecipientLedger: "beta",
		Originator:      "alice",
		Beneficiary:     "bob",
		MaxTimeout:      50 * time.Millisecond,
		MaxRetries:      3,
	}
}

// waitFor waits for a session to become terminal.
func waitFor(t *testing.T, g *Gateway, id string) sessionView {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := g.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) failed: %v", id, err)
	}

	return sessionView{Stage: s.Stage, Outcome: s.Outcome, Reason: s.Reason, Sequence: s.Sequence}
}

// sessionView is the part of a session the scenarios assert on.
type sessionView struct {
	Stage    protocol.Stage
	Outcome  protocol.Outcome
	Reason   protocol.Reason
	Sequence uint64
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
