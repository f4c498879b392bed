package rpc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/recovery"
	"Ferry/internal/signer"
	"Ferry/internal/storage"
)

type echo struct{ err error }

func (e echo) Handle(_ context.Context, data []byte) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte("re:"), data...), nil
}

func TestLoopbackDelivers(t *testing.T) {
	l := NewLoopback()
	l.Register("a", echo{})

	reply, err := l.Request(context.Background(), "a", []byte("x"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if !bytes.Equal(reply, []byte("re:x")) {
		t.Errorf("reply = %q, want %q", reply, "re:x")
	}
}

func TestLoopbackFailures(t *testing.T) {
	l := NewLoopback()
	l.Register("a", echo{})
	l.Register("broken", echo{err: errors.New("refused")})

	if _, err := l.Request(context.Background(), "missing", nil); !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("missing endpoint: err = %v, want ErrTransport", err)
	}

	if _, err := l.Request(context.Background(), "broken", nil); !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("handler error: err = %v, want ErrTransport", err)
	}

	l.SetFilter(func(addr string, _ []byte) bool { return addr != "a" })
	if _, err := l.Request(context.Background(), "a", nil); !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("filtered: err = %v, want ErrTransport", err)
	}

	l.SetFilter(nil)
	l.Unregister("a")
	if _, err := l.Request(context.Background(), "a", nil); !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("unregistered: err = %v, want ErrTransport", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Request(ctx, "broken", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

// endpoint builds a gateway behind a Handler registered on l, with its
// (empty) log already replayed.
func endpoint(t *testing.T, l *Loopback, addr string, s signer.Signer, ring *signer.Keyring, mem *ledger.Memory) *gateway.Gateway {
	t.Helper()

	gw, coord := build(t, l, addr, s, ring, mem)
	if _, err := coord.Replay(); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	l.Register(addr, New(gw, coord, nil))

	return gw
}

// build creates a gateway and its coordinator without replaying the log.
func build(t *testing.T, l *Loopback, addr string, s signer.Signer, ring *signer.Keyring, mem *ledger.Memory) (*gateway.Gateway, *recovery.Coordinator) {
	t.Helper()

	db, err := storage.Open(storage.Options{InMemory: true})
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}

	j, err := journal.New(db, journal.Config{})
	if err != nil {
		t.Fatalf("journal.New failed: %v", err)
	}

	gw, err := gateway.New(gateway.Config{
		Signer:     s,
		Keyring:    ring,
		Journal:    j,
		Ledger:     mem,
		Transport:  l,
		Addr:       addr,
		MaxTimeout: 50 * time.Millisecond,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}

	coord, err := recovery.New(recovery.Config{Gateway: gw, Mirror: journal.NewMirror(db, nil)})
	if err != nil {
		t.Fatalf("recovery.New failed: %v", err)
	}

	t.Cleanup(func() {
		gw.Close()
		j.Close()
		db.Close()
	})

	return gw, coord
}

func newSigner(t *testing.T) signer.Signer {
	t.Helper()

	key, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return signer.NewEd25519(key)
}

func TestHandlerRoutesTransfer(t *testing.T) {
	l := NewLoopback()
	cs, ss := newSigner(t), newSigner(t)

	ring, err := signer.NewKeyring(
		signer.PeerFor("alpha", "alpha:1", cs, "alpha"),
		signer.PeerFor("beta", "beta:1", ss, "beta"),
	)
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	alpha := ledger.NewMemory("alpha")
	alpha.Issue("asset-9")

	client := endpoint(t, l, "alpha:1", cs, ring, alpha)
	endpoint(t, l, "beta:1", ss, ring, ledger.NewMemory("beta"))

	s, err := client.Start(context.Background(), gateway.TransferRequest{
		AssetRef:        "asset-9",
		SourceLedger:    "alpha",
		RecipientLedger: "beta",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done, err := client.Wait(ctx, s.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if done.Stage != protocol.StageCommitted {
		t.Errorf("stage = %s, want COMMITTED", done.Stage)
	}
}

func TestHandlerDropsGarbage(t *testing.T) {
	l := NewLoopback()
	s := newSigner(t)

	ring, err := signer.NewKeyring(signer.PeerFor("alpha", "alpha:1", s, "alpha"))
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	endpoint(t, l, "alpha:1", s, ring, ledger.NewMemory("alpha"))

	if _, err := l.Request(context.Background(), "alpha:1", []byte("not an envelope")); !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestHandlerWaitsForReplay(t *testing.T) {
	l := NewLoopback()
	cs, ss := newSigner(t), newSigner(t)

	ring, err := signer.NewKeyring(
		signer.PeerFor("alpha", "alpha:1", cs, "alpha"),
		signer.PeerFor("beta", "beta:1", ss, "beta"),
	)
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	gw, coord := build(t, l, "beta:1", ss, ring, ledger.NewMemory("beta"))
	h := New(gw, coord, nil)

	_, data, err := protocol.Seal(cs, "sess-1", 3, protocol.StageLocking, protocol.RecoverUpdate{
		View: protocol.View{Stage: protocol.StageLocking, Sequence: 3, Pending: 4},
	})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := h.Handle(context.Background(), data); !errors.Is(err, recovery.ErrReplaying) {
		t.Fatalf("before replay: err = %v, want ErrReplaying", err)
	}

	if _, err := coord.Replay(); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	reply, err := h.Handle(context.Background(), data)
	if err != nil {
		t.Fatalf("after replay: %v", err)
	}

	env, err := protocol.Decode(reply)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Kind != protocol.KindRecoverUpdateAck {
		t.Errorf("reply kind = %s, want RecoverUpdateAck", env.Kind)
	}
}
