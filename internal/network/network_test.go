package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"Ferry/internal/protocol"
)

// generateTestKey generates a random ed25519 key pair for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startTransport creates and starts a transport on a loopback port.
func startTransport(t *testing.T, h Handler) *Transport {
	t.Helper()

	tr, err := New(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}

	if h != nil {
		tr.Handle(h)
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("start transport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	return tr
}

// TestTransportStartStop tests starting and stopping a transport.
func TestTransportStartStop(t *testing.T) {
	tr, err := New(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}

	if tr.Addr() != "" {
		t.Errorf("Addr before Start = %q, want empty", tr.Addr())
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("start transport: %v", err)
	}

	if tr.Addr() == "" {
		t.Error("Addr after Start is empty")
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close transport: %v", err)
	}
}

// TestNewValidation tests that required fields are enforced.
func TestNewValidation(t *testing.T) {
	if _, err := New(Config{ListenAddr: ":0"}); err == nil {
		t.Error("expected error without private key")
	}

	if _, err := New(Config{PrivateKey: generateTestKey(t)}); err == nil {
		t.Error("expected error without listen address")
	}
}

// TestRequestResponse tests a request answered by the remote handler.
func TestRequestResponse(t *testing.T) {
	server := startTransport(t, func(_ context.Context, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})

	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Request(ctx, server.Addr(), []byte("ping"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if !bytes.Equal(reply, []byte("echo:ping")) {
		t.Errorf("reply = %q, want %q", reply, "echo:ping")
	}
}

// TestConnectionReused tests that successive requests share one connection.
func TestConnectionReused(t *testing.T) {
	var calls atomic.Int32

	server := startTransport(t, func(_ context.Context, data []byte) ([]byte, error) {
		calls.Add(1)
		return data, nil
	})

	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 5 {
		msg := []byte(fmt.Sprintf("msg-%d", i))

		reply, err := client.Request(ctx, server.Addr(), msg)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}

		if !bytes.Equal(reply, msg) {
			t.Errorf("reply %d = %q, want %q", i, reply, msg)
		}
	}

	if got := calls.Load(); got != 5 {
		t.Errorf("handler calls = %d, want 5", got)
	}

	client.connsMu.Lock()
	n := len(client.conns)
	client.connsMu.Unlock()

	if n != 1 {
		t.Errorf("cached connections = %d, want 1", n)
	}
}

// TestBothDirections tests that the accepting side can send requests back
// to the dialing side's listener.
func TestBothDirections(t *testing.T) {
	handler := func(_ context.Context, data []byte) ([]byte, error) {
		return data, nil
	}

	a := startTransport(t, handler)
	b := startTransport(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := a.Request(ctx, b.Addr(), []byte("a->b")); err != nil {
		t.Fatalf("a->b: %v", err)
	}

	if _, err := b.Request(ctx, a.Addr(), []byte("b->a")); err != nil {
		t.Fatalf("b->a: %v", err)
	}
}

// TestHandlerErrorIsTransportError tests that a dropped request fails fast
// with a transport error.
func TestHandlerErrorIsTransportError(t *testing.T) {
	server := startTransport(t, func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("refused")
	})

	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()

	_, err := client.Request(ctx, server.Addr(), []byte("x"))
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}

	if time.Since(start) > 2*time.Second {
		t.Error("dropped request waited for the deadline")
	}
}

// TestRequestTimeout tests that a slow handler hits the caller's deadline.
func TestRequestTimeout(t *testing.T) {
	server := startTransport(t, func(ctx context.Context, data []byte) ([]byte, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return data, nil
	})

	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, server.Addr(), []byte("slow"))
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

// TestUnreachable tests a request to an address nobody listens on.
func TestUnreachable(t *testing.T) {
	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, "127.0.0.1:1", []byte("x"))
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

// TestRedialAfterRestart tests that a closed connection is replaced.
func TestRedialAfterRestart(t *testing.T) {
	key := generateTestKey(t)
	echo := func(_ context.Context, data []byte) ([]byte, error) { return data, nil }

	first, err := New(Config{PrivateKey: key, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	first.Handle(echo)
	if err := first.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := first.Addr()

	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Request(ctx, addr, []byte("one")); err != nil {
		t.Fatalf("first request: %v", err)
	}

	first.Close()

	second, err := New(Config{PrivateKey: key, ListenAddr: addr})
	if err != nil {
		t.Fatalf("recreate transport: %v", err)
	}
	second.Handle(echo)
	if err := second.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer second.Close()

	// The first attempt may still hit the dead connection.
	var lastErr error
	for range 5 {
		if _, lastErr = client.Request(ctx, addr, []byte("two")); lastErr == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("request after restart: %v", lastErr)
}

// TestFraming tests the versioned length-prefixed codec.
func TestFraming(t *testing.T) {
	var buf bytes.Buffer

	msgs := [][]byte{[]byte("a"), {}, bytes.Repeat([]byte{7}, 4096)}
	for _, m := range msgs {
		if err := writeFrame(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for i, want := range msgs {
		got, err := readFrame(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch", i)
		}
	}

	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("oversized frame: expected ErrMalformed, got %v", err)
	}
}

// TestFramingRejectsBadHeaders tests that foreign versions and oversized
// lengths are refused before the payload is read.
func TestFramingRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
	}{
		{"version", []byte{0, 0, 0, 1, frameVersion + 1, 'x'}},
		{"length", []byte{0xff, 0xff, 0xff, 0xff, frameVersion}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFrame(bytes.NewReader(tt.header))
			if !errors.Is(err, protocol.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}

	if _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 9, frameVersion, 'x'})); err == nil {
		t.Error("expected error for truncated payload")
	}
}

// TestCertificateKey tests that the certificate carries the gateway key
// and passes the handshake check.
func TestCertificateKey(t *testing.T) {
	key := generateTestKey(t)

	cert, err := selfCertificate(key)
	if err != nil {
		t.Fatalf("selfCertificate: %v", err)
	}

	if cert.Leaf == nil || len(cert.Certificate) == 0 {
		t.Fatal("certificate is empty")
	}

	if err := verifyGatewayCert(cert.Certificate, nil); err != nil {
		t.Errorf("verifyGatewayCert: %v", err)
	}

	got, err := peerKey(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert.Leaf}})
	if err != nil {
		t.Fatalf("peerKey: %v", err)
	}

	if !got.Equal(key.Public()) {
		t.Error("certificate key does not match gateway key")
	}

	if _, err := peerKey(tls.ConnectionState{}); err == nil {
		t.Error("expected error without peer certificate")
	}

	if err := verifyGatewayCert([][]byte{[]byte("junk")}, nil); err == nil {
		t.Error("expected error for unparsable certificate")
	}
}
