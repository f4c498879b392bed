package client

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"Ferry/internal/api"
	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

// fakeGateway advances a session one stage per Session call.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	entries  map[string][]journal.Entry
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions: make(map[string]*session.Session),
		entries:  make(map[string][]journal.Entry),
	}
}

func (f *fakeGateway) Start(_ context.Context, req gateway.TransferRequest) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("s-%d", len(f.sessions)+1)
	s := &session.Session{
		ID:         id,
		Role:       protocol.RoleClient,
		Stage:      protocol.StageProposed,
		Pending:    1,
		AssetRef:   req.AssetRef,
		MaxTimeout: req.MaxTimeout,
	}
	f.sessions[id] = s
	f.entries[id] = []journal.Entry{{SessionID: id, Type: journal.EntryProposalSent, Stage: protocol.StageProposed, Pending: 1}}

	return s.Clone(), nil
}

func (f *fakeGateway) Session(id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s:\n%w", id, protocol.ErrUnknownSession)
	}

	if !s.Terminal() {
		s.Stage++
		s.Outcome = protocol.OutcomeOf(s.Stage)
	}

	return s.Clone(), nil
}

func (f *fakeGateway) Sessions() []*session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out
}

func (f *fakeGateway) Abort(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s:\n%w", id, protocol.ErrUnknownSession)
	}
	if s.Terminal() {
		return nil, fmt.Errorf("%s:\n%w", id, protocol.ErrSessionClosed)
	}

	s.Stage = protocol.StageAborted
	s.Outcome = protocol.OutcomeAborted
	s.Reason = protocol.ReasonOperatorAbort

	return s.Clone(), nil
}

func (f *fakeGateway) Entries(id string) ([]journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[id], nil
}

// newTestClient serves a fake gateway over HTTP.
func newTestClient(t *testing.T) (*Client, *fakeGateway) {
	t.Helper()

	f := newFakeGateway()
	srv := httptest.NewServer(api.New(api.Config{Transfers: f, Log: f}).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL), f
}

func TestTransferAndWait(t *testing.T) {
	c, _ := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := c.Transfer(ctx, Transfer{AssetRef: "asset-1", RecipientLedger: "beta", MaxTimeout: "3s"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if s.Stage != protocol.StageProposed || s.Role != protocol.RoleClient {
		t.Errorf("unexpected session %s/%s", s.Role, s.Stage)
	}
	if s.MaxTimeout != 3*time.Second {
		t.Errorf("max timeout = %v, want 3s", s.MaxTimeout)
	}

	done, err := c.Wait(ctx, s.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if done.Stage != protocol.StageCommitted || done.Outcome != protocol.OutcomeCommitted {
		t.Errorf("final %s/%s, want COMMITTED", done.Stage, done.Outcome)
	}
}

func TestLogAndList(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	s, err := c.Transfer(ctx, Transfer{AssetRef: "asset-1", RecipientLedger: "beta"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	entries, err := c.Log(ctx, s.ID)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != journal.EntryProposalSent {
		t.Errorf("unexpected log %+v", entries)
	}

	all, err := c.Sessions(ctx, false)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("sessions = %d, want 1", len(all))
	}

	open, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if open != 1 {
		t.Errorf("open sessions = %d, want 1", open)
	}
}

func TestAbortErrors(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Abort(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: err = %v, want ErrNotFound", err)
	}

	s, err := c.Transfer(ctx, Transfer{AssetRef: "asset-1", RecipientLedger: "beta"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	aborted, err := c.Abort(ctx, s.ID)
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if aborted.Reason != protocol.ReasonOperatorAbort {
		t.Errorf("reason = %s, want operator_abort", aborted.Reason)
	}

	if _, err := c.Abort(ctx, s.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("second abort: err = %v, want ErrConflict", err)
	}
}

func TestBadRequestMessage(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Transfer(context.Background(), Transfer{RecipientLedger: "beta"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Status != 400 || se.Message == "" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	if c := NewClient("127.0.0.1:8080"); c.baseURL != "http://127.0.0.1:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c := NewClient("https://gw.example/"); c.baseURL != "https://gw.example" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
