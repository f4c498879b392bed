package integration

import (
	"context"
	"testing"
	"time"

	"Ferry/client"
	"Ferry/internal/journal"
	"Ferry/internal/ledger"
	"Ferry/internal/protocol"
	"Ferry/internal/recovery"
)

// TestTransferOverQUIC moves an asset between two gateways through the operator API.
func TestTransferOverQUIC(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	c := newCluster(t, "alpha", "beta")
	alpha, beta := c.node("alpha"), c.node("beta")

	alpha.ledger.Issue("bond-7")

	c.start(alpha)
	c.start(beta)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s, err := alpha.client.Transfer(ctx, client.Transfer{
		AssetRef:        "bond-7",
		SourceLedger:    "alpha",
		RecipientLedger: "beta",
		Originator:      "alice",
		Beneficiary:     "bob",
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	done, err := alpha.client.Wait(ctx, s.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if done.Stage != protocol.StageCommitted || done.Sequence != 5 {
		t.Fatalf("client ended %s seq %d, want COMMITTED seq 5", done.Stage, done.Sequence)
	}

	remote, err := beta.client.Wait(ctx, s.ID)
	if err != nil {
		t.Fatalf("server Wait failed: %v", err)
	}
	if remote.Stage != protocol.StageCommitted || remote.Role != protocol.RoleServer {
		t.Errorf("server ended %s/%s, want SERVER COMMITTED", remote.Role, remote.Stage)
	}

	if alpha.ledger.Has("bond-7") || !beta.ledger.Has("bond-7") {
		t.Error("asset did not move")
	}

	entries, err := alpha.client.Log(ctx, s.ID)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if last := entries[len(entries)-1]; last.Type != journal.EntryCommitted {
		t.Errorf("last client entry = %s, want COMMITTED", last.Type)
	}
}

// TestRestartMidTransfer stops the client gateway after it locked the asset
// and checks the restarted process finishes the transfer from its disk log.
func TestRestartMidTransfer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	c := newCluster(t, "alpha", "beta")
	alpha, beta := c.node("alpha"), c.node("beta")

	alpha.ledger.Issue("bond-8")

	c.start(alpha)
	c.start(beta)

	// Beta is away while alpha locks and sends its prepare request.
	c.stop(beta)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := alpha.client.Transfer(ctx, client.Transfer{
		AssetRef:        "bond-8",
		SourceLedger:    "alpha",
		RecipientLedger: "beta",
		MaxTimeout:      "300ms",
		MaxRetries:      100,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	// The proposal cannot be answered yet; bring beta back so it is.
	c.start(beta)

	deadline := time.Now().Add(15 * time.Second)
	for {
		last, ok, err := alpha.journal.Last(s.ID)
		if err == nil && ok && last.Stage >= protocol.StagePreparing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never locked the asset")
		}
		time.Sleep(20 * time.Millisecond)
	}

	c.stop(alpha)

	rep := c.start(alpha)
	if rep.Sessions != 1 {
		t.Errorf("recovered %d sessions, want 1", rep.Sessions)
	}
	if d, ok := rep.Decisions[s.ID]; ok && d != recovery.Resume {
		t.Errorf("decision = %v, want resume", d)
	}

	done, err := alpha.client.Wait(ctx, s.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if done.Stage != protocol.StageCommitted {
		t.Fatalf("client ended %s/%s, want COMMITTED", done.Stage, done.Reason)
	}

	if n := alpha.ledger.Calls(ledger.OpLock); n != 1 {
		t.Errorf("lock calls = %d, want 1", n)
	}

	if !beta.ledger.Has("bond-8") {
		t.Error("asset not minted on beta")
	}
}
