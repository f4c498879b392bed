package session

import (
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"Ferry/internal/journal"
	"Ferry/internal/protocol"
	"Ferry/internal/signer"
)

// proposalBytes seals a proposal for the test session.
func proposalBytes(t *testing.T) []byte {
	t.Helper()

	key, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	s := signer.NewEd25519(key)

	_, data, err := protocol.Seal(s, "s1", 1, protocol.StageInit, protocol.ProposalRequest{
		AssetRef:          "asset-7",
		SourceLedger:      "ledger-a",
		RecipientLedger:   "ledger-b",
		SourceBasePath:    "127.0.0.1:7000",
		RecipientBasePath: "127.0.0.1:7001",
		SourcePubkey:      s.PublicKey(),
		RecipientPubkey:   []byte("recipient"),
		MaxTimeout:        time.Second,
		MaxRetries:        3,
	})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	return data
}

// clientLog returns a client log that stops after LOCKED.
func clientLog(t *testing.T) []journal.Entry {
	t.Helper()

	h1 := bytes.Repeat([]byte{1}, 32)
	h2 := bytes.Repeat([]byte{2}, 32)
	ts := int64(1000)
	next := func(e journal.Entry) journal.Entry {
		ts++
		e.SessionID = "s1"
		e.Role = protocol.RoleClient
		e.Timestamp = ts
		return e
	}

	return []journal.Entry{
		next(journal.Entry{Type: journal.EntryProposalSent, Stage: protocol.StageProposed, Pending: 1, PayloadHash: h1, RawPayload: proposalBytes(t)}),
		next(journal.Entry{Type: journal.EntryProposalAccepted, Stage: protocol.StageCommencing, Sequence: 1, Pending: 1, PayloadHash: h1}),
		next(journal.Entry{Type: journal.EntryCommenceSent, Stage: protocol.StageCommencing, Sequence: 1, Pending: 2, PayloadHash: h2, RawPayload: []byte("commence")}),
		next(journal.Entry{Type: journal.EntryCommenced, Stage: protocol.StageLocking, Sequence: 2, Pending: 2, PayloadHash: h2}),
		next(journal.Entry{Type: journal.EntryLocked, Stage: protocol.StagePreparing, Sequence: 2, Pending: 2, RawPayload: []byte("lock-evidence")}),
	}
}

func TestReplayClientLog(t *testing.T) {
	s, err := Replay(clientLog(t))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if s.ID != "s1" || s.Role != protocol.RoleClient {
		t.Errorf("identity = %s/%s", s.ID, s.Role)
	}

	if s.Stage != protocol.StagePreparing || s.Sequence != 2 || s.Pending != 2 {
		t.Errorf("state = %s seq %d pending %d", s.Stage, s.Sequence, s.Pending)
	}

	if !s.Locked || !bytes.Equal(s.LockEvidence, []byte("lock-evidence")) {
		t.Error("lock not restored")
	}

	if s.AssetRef != "asset-7" || s.RecipientBasePath != "127.0.0.1:7001" || s.MaxRetries != 3 || s.MaxTimeout != time.Second {
		t.Errorf("proposal terms not restored: %+v", s)
	}

	if s.PendingRequest != nil {
		t.Error("pending request kept after its response")
	}

	if len(s.History) != 2 || s.History[0].Sequence != 1 || s.History[1].Sequence != 2 {
		t.Errorf("history = %+v", s.History)
	}

	if s.PeerAddr() != "127.0.0.1:7001" || !bytes.Equal(s.Counterpart(), []byte("recipient")) {
		t.Error("client counterpart is not the recipient")
	}
}

func TestReplayKeepsPendingRequest(t *testing.T) {
	log := clientLog(t)[:3]

	s, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if s.Pending != 2 || s.Sequence != 1 || !bytes.Equal(s.PendingRequest, []byte("commence")) {
		t.Errorf("pending = %d seq = %d request = %q", s.Pending, s.Sequence, s.PendingRequest)
	}
}

func TestReplayDeterministic(t *testing.T) {
	log := clientLog(t)

	a, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	b, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("two replays of the same log differ")
	}
}

func TestApplyMatchesReplay(t *testing.T) {
	log := clientLog(t)

	live := &Session{}
	for _, e := range log {
		if err := live.Apply(e); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	replayed, _ := Replay(log)
	if !reflect.DeepEqual(live, replayed) {
		t.Error("live session differs from replayed session")
	}
}

func TestTerminalSessionIsClosed(t *testing.T) {
	log := clientLog(t)
	log = append(log, journal.Entry{
		SessionID: "s1", Role: protocol.RoleClient, Timestamp: 2000,
		Type: journal.EntryAborted, Stage: protocol.StageAborted, Sequence: 2, Pending: 2,
		Outcome: protocol.OutcomeAborted, Reason: protocol.ReasonTimeout,
	})

	s, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if !s.NeedsCompensation() {
		t.Error("aborted locked session should need compensation")
	}

	err = s.Apply(journal.Entry{SessionID: "s1", Timestamp: 2001, Type: journal.EntryPrepareSent, Stage: protocol.StagePreparing, Sequence: 2, Pending: 3})
	if !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("transition after terminal: err = %v, want ErrSessionClosed", err)
	}

	err = s.Apply(journal.Entry{SessionID: "s1", Timestamp: 2002, Type: journal.EntryCompensated, Stage: protocol.StageAborted, Sequence: 2, Pending: 2, Outcome: protocol.OutcomeAborted, Reason: protocol.ReasonTimeout})
	if err != nil {
		t.Fatalf("compensation after abort rejected: %v", err)
	}

	if s.NeedsCompensation() {
		t.Error("compensated session still needs compensation")
	}
}

func TestReplayRejectsBadLogs(t *testing.T) {
	tests := map[string]func([]journal.Entry) []journal.Entry{
		"empty": func([]journal.Entry) []journal.Entry { return nil },
		"sequence regresses": func(l []journal.Entry) []journal.Entry {
			l[3].Sequence = 0
			l[3].Pending = 0
			return l
		},
		"out of order": func(l []journal.Entry) []journal.Entry {
			l[2].Timestamp = l[1].Timestamp
			return l
		},
		"foreign session": func(l []journal.Entry) []journal.Entry {
			l[1].SessionID = "other"
			return l
		},
		"unreadable proposal": func(l []journal.Entry) []journal.Entry {
			l[0].RawPayload = []byte("junk")
			return l
		},
	}

	for name, corrupt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Replay(corrupt(clientLog(t))); err == nil {
				t.Error("corrupt log replayed without error")
			}
		})
	}
}

func TestStoreCreateGet(t *testing.T) {
	st := NewStore()

	created, err := st.CreateLocked(&Session{ID: "a"})
	if err != nil {
		t.Fatalf("CreateLocked failed: %v", err)
	}
	if _, ok := created.TryLock(); ok {
		t.Fatal("new session was not locked")
	}
	created.Unlock()

	if _, err := st.CreateLocked(&Session{ID: "a"}); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate CreateLocked: err = %v, want ErrExists", err)
	}

	if _, err := st.Get("missing"); !errors.Is(err, protocol.ErrUnknownSession) {
		t.Errorf("Get missing: err = %v, want ErrUnknownSession", err)
	}

	sl, err := st.Get("a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	s := sl.Lock()
	s.Stage = protocol.StageCommencing

	if sl.Snapshot().Stage != protocol.StageInit {
		t.Error("snapshot exposed an unpublished change")
	}

	sl.Unlock()

	if sl.Snapshot().Stage != protocol.StageCommencing {
		t.Error("snapshot missing the published change")
	}
}

func TestStoreDrop(t *testing.T) {
	st := NewStore()

	sl, err := st.CreateLocked(&Session{ID: "d"})
	if err != nil {
		t.Fatalf("CreateLocked failed: %v", err)
	}
	st.Drop("d")
	sl.Unlock()

	if _, err := st.Get("d"); !errors.Is(err, protocol.ErrUnknownSession) {
		t.Errorf("Get after Drop: err = %v, want ErrUnknownSession", err)
	}
	if st.Len() != 0 {
		t.Errorf("Len = %d, want 0", st.Len())
	}

	// The ID is free again.
	again, err := st.CreateLocked(&Session{ID: "d"})
	if err != nil {
		t.Fatalf("CreateLocked after Drop failed: %v", err)
	}
	again.Unlock()
}

func TestStorePerSessionLocking(t *testing.T) {
	st := NewStore()

	a := st.Put(&Session{ID: "a"})
	b := st.Put(&Session{ID: "b"})

	a.Lock()
	defer a.Unlock()

	if _, ok := a.TryLock(); ok {
		t.Fatal("TryLock succeeded on a held session")
	}

	// Another session stays available while "a" is held.
	if _, ok := b.TryLock(); !ok {
		t.Fatal("unrelated session blocked")
	}
	b.Unlock()
}

func TestStoreConcurrentSequence(t *testing.T) {
	st := NewStore()
	sl := st.Put(&Session{ID: "c"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := sl.Lock()
			s.Sequence++
			sl.Unlock()
		}()
	}
	wg.Wait()

	if got := sl.Snapshot().Sequence; got != 50 {
		t.Errorf("sequence = %d, want 50", got)
	}
}

func TestSnapshotsOrdered(t *testing.T) {
	st := NewStore()
	base := time.Unix(100, 0)

	st.Put(&Session{ID: "z", Created: base})
	st.Put(&Session{ID: "y", Created: base.Add(time.Second)})
	st.Put(&Session{ID: "x", Created: base})

	snaps := st.Snapshots()
	if len(snaps) != 3 || snaps[0].ID != "x" || snaps[1].ID != "z" || snaps[2].ID != "y" {
		ids := make([]string, len(snaps))
		for i, s := range snaps {
			ids[i] = s.ID
		}
		t.Errorf("order = %v", ids)
	}

	if st.Len() != 3 {
		t.Errorf("Len = %d", st.Len())
	}
}
