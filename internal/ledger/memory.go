package ledger

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"
)

// assetState tracks one asset on the memory ledger.
type assetState struct {
	present  bool   // present is false once burned
	lockedBy string // lockedBy is the session holding the escrow
	burnedBy string // burnedBy is the session that burned the asset
	mintedBy string // mintedBy is the session that minted the asset
}

// opKey identifies an operation for idempotency.
type opKey struct {
	op      Op
	session string
}

// Memory is an in-process ledger. It serves tests and single-host setups.
type Memory struct {
	name string

	mu     sync.Mutex
	assets map[string]*assetState
	done   map[opKey]Result
	fail   map[Op]error
	refuse map[Op]string
	calls  map[Op]int
}

// NewMemory creates an empty memory ledger.
func NewMemory(name string) *Memory {
	return &Memory{
		name:   name,
		assets: make(map[string]*assetState),
		done:   make(map[opKey]Result),
		fail:   make(map[Op]error),
		refuse: make(map[Op]string),
		calls:  make(map[Op]int),
	}
}

// Issue creates an unlocked asset.
func (m *Memory) Issue(assetRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assets[assetRef] = &assetState{present: true}
}

// Has reports whether the asset exists.
func (m *Memory) Has(assetRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[assetRef]
	return ok && a.present
}

// Locked reports whether the asset is in escrow.
func (m *Memory) Locked(assetRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[assetRef]
	return ok && a.lockedBy != ""
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[op]
}

// Fail makes every later call of op return err. A nil err clears it.
func (m *Memory) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Refuse makes every later call of op answer OK false with reason.
func (m *Memory) Refuse(op Op, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason == "" {
		delete(m.refuse, op)
		return
	}
	m.refuse[op] = reason
}

// LockAsset escrows an existing, unlocked asset.
func (m *Memory) LockAsset(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return m.do(ctx, OpLock, sessionID, assetRef, func(a *assetState) Result {
		if a == nil || !a.present {
			return Result{Reason: "asset not found"}
		}
		if a.lockedBy != "" && a.lockedBy != sessionID {
			return Result{Reason: "asset locked by another session"}
		}
		a.lockedBy = sessionID
		return Result{OK: true}
	})
}

// AssertCommit burns an asset the session locked, or mints an asset that
// does not exist on this ledger.
func (m *Memory) AssertCommit(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return m.do(ctx, OpAssert, sessionID, assetRef, func(a *assetState) Result {
		switch {
		case a != nil && a.present && a.lockedBy == sessionID:
			a.present = false
			a.lockedBy = ""
			a.burnedBy = sessionID
		case a == nil || !a.present:
			m.assets[assetRef] = &assetState{present: true, mintedBy: sessionID}
		default:
			return Result{Reason: "asset not locked by session"}
		}
		return Result{OK: true}
	})
}

// Compensate reverses the session's effect on the asset.
func (m *Memory) Compensate(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return m.do(ctx, OpCompensate, sessionID, assetRef, func(a *assetState) Result {
		if a == nil {
			return Result{OK: true}
		}

		switch {
		case a.burnedBy == sessionID:
			a.present = true
			a.burnedBy = ""
		case a.mintedBy == sessionID:
			a.present = false
			a.mintedBy = ""
		case a.lockedBy == sessionID:
			a.lockedBy = ""
		}
		return Result{OK: true}
	})
}

// do runs an operation once per session, recording its result.
func (m *Memory) do(ctx context.Context, op Op, sessionID, assetRef string, apply func(*assetState) Result) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[op]++

	if err := m.fail[op]; err != nil {
		return Result{}, err
	}

	if reason, ok := m.refuse[op]; ok {
		return Result{Reason: reason}, nil
	}

	key := opKey{op: op, session: sessionID}
	if r, ok := m.done[key]; ok {
		return r, nil
	}

	r := apply(m.assets[assetRef])
	if r.OK {
		r.Evidence = m.evidence(op, sessionID, assetRef)
		m.done[key] = r
	}

	return r, nil
}

// evidence derives a deterministic transaction id for an operation.
func (m *Memory) evidence(op Op, sessionID, assetRef string) []byte {
	h := blake3.New()
	h.Write([]byte(m.name))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(assetRef))

	sum := h.Sum(nil)
	return []byte(m.name + ":" + string(op) + ":" + hex.EncodeToString(sum[:16]))
}
