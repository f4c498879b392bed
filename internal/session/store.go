package session

import (
	"errors"
	"fmt"
	"hash/maphash"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"Ferry/internal/protocol"
)

// shardCount is the number of map shards; a power of two.
const shardCount = 64

// ErrExists is returned when creating a session whose ID is already taken.
var ErrExists = errors.New("session already exists")

// Slot guards one session. The mutex serializes every transition of the
// session; Snapshot reads the last committed state without taking it.
type Slot struct {
	mu   sync.Mutex
	cur  *Session
	snap atomic.Pointer[Session]
}

// Lock takes the session lock and returns the live session.
// Callers must call Unlock, which publishes the session.
func (sl *Slot) Lock() *Session {
	sl.mu.Lock()
	return sl.cur
}

// TryLock takes the lock only if nobody holds it.
func (sl *Slot) TryLock() (*Session, bool) {
	if !sl.mu.TryLock() {
		return nil, false
	}
	return sl.cur, true
}

// Unlock publishes the live session to readers and releases the lock.
func (sl *Slot) Unlock() {
	sl.snap.Store(sl.cur.Clone())
	sl.mu.Unlock()
}

// Snapshot returns a copy of the last published state.
func (sl *Slot) Snapshot() *Session {
	return sl.snap.Load().Clone()
}

// shard is one partition of the store.
type shard struct {
	mu    sync.RWMutex
	slots map[string]*Slot
}

// Store is the in-memory index of sessions. There is no global lock: the
// map is sharded and each session has its own mutex.
type Store struct {
	seed   maphash.Seed
	shards [shardCount]shard
}

// NewStore creates an empty store.
func NewStore() *Store {
	st := &Store{seed: maphash.MakeSeed()}
	for i := range st.shards {
		st.shards[i].slots = make(map[string]*Slot)
	}
	return st
}

// shardFor returns the shard owning id.
func (st *Store) shardFor(id string) *shard {
	return &st.shards[maphash.String(st.seed, id)&(shardCount-1)]
}

// CreateLocked adds a new session whose lock is already held by the caller,
// so no other goroutine observes it before its first entry is logged.
func (st *Store) CreateLocked(s *Session) (*Slot, error) {
	sh := st.shardFor(s.ID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.slots[s.ID]; ok {
		return nil, fmt.Errorf("%s:\n%w", s.ID, ErrExists)
	}

	sl := &Slot{cur: s}
	sl.mu.Lock()
	sl.snap.Store(s.Clone())
	sh.slots[s.ID] = sl

	return sl, nil
}

// Put adds or replaces a session, used when rebuilding from the log.
func (st *Store) Put(s *Session) *Slot {
	sh := st.shardFor(s.ID)

	sh.mu.Lock()
	sl, ok := sh.slots[s.ID]
	if !ok {
		sl = &Slot{cur: s}
		sl.snap.Store(s.Clone())
		sh.slots[s.ID] = sl
	}
	sh.mu.Unlock()

	if ok {
		sl.mu.Lock()
		sl.cur = s
		sl.Unlock()
	}

	return sl
}

// Drop forgets a session whose first entry could not be logged. The caller
// holds its lock from CreateLocked and still releases it.
func (st *Store) Drop(id string) {
	sh := st.shardFor(id)

	sh.mu.Lock()
	delete(sh.slots, id)
	sh.mu.Unlock()
}

// Get returns the slot for id.
func (st *Store) Get(id string) (*Slot, error) {
	sh := st.shardFor(id)

	sh.mu.RLock()
	sl, ok := sh.slots[id]
	sh.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s:\n%w", id, protocol.ErrUnknownSession)
	}

	return sl, nil
}

// Snapshots returns copies of every session, ordered by creation time then ID.
func (st *Store) Snapshots() []*Session {
	var out []*Session

	for i := range st.shards {
		sh := &st.shards[i]

		sh.mu.RLock()
		for _, sl := range sh.slots {
			out = append(out, sl.Snapshot())
		}
		sh.mu.RUnlock()
	}

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return out
}

// Slots returns every slot, for background scans.
func (st *Store) Slots() []*Slot {
	var out []*Slot

	for i := range st.shards {
		sh := &st.shards[i]

		sh.mu.RLock()
		for _, sl := range sh.slots {
			out = append(out, sl)
		}
		sh.mu.RUnlock()
	}

	return out
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.RLock()
		n += len(sh.slots)
		sh.mu.RUnlock()
	}
	return n
}
