package storage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the block cache size used when Options.CacheSize is zero.
	defaultCacheSize = 16 << 20
)

// ErrStop can be returned from an iteration callback to end the scan early
// without reporting an error to the caller.
var ErrStop = errors.New("stop iteration")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("storage closed")

// KeyValue represents a key-value pair for batch operations.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Options configures a Storage.
type Options struct {
	Path      string        // Path is the database directory (ignored when InMemory)
	InMemory  bool          // InMemory keeps the database on an in-memory filesystem
	CacheSize int64         // CacheSize is the block cache size in bytes
	SyncEvery time.Duration // SyncEvery is the background WAL sync interval for NoSync writes
}

// Storage is a key-value store backed by Pebble.
// Set and SetBatch are buffered and synced by a background goroutine;
// SetSync and SetBatchSync return only once the write is durable.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// New opens a Storage at the given path.
func New(path string) (*Storage, error) {
	return Open(Options{Path: path})
}

// Open opens a Storage with explicit options.
func Open(o Options) (*Storage, error) {
	cacheSize := o.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	opts := &pebble.Options{
		Cache:                       pebble.NewCache(cacheSize),
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	}

	path := o.Path
	if o.InMemory {
		opts.FS = vfs.NewMem()
		path = "mem"
	}

	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	interval := o.SyncEvery
	if interval == 0 {
		interval = defaultSyncInterval
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop(interval)

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return clone(value), nil
}

// Has reports whether key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// Set stores a key-value pair. The write is synced by the background loop.
func (s *Storage) Set(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.NoSync)
}

// SetSync stores a key-value pair and waits for the WAL to reach disk.
func (s *Storage) SetSync(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.Sync)
}

// SetBatch atomically stores multiple key-value pairs without waiting for durability.
func (s *Storage) SetBatch(pairs []KeyValue) error {
	return s.commitBatch(pairs, pebble.NoSync)
}

// SetBatchSync atomically stores multiple key-value pairs and waits for durability.
func (s *Storage) SetBatchSync(pairs []KeyValue) error {
	return s.commitBatch(pairs, pebble.Sync)
}

// commitBatch writes pairs in one Pebble batch with the given write options.
func (s *Storage) commitBatch(pairs []KeyValue, opts *pebble.WriteOptions) error {
	if s.closed.Load() {
		return ErrClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(opts)
}

// IteratePrefix calls fn for each key-value pair with the given prefix, in key order.
// Returning ErrStop from fn ends the scan without an error.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}

	return iter.Error()
}

// Last returns the greatest key with the given prefix and its value.
// Returns nil, nil, nil when no key matches.
func (s *Storage) Last(prefix []byte) ([]byte, []byte, error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, nil, iter.Error()
	}

	value, err := iter.ValueAndErr()
	if err != nil {
		return nil, nil, err
	}

	return clone(iter.Key()), clone(value), nil
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// clone copies b; Pebble values are only valid until the closer or iterator moves.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Close stops the sync goroutine, flushes the WAL and closes the database.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop(interval time.Duration) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
