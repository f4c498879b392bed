// Package journal is the gateway's append-only log store and the mirror of
// counterpart log digests received during recovery.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"Ferry/internal/logger"
	"Ferry/internal/storage"
)

var (
	// prefixEntry prefixes log entries: e:<session>\x00<timestamp>.
	prefixEntry = []byte("e:")

	// prefixSession indexes every session that has at least one entry.
	prefixSession = []byte("s:")
)

// ErrEmptySession is returned when appending an entry without a session ID.
var ErrEmptySession = errors.New("entry has no session id")

// Config configures a Journal.
type Config struct {
	Log *slog.Logger     // Log receives journal diagnostics
	Now func() time.Time // Now is the clock, time.Now when nil
}

// Journal is the durable, append-only log of session transitions.
// Append returns only after the entry is synced to disk. Appends of
// different sessions run in parallel; appends of one session must be
// serialized by the caller.
type Journal struct {
	db  *storage.Storage
	log *slog.Logger
	now func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.Mutex
	clocks map[string]int64 // clocks holds the last timestamp of each session touched since open
}

// New opens a journal over db.
func New(db *storage.Storage, cfg Config) (*Journal, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	j := &Journal{
		db:  db,
		log: logger.OrDiscard(cfg.Log),
		now: cfg.Now,
		enc:    enc,
		dec:    dec,
		clocks: make(map[string]int64),
	}

	if j.now == nil {
		j.now = time.Now
	}

	return j, nil
}

// Close releases the codec resources. The storage is owned by the caller.
func (j *Journal) Close() {
	j.enc.Close()
	j.dec.Close()
}

// Append assigns the next timestamp of e's session and writes e durably.
// Timestamps strictly increase within a session, so its entries replay in
// append order even if the wall clock steps back.
func (j *Journal) Append(e Entry) (Entry, error) {
	if e.SessionID == "" {
		return Entry{}, ErrEmptySession
	}

	var raw []byte
	if len(e.RawPayload) > 0 {
		raw = j.enc.EncodeAll(e.RawPayload, nil)
	}

	ts, err := j.stamp(e.SessionID)
	if err != nil {
		return Entry{}, err
	}
	e.Timestamp = ts

	err = j.db.SetBatchSync([]storage.KeyValue{
		{Key: entryKey(e.SessionID, ts), Value: encodeRecord(e, raw)},
		{Key: sessionKey(e.SessionID), Value: []byte{byte(e.Role)}},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append %s for %s:\n%w", e.Type, e.SessionID, err)
	}

	j.log.Debug("journal append",
		"session", e.SessionID,
		"type", e.Type,
		"stage", e.Stage,
		"seq", e.Sequence,
	)

	return e, nil
}

// stamp returns the next timestamp of a session. The lock covers only the
// clock; the first touch of a session reads its last key from disk.
func (j *Journal) stamp(sessionID string) (int64, error) {
	j.mu.Lock()
	last, ok := j.clocks[sessionID]
	j.mu.Unlock()

	if !ok {
		key, _, err := j.db.Last(sessionPrefix(sessionID))
		if err != nil {
			return 0, fmt.Errorf("read clock of %s:\n%w", sessionID, err)
		}
		if len(key) >= 8 {
			last = int64(binary.BigEndian.Uint64(key[len(key)-8:]))
		}
	}

	ts := j.now().UnixNano()

	j.mu.Lock()
	defer j.mu.Unlock()

	if cur := j.clocks[sessionID]; cur > last {
		last = cur
	}
	if ts <= last {
		ts = last + 1
	}
	j.clocks[sessionID] = ts

	return ts, nil
}

// Entries returns every entry of a session in timestamp order.
func (j *Journal) Entries(sessionID string) ([]Entry, error) {
	var entries []Entry

	err := j.db.IteratePrefix(sessionPrefix(sessionID), func(_, value []byte) error {
		e, err := j.decode(value)
		if err != nil {
			return err
		}

		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read log of %s:\n%w", sessionID, err)
	}

	return entries, nil
}

// Last returns the most recent entry of a session.
func (j *Journal) Last(sessionID string) (Entry, bool, error) {
	key, value, err := j.db.Last(sessionPrefix(sessionID))
	if err != nil {
		return Entry{}, false, fmt.Errorf("read last entry of %s:\n%w", sessionID, err)
	}

	if key == nil {
		return Entry{}, false, nil
	}

	e, err := j.decode(value)
	if err != nil {
		return Entry{}, false, err
	}

	return e, true, nil
}

// Sessions returns the IDs of all sessions with at least one entry, in key order.
func (j *Journal) Sessions() ([]string, error) {
	var ids []string

	err := j.db.IteratePrefix(prefixSession, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefixSession):]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions:\n%w", err)
	}

	return ids, nil
}

// decode parses a stored record and decompresses its payload.
func (j *Journal) decode(value []byte) (Entry, error) {
	e, raw, err := decodeRecord(value)
	if err != nil {
		return Entry{}, err
	}

	if len(raw) > 0 {
		e.RawPayload, err = j.dec.DecodeAll(raw, nil)
		if err != nil {
			return Entry{}, fmt.Errorf("decompress payload of %s:\n%w", e.SessionID, err)
		}
	}

	return e, nil
}

// entryKey builds e:<session>\x00<timestamp>.
func entryKey(sessionID string, ts int64) []byte {
	key := sessionPrefix(sessionID)
	return binary.BigEndian.AppendUint64(key, uint64(ts))
}

// sessionPrefix builds e:<session>\x00. The separator keeps one session's
// prefix from matching another session whose ID extends it.
func sessionPrefix(sessionID string) []byte {
	key := make([]byte, 0, len(prefixEntry)+len(sessionID)+9)
	key = append(key, prefixEntry...)
	key = append(key, sessionID...)
	return append(key, 0)
}

// sessionKey builds s:<session>.
func sessionKey(sessionID string) []byte {
	return append(append([]byte(nil), prefixSession...), sessionID...)
}
