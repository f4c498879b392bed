package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	"Ferry/internal/protocol"
	"Ferry/internal/storage"
)

// prefixMirror prefixes mirrored records: m:<session>\x00<received-at>.
var prefixMirror = []byte("m:")

// MirrorRecord is a counterpart's signed log digest as received during recovery.
type MirrorRecord struct {
	SessionID  string             `json:"session_id"`
	ReceivedAt time.Time          `json:"received_at"`
	Hash       []byte             `json:"hash"`
	Signature  []byte             `json:"signature"`
	Signer     []byte             `json:"signer"`
	View       protocol.View      `json:"view"`
	Envelope   *protocol.Envelope `json:"-"`
}

// Mirror stores the counterpart's signed digests so a later dispute can be
// settled from this gateway's own disk.
type Mirror struct {
	db  *storage.Storage
	now func() time.Time
}

// NewMirror creates a mirror over db.
func NewMirror(db *storage.Storage, now func() time.Time) *Mirror {
	if now == nil {
		now = time.Now
	}

	return &Mirror{db: db, now: now}
}

// Put stores a verified RecoverUpdate or RecoverUpdateAck envelope.
func (m *Mirror) Put(env *protocol.Envelope) error {
	if env.Kind != protocol.KindRecoverUpdate && env.Kind != protocol.KindRecoverUpdateAck {
		return fmt.Errorf("mirror %s:\n%w", env.Kind, protocol.ErrMalformed)
	}

	key := mirrorPrefix(env.SessionID)
	key = binary.BigEndian.AppendUint64(key, uint64(m.now().UnixNano()))

	// The counterpart resends its view on every exchange, so the background
	// sync is enough here.
	if err := m.db.Set(key, env.Encode()); err != nil {
		return fmt.Errorf("mirror %s:\n%w", env.SessionID, err)
	}

	return nil
}

// Latest returns the most recent mirrored record of a session.
func (m *Mirror) Latest(sessionID string) (MirrorRecord, bool, error) {
	key, value, err := m.db.Last(mirrorPrefix(sessionID))
	if err != nil {
		return MirrorRecord{}, false, fmt.Errorf("read mirror of %s:\n%w", sessionID, err)
	}

	if key == nil {
		return MirrorRecord{}, false, nil
	}

	rec, err := mirrorRecord(key, value)
	if err != nil {
		return MirrorRecord{}, false, err
	}

	return rec, true, nil
}

// All returns every mirrored record of a session, oldest first.
func (m *Mirror) All(sessionID string) ([]MirrorRecord, error) {
	var records []MirrorRecord

	err := m.db.IteratePrefix(mirrorPrefix(sessionID), func(key, value []byte) error {
		rec, err := mirrorRecord(key, value)
		if err != nil {
			return err
		}

		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read mirror of %s:\n%w", sessionID, err)
	}

	return records, nil
}

// mirrorRecord decodes a stored envelope into a record.
func mirrorRecord(key, value []byte) (MirrorRecord, error) {
	env, err := protocol.Decode(value)
	if err != nil {
		return MirrorRecord{}, fmt.Errorf("decode mirrored envelope:\n%w", err)
	}

	p, err := env.Payload()
	if err != nil {
		return MirrorRecord{}, fmt.Errorf("decode mirrored view:\n%w", err)
	}

	var view protocol.View
	switch v := p.(type) {
	case protocol.RecoverUpdate:
		view = v.View
	case protocol.RecoverUpdateAck:
		view = v.View
	}

	var receivedAt time.Time
	if len(key) >= 8 {
		receivedAt = time.Unix(0, int64(binary.BigEndian.Uint64(key[len(key)-8:])))
	}

	return MirrorRecord{
		SessionID:  env.SessionID,
		ReceivedAt: receivedAt,
		Hash:       env.Hash(),
		Signature:  env.Signature,
		Signer:     env.Signer,
		View:       view,
		Envelope:   env,
	}, nil
}

// mirrorPrefix builds m:<session>\x00.
func mirrorPrefix(sessionID string) []byte {
	key := make([]byte, 0, len(prefixMirror)+len(sessionID)+9)
	key = append(key, prefixMirror...)
	key = append(key, sessionID...)
	return append(key, 0)
}
