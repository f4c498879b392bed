package journal

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Ferry/internal/protocol"
	"Ferry/internal/types"
)

// EntryType names the transition an entry records.
type EntryType uint8

const (
	EntryProposalSent EntryType = iota + 1
	EntryProposalReceived
	EntryProposalAccepted
	EntryCommenceSent
	EntryCommenced
	EntryLocked
	EntryPrepareSent
	EntryPrepared
	EntryAsserted
	EntryAssertAcked
	EntryCompleteSent
	EntryCommitted
	EntryRejected
	EntryAborted
	EntryCompensated
	EntryCompensationFailed
	EntryMessageAccepted
	EntryRecoveryCheckpoint

	entryMax = EntryRecoveryCheckpoint
)

var entryNames = map[EntryType]string{
	EntryProposalSent:       "PROPOSAL_SENT",
	EntryProposalReceived:   "PROPOSAL_RECEIVED",
	EntryProposalAccepted:   "PROPOSAL_ACCEPTED",
	EntryCommenceSent:       "COMMENCE_SENT",
	EntryCommenced:          "COMMENCED",
	EntryLocked:             "LOCKED",
	EntryPrepareSent:        "PREPARE_SENT",
	EntryPrepared:           "PREPARED",
	EntryAsserted:           "ASSERTED",
	EntryAssertAcked:        "ASSERT_ACKED",
	EntryCompleteSent:       "COMPLETE_SENT",
	EntryCommitted:          "COMMITTED",
	EntryRejected:           "REJECTED",
	EntryAborted:            "ABORTED",
	EntryCompensated:        "COMPENSATED",
	EntryCompensationFailed: "COMPENSATION_FAILED",
	EntryMessageAccepted:    "MESSAGE_ACCEPTED",
	EntryRecoveryCheckpoint: "RECOVERY_CHECKPOINT",
}

// String returns the entry type name.
func (t EntryType) String() string {
	if name, ok := entryNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// Entry is one durable record of a session transition.
// Every entry carries the session's stage, sequence, pending sequence and
// outcome after the transition, so replay never has to infer them.
type Entry struct {
	SessionID   string           `json:"session_id"`
	Type        EntryType        `json:"type"`
	Timestamp   int64            `json:"timestamp"`              // Timestamp is unix nanoseconds, assigned by Append
	Role        protocol.Role    `json:"role"`
	Stage       protocol.Stage   `json:"stage"`
	Sequence    uint64           `json:"sequence"`
	Pending     uint64           `json:"pending"`
	Outcome     protocol.Outcome `json:"outcome"`
	Reason      protocol.Reason  `json:"reason,omitempty"`
	PayloadHash []byte           `json:"payload_hash,omitempty"`
	RawPayload  []byte           `json:"raw_payload,omitempty"`  // RawPayload is the signed message bytes, if any
}

// encodeRecord serializes an entry into a types.LogRecord table.
// raw is the already compressed payload.
func encodeRecord(e Entry, raw []byte) []byte {
	builder := flatbuffers.NewBuilder(len(raw) + len(e.PayloadHash) + 128)

	sessionID := builder.CreateString(e.SessionID)

	var reason, hash, payload flatbuffers.UOffsetT
	if e.Reason != "" {
		reason = builder.CreateString(string(e.Reason))
	}
	if len(e.PayloadHash) > 0 {
		hash = builder.CreateByteVector(e.PayloadHash)
	}
	if len(raw) > 0 {
		payload = builder.CreateByteVector(raw)
	}

	types.LogRecordStart(builder)
	types.LogRecordAddSessionId(builder, sessionID)
	types.LogRecordAddType(builder, byte(e.Type))
	types.LogRecordAddTimestamp(builder, e.Timestamp)
	types.LogRecordAddRole(builder, byte(e.Role))
	types.LogRecordAddStage(builder, byte(e.Stage))
	types.LogRecordAddSequence(builder, e.Sequence)
	types.LogRecordAddPending(builder, e.Pending)
	types.LogRecordAddOutcome(builder, byte(e.Outcome))
	if reason != 0 {
		types.LogRecordAddReason(builder, reason)
	}
	if hash != 0 {
		types.LogRecordAddPayloadHash(builder, hash)
	}
	if payload != 0 {
		types.LogRecordAddRawPayload(builder, payload)
	}
	offset := types.LogRecordEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// decodeRecord parses a stored record. The returned raw payload is still compressed.
func decodeRecord(data []byte) (e Entry, raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt log record: %v", r)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return Entry{}, nil, fmt.Errorf("log record too short")
	}

	rec := types.GetRootAsLogRecord(data, 0)

	e = Entry{
		SessionID: string(rec.SessionId()),
		Type:      EntryType(rec.Type()),
		Timestamp: rec.Timestamp(),
		Role:      protocol.Role(rec.Role()),
		Stage:     protocol.Stage(rec.Stage()),
		Sequence:  rec.Sequence(),
		Pending:   rec.Pending(),
		Outcome:   protocol.Outcome(rec.Outcome()),
		Reason:    protocol.Reason(rec.Reason()),
	}

	if h := rec.PayloadHashBytes(); len(h) > 0 {
		e.PayloadHash = append([]byte(nil), h...)
	}

	if e.Type == 0 || e.Type > entryMax {
		return Entry{}, nil, fmt.Errorf("unknown entry type %d", e.Type)
	}

	return e, rec.RawPayloadBytes(), nil
}

// MarshalText renders the entry type name in JSON.
func (t EntryType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses an entry type name.
func (t *EntryType) UnmarshalText(b []byte) error {
	for k, name := range entryNames {
		if name == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown entry type %q", b)
}
