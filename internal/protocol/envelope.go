package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Ferry/internal/signer"
	"Ferry/internal/types"
)

const (
	// HashSize is the size of a payload hash in bytes.
	HashSize = 32

	// signingDomain separates envelope signatures from any other use of the key.
	signingDomain = "ferry-envelope-v1"

	// maxEnvelopeSize bounds what Decode accepts.
	maxEnvelopeSize = 1 << 20
)

// Envelope is a signed protocol message.
type Envelope struct {
	SessionID string        // SessionID identifies the session
	Sequence  uint64        // Sequence orders the exchange within the session
	Kind      Kind          // Kind identifies the payload type
	Stage     Stage         // Stage is the stage the sender believes the session is in
	Body      []byte        // Body is the encoded payload
	Signature []byte        // Signature covers SigningBytes
	Signer    []byte        // Signer is the sender's public key
	Scheme    signer.Scheme // Scheme is the signature scheme
}

// Seal encodes p, signs the envelope with s and returns it with its wire bytes.
func Seal(s signer.Signer, sessionID string, seq uint64, stage Stage, p Payload) (*Envelope, []byte, error) {
	env := &Envelope{
		SessionID: sessionID,
		Sequence:  seq,
		Kind:      p.Kind(),
		Stage:     stage,
		Body:      encodeBody(p),
		Signer:    s.PublicKey(),
		Scheme:    s.Scheme(),
	}

	sig, err := s.Sign(env.SigningBytes())
	if err != nil {
		return nil, nil, fmt.Errorf("sign %s:\n%w", env.Kind, err)
	}
	env.Signature = sig

	return env, env.Encode(), nil
}

// SigningBytes returns the deterministic, length-prefixed bytes covered by the signature.
func (e *Envelope) SigningBytes() []byte {
	var buf bytes.Buffer
	buf.Grow(len(signingDomain) + len(e.SessionID) + len(e.Body) + len(e.Signer) + 32)

	buf.WriteString(signingDomain)
	writeChunk(&buf, []byte(e.SessionID))
	binary.Write(&buf, binary.BigEndian, e.Sequence)
	buf.WriteByte(byte(e.Kind))
	buf.WriteByte(byte(e.Stage))
	buf.WriteByte(byte(e.Scheme))
	writeChunk(&buf, e.Signer)
	writeChunk(&buf, e.Body)

	return buf.Bytes()
}

// writeChunk appends a 4-byte big-endian length followed by b.
func writeChunk(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

// Hash returns the BLAKE3-256 hash of the signing bytes.
// Two envelopes with the same hash carry the same signed content.
func (e *Envelope) Hash() []byte {
	sum := blake3.Sum256(e.SigningBytes())
	return sum[:]
}

// Verify checks the signature against pubkey. The envelope's Signer field is
// only a hint; the caller supplies the key registered for the counterpart.
func (e *Envelope) Verify(pubkey []byte) error {
	if !bytes.Equal(e.Signer, pubkey) {
		return fmt.Errorf("signer %x is not the session counterpart:\n%w", short(e.Signer), ErrBadSignature)
	}

	if !signer.Verify(e.Scheme, e.SigningBytes(), e.Signature, pubkey) {
		return fmt.Errorf("%s seq %d:\n%w", e.Kind, e.Sequence, ErrBadSignature)
	}

	return nil
}

// Payload decodes the body according to Kind.
func (e *Envelope) Payload() (Payload, error) {
	return decodeBody(e.Kind, e.Body)
}

// Encode serializes the envelope into a types.Envelope table.
func (e *Envelope) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(e.Body) + len(e.Signature) + len(e.Signer) + 128)

	sessionID := builder.CreateString(e.SessionID)
	body := builder.CreateByteVector(e.Body)
	signature := builder.CreateByteVector(e.Signature)
	signerKey := builder.CreateByteVector(e.Signer)

	types.EnvelopeStart(builder)
	types.EnvelopeAddSessionId(builder, sessionID)
	types.EnvelopeAddSequence(builder, e.Sequence)
	types.EnvelopeAddKind(builder, byte(e.Kind))
	types.EnvelopeAddStage(builder, byte(e.Stage))
	types.EnvelopeAddBody(builder, body)
	types.EnvelopeAddSignature(builder, signature)
	types.EnvelopeAddSigner(builder, signerKey)
	types.EnvelopeAddScheme(builder, byte(e.Scheme))
	offset := types.EnvelopeEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// Decode parses and schema-checks envelope bytes. It never panics: malformed
// buffers yield ErrMalformed.
func Decode(data []byte) (env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env, err = nil, fmt.Errorf("decode envelope: %v:\n%w", r, ErrMalformed)
		}
	}()

	if len(data) < 8 || len(data) > maxEnvelopeSize {
		return nil, fmt.Errorf("envelope size %d:\n%w", len(data), ErrMalformed)
	}

	root := flatbuffers.GetUOffsetT(data)
	if int(root) >= len(data) {
		return nil, fmt.Errorf("root offset out of range:\n%w", ErrMalformed)
	}

	fb := types.GetRootAsEnvelope(data, 0)

	env = &Envelope{
		SessionID: string(fb.SessionId()),
		Sequence:  fb.Sequence(),
		Kind:      Kind(fb.Kind()),
		Stage:     Stage(fb.Stage()),
		Body:      cloneBytes(fb.BodyBytes()),
		Signature: cloneBytes(fb.SignatureBytes()),
		Signer:    cloneBytes(fb.SignerBytes()),
		Scheme:    signer.Scheme(fb.Scheme()),
	}

	if err := env.validate(); err != nil {
		return nil, err
	}

	return env, nil
}

// validate checks required fields and enum ranges.
func (e *Envelope) validate() error {
	switch {
	case e.SessionID == "":
		return fmt.Errorf("missing session id:\n%w", ErrMalformed)
	case !e.Kind.Valid():
		return fmt.Errorf("unknown kind %d:\n%w", e.Kind, ErrMalformed)
	case !e.Stage.Valid():
		return fmt.Errorf("unknown stage %d:\n%w", e.Stage, ErrMalformed)
	case len(e.Body) == 0:
		return fmt.Errorf("missing body:\n%w", ErrMalformed)
	case len(e.Signature) == 0 || len(e.Signer) == 0:
		return fmt.Errorf("missing signature:\n%w", ErrMalformed)
	}

	return nil
}

// short returns the first bytes of a key for log and error messages.
func short(b []byte) []byte {
	if len(b) > 8 {
		return b[:8]
	}
	return b
}
