package protocol

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"Ferry/internal/types"
)

// fields is the flat superset of every payload, mapped one to one onto types.Body.
type fields struct {
	accept            bool
	reason            string
	assetRef          string
	sourceLedger      string
	recipientLedger   string
	originator        string
	beneficiary       string
	sourceBasePath    string
	recipientBasePath string
	sourcePubkey      []byte
	recipientPubkey   []byte
	maxTimeoutMs      uint64
	maxRetries        uint32
	evidence          []byte
	requestHash       []byte
	stage             Stage
	sequence          uint64
	pending           uint64
	outcome           Outcome
	history           []Digest
}

func (p ProposalRequest) fields() fields {
	return fields{
		assetRef:          p.AssetRef,
		sourceLedger:      p.SourceLedger,
		recipientLedger:   p.RecipientLedger,
		originator:        p.Originator,
		beneficiary:       p.Beneficiary,
		sourceBasePath:    p.SourceBasePath,
		recipientBasePath: p.RecipientBasePath,
		sourcePubkey:      p.SourcePubkey,
		recipientPubkey:   p.RecipientPubkey,
		maxTimeoutMs:      uint64(p.MaxTimeout / time.Millisecond),
		maxRetries:        p.MaxRetries,
	}
}

func (p ProposalReceipt) fields() fields {
	return fields{requestHash: p.RequestHash, accept: p.Accept, reason: string(p.Reason)}
}

func (p CommenceRequest) fields() fields  { return fields{assetRef: p.AssetRef} }
func (p CommenceResponse) fields() fields { return fields{requestHash: p.RequestHash} }
func (p PrepareRequest) fields() fields   { return fields{evidence: p.LockEvidence} }
func (p ReadyResponse) fields() fields    { return fields{requestHash: p.RequestHash} }
func (p FinalAssertion) fields() fields   { return fields{evidence: p.BurnEvidence} }
func (p CompleteRequest) fields() fields  { return fields{} }
func (p CompleteResponse) fields() fields { return fields{requestHash: p.RequestHash} }
func (p Rollback) fields() fields         { return fields{reason: string(p.Reason)} }

func (p FinalAck) fields() fields {
	return fields{requestHash: p.RequestHash, evidence: p.MintEvidence}
}

func (p RecoverUpdate) fields() fields {
	return viewFields(p.View)
}

func (p RecoverUpdateAck) fields() fields {
	f := viewFields(p.View)
	f.requestHash = p.RequestHash
	return f
}

func (p RollbackAck) fields() fields {
	return fields{requestHash: p.RequestHash, accept: p.Compensated, reason: string(p.Reason)}
}

func (p Error) fields() fields {
	return fields{requestHash: p.RequestHash, reason: string(p.Reason)}
}

// viewFields maps a recovery view onto body fields.
func viewFields(v View) fields {
	return fields{
		stage:    v.Stage,
		sequence: v.Sequence,
		pending:  v.Pending,
		outcome:  v.Outcome,
		reason:   string(v.Reason),
		history:  v.History,
	}
}

// view rebuilds a recovery view from body fields.
func (f fields) view() View {
	return View{
		Stage:    f.stage,
		Sequence: f.sequence,
		Pending:  f.pending,
		Outcome:  f.outcome,
		Reason:   Reason(f.reason),
		History:  f.history,
	}
}

// encodeBody serializes a payload into a types.Body table.
func encodeBody(p Payload) []byte {
	f := p.fields()
	builder := flatbuffers.NewBuilder(256)

	// Strings and vectors must be created before the table starts.
	str := func(s string) flatbuffers.UOffsetT {
		if s == "" {
			return 0
		}
		return builder.CreateString(s)
	}
	vec := func(b []byte) flatbuffers.UOffsetT {
		if len(b) == 0 {
			return 0
		}
		return builder.CreateByteVector(b)
	}

	reason := str(f.reason)
	assetRef := str(f.assetRef)
	sourceLedger := str(f.sourceLedger)
	recipientLedger := str(f.recipientLedger)
	originator := str(f.originator)
	beneficiary := str(f.beneficiary)
	sourceBasePath := str(f.sourceBasePath)
	recipientBasePath := str(f.recipientBasePath)
	sourcePubkey := vec(f.sourcePubkey)
	recipientPubkey := vec(f.recipientPubkey)
	evidence := vec(f.evidence)
	requestHash := vec(f.requestHash)
	history := buildHistory(builder, f.history)

	types.BodyStart(builder)
	types.BodyAddAccept(builder, f.accept)
	addOffset(builder, types.BodyAddReason, reason)
	addOffset(builder, types.BodyAddAssetRef, assetRef)
	addOffset(builder, types.BodyAddSourceLedger, sourceLedger)
	addOffset(builder, types.BodyAddRecipientLedger, recipientLedger)
	addOffset(builder, types.BodyAddOriginator, originator)
	addOffset(builder, types.BodyAddBeneficiary, beneficiary)
	addOffset(builder, types.BodyAddSourceBasePath, sourceBasePath)
	addOffset(builder, types.BodyAddRecipientBasePath, recipientBasePath)
	addOffset(builder, types.BodyAddSourcePubkey, sourcePubkey)
	addOffset(builder, types.BodyAddRecipientPubkey, recipientPubkey)
	types.BodyAddMaxTimeoutMs(builder, f.maxTimeoutMs)
	types.BodyAddMaxRetries(builder, f.maxRetries)
	addOffset(builder, types.BodyAddEvidence, evidence)
	addOffset(builder, types.BodyAddRequestHash, requestHash)
	types.BodyAddStage(builder, byte(f.stage))
	types.BodyAddSequence(builder, f.sequence)
	types.BodyAddPending(builder, f.pending)
	types.BodyAddOutcome(builder, byte(f.outcome))
	addOffset(builder, types.BodyAddHistory, history)
	offset := types.BodyEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// addOffset adds an offset field only when it was created.
func addOffset(builder *flatbuffers.Builder, add func(*flatbuffers.Builder, flatbuffers.UOffsetT), off flatbuffers.UOffsetT) {
	if off != 0 {
		add(builder, off)
	}
}

// buildHistory creates the history vector of LogDigest tables.
func buildHistory(builder *flatbuffers.Builder, history []Digest) flatbuffers.UOffsetT {
	if len(history) == 0 {
		return 0
	}

	offsets := make([]flatbuffers.UOffsetT, len(history))
	for i, d := range history {
		hash := builder.CreateByteVector(d.RequestHash)

		types.LogDigestStart(builder)
		types.LogDigestAddSequence(builder, d.Sequence)
		types.LogDigestAddRequestHash(builder, hash)
		offsets[i] = types.LogDigestEnd(builder)
	}

	types.BodyStartHistoryVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}

	return builder.EndVector(len(offsets))
}

// decodeBody parses a types.Body table into the payload for kind.
// Panics raised by malformed buffers are converted into ErrMalformed.
func decodeBody(kind Kind, data []byte) (p Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("decode %s body: %v:\n%w", kind, r, ErrMalformed)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%s body too short:\n%w", kind, ErrMalformed)
	}

	f := readFields(types.GetRootAsBody(data, 0))

	switch kind {
	case KindProposalRequest:
		return ProposalRequest{
			AssetRef:          f.assetRef,
			SourceLedger:      f.sourceLedger,
			RecipientLedger:   f.recipientLedger,
			Originator:        f.originator,
			Beneficiary:       f.beneficiary,
			SourceBasePath:    f.sourceBasePath,
			RecipientBasePath: f.recipientBasePath,
			SourcePubkey:      f.sourcePubkey,
			RecipientPubkey:   f.recipientPubkey,
			MaxTimeout:        time.Duration(f.maxTimeoutMs) * time.Millisecond,
			MaxRetries:        f.maxRetries,
		}, nil
	case KindProposalReceipt:
		return ProposalReceipt{RequestHash: f.requestHash, Accept: f.accept, Reason: Reason(f.reason)}, nil
	case KindCommenceRequest:
		return CommenceRequest{AssetRef: f.assetRef}, nil
	case KindCommenceResponse:
		return CommenceResponse{RequestHash: f.requestHash}, nil
	case KindPrepareRequest:
		return PrepareRequest{LockEvidence: f.evidence}, nil
	case KindReadyResponse:
		return ReadyResponse{RequestHash: f.requestHash}, nil
	case KindFinalAssertion:
		return FinalAssertion{BurnEvidence: f.evidence}, nil
	case KindFinalAck:
		return FinalAck{RequestHash: f.requestHash, MintEvidence: f.evidence}, nil
	case KindCompleteRequest:
		return CompleteRequest{}, nil
	case KindCompleteResponse:
		return CompleteResponse{RequestHash: f.requestHash}, nil
	case KindRecoverUpdate:
		return RecoverUpdate{View: f.view()}, nil
	case KindRecoverUpdateAck:
		return RecoverUpdateAck{RequestHash: f.requestHash, View: f.view()}, nil
	case KindRollback:
		return Rollback{Reason: Reason(f.reason)}, nil
	case KindRollbackAck:
		return RollbackAck{RequestHash: f.requestHash, Compensated: f.accept, Reason: Reason(f.reason)}, nil
	case KindError:
		return Error{RequestHash: f.requestHash, Reason: Reason(f.reason)}, nil
	default:
		return nil, fmt.Errorf("unknown kind %d:\n%w", kind, ErrMalformed)
	}
}

// readFields copies every field out of the table so the result does not
// alias the input buffer.
func readFields(b *types.Body) fields {
	f := fields{
		accept:            b.Accept(),
		reason:            string(b.Reason()),
		assetRef:          string(b.AssetRef()),
		sourceLedger:      string(b.SourceLedger()),
		recipientLedger:   string(b.RecipientLedger()),
		originator:        string(b.Originator()),
		beneficiary:       string(b.Beneficiary()),
		sourceBasePath:    string(b.SourceBasePath()),
		recipientBasePath: string(b.RecipientBasePath()),
		sourcePubkey:      cloneBytes(b.SourcePubkeyBytes()),
		recipientPubkey:   cloneBytes(b.RecipientPubkeyBytes()),
		maxTimeoutMs:      b.MaxTimeoutMs(),
		maxRetries:        b.MaxRetries(),
		evidence:          cloneBytes(b.EvidenceBytes()),
		requestHash:       cloneBytes(b.RequestHashBytes()),
		stage:             Stage(b.Stage()),
		sequence:          b.Sequence(),
		pending:           b.Pending(),
		outcome:           Outcome(b.Outcome()),
	}

	if n := b.HistoryLength(); n > 0 {
		f.history = make([]Digest, n)

		var d types.LogDigest
		for i := 0; i < n; i++ {
			b.History(&d, i)
			f.history[i] = Digest{Sequence: d.Sequence(), RequestHash: cloneBytes(d.RequestHashBytes())}
		}
	}

	return f
}

// cloneBytes copies b, keeping nil for absent fields.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out
}
