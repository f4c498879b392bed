package protocol

import "time"

// Payload is the typed content of an envelope. Each message kind has its own struct.
type Payload interface {
	// Kind returns the message kind the payload travels as.
	Kind() Kind

	fields() fields
}

// Response is a payload answering a request; it names the request it answers.
type Response interface {
	Payload

	// Answers returns the hash of the request being answered.
	Answers() []byte
}

// Digest is one completed exchange: the sequence and the hash of its request.
type Digest struct {
	Sequence    uint64 `json:"sequence"`
	RequestHash []byte `json:"request_hash"`
}

// View is a gateway's account of a session, exchanged during recovery.
type View struct {
	Stage    Stage
	Sequence uint64
	Pending  uint64
	Outcome  Outcome
	Reason   Reason
	History  []Digest
}

// ProposalRequest opens a session with the recipient gateway.
type ProposalRequest struct {
	AssetRef          string
	SourceLedger      string
	RecipientLedger   string
	Originator        string
	Beneficiary       string
	SourceBasePath    string
	RecipientBasePath string
	SourcePubkey      []byte
	RecipientPubkey   []byte
	MaxTimeout        time.Duration
	MaxRetries        uint32
}

// ProposalReceipt accepts or rejects a proposal.
type ProposalReceipt struct {
	RequestHash []byte
	Accept      bool
	Reason      Reason
}

// CommenceRequest asks the recipient to prepare for the transfer.
type CommenceRequest struct {
	AssetRef string
}

// CommenceResponse confirms the commence step.
type CommenceResponse struct {
	RequestHash []byte
}

// PrepareRequest carries the source lock evidence.
type PrepareRequest struct {
	LockEvidence []byte
}

// ReadyResponse confirms the recipient is ready to mint.
type ReadyResponse struct {
	RequestHash []byte
}

// FinalAssertion carries the source burn evidence.
type FinalAssertion struct {
	BurnEvidence []byte
}

// FinalAck carries the recipient mint evidence.
type FinalAck struct {
	RequestHash  []byte
	MintEvidence []byte
}

// CompleteRequest closes a committed session.
type CompleteRequest struct{}

// CompleteResponse confirms the close.
type CompleteResponse struct {
	RequestHash []byte
}

// RecoverUpdate carries the sender's view of a session after a restart.
type RecoverUpdate struct {
	View View
}

// RecoverUpdateAck answers a RecoverUpdate with the receiver's view.
type RecoverUpdateAck struct {
	RequestHash []byte
	View        View
}

// Rollback tells the counterpart the session is aborted.
type Rollback struct {
	Reason Reason
}

// RollbackAck reports whether the counterpart compensated its own actions.
type RollbackAck struct {
	RequestHash []byte
	Compensated bool
	Reason      Reason
}

// Error is a signed protocol-level refusal.
type Error struct {
	RequestHash []byte
	Reason      Reason
}

func (ProposalRequest) Kind() Kind  { return KindProposalRequest }
func (ProposalReceipt) Kind() Kind  { return KindProposalReceipt }
func (CommenceRequest) Kind() Kind  { return KindCommenceRequest }
func (CommenceResponse) Kind() Kind { return KindCommenceResponse }
func (PrepareRequest) Kind() Kind   { return KindPrepareRequest }
func (ReadyResponse) Kind() Kind    { return KindReadyResponse }
func (FinalAssertion) Kind() Kind   { return KindFinalAssertion }
func (FinalAck) Kind() Kind         { return KindFinalAck }
func (CompleteRequest) Kind() Kind  { return KindCompleteRequest }
func (CompleteResponse) Kind() Kind { return KindCompleteResponse }
func (RecoverUpdate) Kind() Kind    { return KindRecoverUpdate }
func (RecoverUpdateAck) Kind() Kind { return KindRecoverUpdateAck }
func (Rollback) Kind() Kind         { return KindRollback }
func (RollbackAck) Kind() Kind      { return KindRollbackAck }
func (Error) Kind() Kind            { return KindError }

func (p ProposalReceipt) Answers() []byte  { return p.RequestHash }
func (p CommenceResponse) Answers() []byte { return p.RequestHash }
func (p ReadyResponse) Answers() []byte    { return p.RequestHash }
func (p FinalAck) Answers() []byte         { return p.RequestHash }
func (p CompleteResponse) Answers() []byte { return p.RequestHash }
func (p RecoverUpdateAck) Answers() []byte { return p.RequestHash }
func (p RollbackAck) Answers() []byte      { return p.RequestHash }
func (p Error) Answers() []byte            { return p.RequestHash }

// ResponseKind returns the kind that answers a request kind, or 0 if k is not a request.
func ResponseKind(k Kind) Kind {
	switch k {
	case KindProposalRequest:
		return KindProposalReceipt
	case KindCommenceRequest:
		return KindCommenceResponse
	case KindPrepareRequest:
		return KindReadyResponse
	case KindFinalAssertion:
		return KindFinalAck
	case KindCompleteRequest:
		return KindCompleteResponse
	case KindRecoverUpdate:
		return KindRecoverUpdateAck
	case KindRollback:
		return KindRollbackAck
	default:
		return 0
	}
}
