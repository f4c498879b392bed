// Package protocol defines the signed messages exchanged between gateways
// and the stage, outcome and reason vocabulary shared by every component.
package protocol

import "fmt"

// Kind identifies the payload carried by an envelope.
type Kind uint8

const (
	KindProposalRequest Kind = iota + 1
	KindProposalReceipt
	KindCommenceRequest
	KindCommenceResponse
	KindPrepareRequest
	KindReadyResponse
	KindFinalAssertion
	KindFinalAck
	KindCompleteRequest
	KindCompleteResponse
	KindRecoverUpdate
	KindRecoverUpdateAck
	KindRollback
	KindRollbackAck
	KindError

	kindMax = KindError
)

var kindNames = map[Kind]string{
	KindProposalRequest:  "TransferProposalRequest",
	KindProposalReceipt:  "TransferProposalReceipt",
	KindCommenceRequest:  "TransferCommenceRequest",
	KindCommenceResponse: "TransferCommenceResponse",
	KindPrepareRequest:   "CommitPreparationRequest",
	KindReadyResponse:    "CommitReadyResponse",
	KindFinalAssertion:   "CommitFinalAssertionRequest",
	KindFinalAck:         "CommitFinalAcknowledgementReceipt",
	KindCompleteRequest:  "TransferCompleteRequest",
	KindCompleteResponse: "TransferCompleteResponse",
	KindRecoverUpdate:    "RecoverUpdate",
	KindRecoverUpdateAck: "RecoverUpdateAck",
	KindRollback:         "Rollback",
	KindRollbackAck:      "RollbackAck",
	KindError:            "Error",
}

// String returns the message name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindProposalRequest && k <= kindMax
}

// Stage is a session's position in the transfer handshake.
type Stage uint8

const (
	StageInit Stage = iota
	StageProposed
	StageCommencing
	StageLocking
	StagePreparing
	StageAsserting
	StageCommitting
	StageCommitted
	StageAborted
	StageRejected

	stageMax = StageRejected
)

var stageNames = [...]string{
	StageInit:       "INIT",
	StageProposed:   "PROPOSED",
	StageCommencing: "COMMENCING",
	StageLocking:    "LOCKING",
	StagePreparing:  "PREPARING",
	StageAsserting:  "ASSERTING",
	StageCommitting: "COMMITTING",
	StageCommitted:  "COMMITTED",
	StageAborted:    "ABORTED",
	StageRejected:   "REJECTED",
}

// String returns the stage name.
func (s Stage) String() string {
	if s <= stageMax {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s <= stageMax
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageCommitted || s == StageAborted || s == StageRejected
}

// Outcome is the final result of a session.
type Outcome uint8

const (
	OutcomeInProgress Outcome = iota
	OutcomeCommitted
	OutcomeAborted
	OutcomeRejected
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeInProgress:
		return "IN_PROGRESS"
	case OutcomeCommitted:
		return "COMMITTED"
	case OutcomeAborted:
		return "ABORTED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// OutcomeOf returns the outcome implied by a terminal stage.
func OutcomeOf(s Stage) Outcome {
	switch s {
	case StageCommitted:
		return OutcomeCommitted
	case StageAborted:
		return OutcomeAborted
	case StageRejected:
		return OutcomeRejected
	default:
		return OutcomeInProgress
	}
}

// Role is the side a gateway plays in a session.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}
