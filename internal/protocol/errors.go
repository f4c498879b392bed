package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSignature means the envelope signature does not verify against the
	// counterpart key registered for the session.
	ErrBadSignature = errors.New("bad signature")

	// ErrSequence means the envelope sequence is neither next nor a replay.
	ErrSequence = errors.New("unexpected sequence")

	// ErrStage means the declared stage does not match the session stage.
	ErrStage = errors.New("stage mismatch")

	// ErrUnknownSession means no session exists for the envelope.
	ErrUnknownSession = errors.New("unknown session")

	// ErrMalformed means the bytes could not be decoded as an envelope or payload.
	ErrMalformed = errors.New("malformed message")

	// ErrTransport means a message could not be delivered or no reply arrived.
	ErrTransport = errors.New("transport failure")

	// ErrLedger means a ledger connector refused or failed an operation.
	ErrLedger = errors.New("ledger failure")

	// ErrDivergence means the two gateways' logs disagree after a crash.
	ErrDivergence = errors.New("recovery divergence")

	// ErrSessionClosed means a terminal session was asked to change.
	ErrSessionClosed = errors.New("session closed")

	// ErrRejected means the counterpart refused the proposal.
	ErrRejected = errors.New("rejected by peer")

	// ErrAborted means the counterpart or an operator aborted the session.
	ErrAborted = errors.New("aborted")
)

// Reason is the machine-readable code recorded with a terminal outcome.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCompleted          Reason = "completed"
	ReasonPeerRejected       Reason = "peer_rejected"
	ReasonTimeout            Reason = "timeout"
	ReasonLedgerFailure      Reason = "ledger_failure"
	ReasonProtocolViolation  Reason = "protocol_violation"
	ReasonRecoveryDivergence Reason = "recovery_divergence"
	ReasonPeerAborted        Reason = "peer_aborted"
	ReasonOperatorAbort      Reason = "operator_abort"
)

// ReasonFor classifies err into a reason code.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrRejected):
		return ReasonPeerRejected
	case errors.Is(err, ErrTransport):
		return ReasonTimeout
	case errors.Is(err, ErrLedger):
		return ReasonLedgerFailure
	case errors.Is(err, ErrDivergence):
		return ReasonRecoveryDivergence
	case errors.Is(err, ErrAborted):
		return ReasonPeerAborted
	default:
		return ReasonProtocolViolation
	}
}

// Validation reports whether err is a validation failure that the receiver
// drops without retrying.
func Validation(err error) bool {
	return errors.Is(err, ErrBadSignature) || errors.Is(err, ErrSequence) ||
		errors.Is(err, ErrStage) || errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrMalformed)
}

// RemoteError is a signed Error reply received from the counterpart.
type RemoteError struct {
	Reason Reason // Reason is the code the counterpart reported
	Cause  error  // Cause is the local sentinel matching Reason
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer error: %s", e.Reason)
}

// Unwrap returns the sentinel matching the remote reason.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// sentinelFor maps a reason reported by the peer back to a local sentinel.
func sentinelFor(r Reason) error {
	switch r {
	case ReasonPeerRejected:
		return ErrRejected
	case ReasonLedgerFailure:
		return ErrLedger
	case ReasonRecoveryDivergence:
		return ErrDivergence
	case ReasonPeerAborted, ReasonOperatorAbort, ReasonTimeout:
		return ErrAborted
	default:
		return ErrStage
	}
}

// Err converts a received Error payload into a local error.
func (p Error) Err() error {
	return &RemoteError{Reason: p.Reason, Cause: sentinelFor(p.Reason)}
}
