package recovery

import (
	"bytes"

	"Ferry/internal/protocol"
)

// Decision is the result of comparing the two gateways' views of a session.
type Decision uint8

const (
	// Resume means the views agree; the client continues from its log.
	Resume Decision = iota + 1

	// Follow means the peer already aborted or rejected; this side follows.
	Follow

	// Adopt means the peer committed while this side was committing.
	Adopt

	// Diverge means the logs cannot both be right.
	Diverge
)

// String returns the decision name used in logs and metrics.
func (d Decision) String() string {
	switch d {
	case Resume:
		return "resume"
	case Follow:
		return "follow"
	case Adopt:
		return "adopt"
	case Diverge:
		return "diverge"
	default:
		return "unknown"
	}
}

// Reconcile decides how a non-terminal session continues given this
// gateway's view and the counterpart's. It is deterministic and never
// guesses: anything it cannot prove consistent is a divergence.
func Reconcile(role protocol.Role, self, peer protocol.View) Decision {
	switch peer.Stage {
	case protocol.StageAborted, protocol.StageRejected:
		return Follow

	case protocol.StageCommitted:
		if self.Stage == protocol.StageCommitting && digestsAgree(self.History, peer.History) {
			return Adopt
		}
		return Diverge

	case protocol.StageInit:
		// The peer never logged the session: only a proposal it never
		// received is consistent with that.
		if role == protocol.RoleClient && self.Sequence == 0 {
			return Resume
		}
		return Diverge
	}

	client, server := self, peer
	if role == protocol.RoleServer {
		client, server = peer, self
	}

	if server.Sequence < client.Sequence || server.Sequence > client.Pending {
		return Diverge
	}

	if !digestsAgree(client.History, server.History) {
		return Diverge
	}

	return Resume
}

// digestsAgree reports whether every exchange present in both histories
// carries the same request hash.
func digestsAgree(a, b []protocol.Digest) bool {
	seen := make(map[uint64][]byte, len(a))
	for _, d := range a {
		seen[d.Sequence] = d.RequestHash
	}

	for _, d := range b {
		if h, ok := seen[d.Sequence]; ok && !bytes.Equal(h, d.RequestHash) {
			return false
		}
	}

	return true
}
