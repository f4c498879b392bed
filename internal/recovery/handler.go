package recovery

import (
	"context"
	"fmt"

	"Ferry/internal/protocol"
)

// HandleRecover answers a counterpart's RecoverUpdate with this gateway's
// view and keeps the counterpart's signed view in the mirror. It reads the
// last published snapshot and never takes the session lock, so two gateways
// recovering the same session at once cannot wait on each other. Updates
// arriving before Replay are refused so the sender retries.
func (c *Coordinator) HandleRecover(ctx context.Context, env *protocol.Envelope) ([]byte, error) {
	// Before replay an unknown session may only be unknown to memory.
	if !c.replayed.Load() {
		c.gw.Metrics().Drop("replaying")
		return nil, ErrReplaying
	}

	c.gw.Metrics().Received(env.Kind.String())

	p, err := env.Payload()
	if err != nil {
		return nil, err
	}

	update, ok := p.(protocol.RecoverUpdate)
	if !ok {
		return nil, fmt.Errorf("recover body:\n%w", protocol.ErrMalformed)
	}

	var (
		counterpart []byte
		view        = protocol.View{Stage: protocol.StageInit}
	)

	if sl, err := c.store.Get(env.SessionID); err == nil {
		snap := sl.Snapshot()
		counterpart = snap.Counterpart()
		view = snap.View()
	} else if _, known := c.gw.Counterpart(env.Signer); known {
		// The proposal never reached this gateway; any known peer may ask.
		counterpart = env.Signer
	} else {
		return nil, fmt.Errorf("recover from unknown gateway:\n%w", protocol.ErrBadSignature)
	}

	if err := env.Verify(counterpart); err != nil {
		c.gw.Metrics().Drop("signature")
		return nil, err
	}

	if err := c.mirror.Put(env); err != nil {
		return nil, fmt.Errorf("mirror %s:\n%w", env.SessionID, err)
	}

	c.log.Info("recover update received",
		"session", env.SessionID,
		"peer_stage", update.View.Stage,
		"peer_seq", update.View.Sequence,
		"stage", view.Stage,
		"seq", view.Sequence,
	)

	_, data, err := protocol.Seal(c.gw.Signer(), env.SessionID, env.Sequence, view.Stage, protocol.RecoverUpdateAck{
		RequestHash: env.Hash(),
		View:        view,
	})
	return data, err
}
