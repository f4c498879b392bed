// Package rpc is the gateway's inbound message surface. It decodes an
// envelope, routes it to the state machine or the recovery coordinator and
// returns the signed reply. Transports only move bytes to and from Handle.
package rpc

import (
	"context"
	"log/slog"

	"Ferry/internal/gateway"
	"Ferry/internal/logger"
	"Ferry/internal/protocol"
	"Ferry/internal/recovery"
)

// Endpoint answers one inbound request.
type Endpoint interface {
	Handle(ctx context.Context, data []byte) ([]byte, error)
}

// Handler routes inbound envelopes.
type Handler struct {
	gw       *gateway.Gateway
	recovery *recovery.Coordinator
	log      *slog.Logger
}

// New creates a handler.
func New(gw *gateway.Gateway, rec *recovery.Coordinator, log *slog.Logger) *Handler {
	return &Handler{
		gw:       gw,
		recovery: rec,
		log:      logger.OrDiscard(log),
	}
}

// Handle decodes data and dispatches it by kind. An error means the
// message was dropped and no reply goes back. Nothing is answered until
// the coordinator has replayed the session log.
func (h *Handler) Handle(ctx context.Context, data []byte) ([]byte, error) {
	if !h.recovery.Ready() {
		h.gw.Metrics().Drop("replaying")
		return nil, recovery.ErrReplaying
	}

	env, err := protocol.Decode(data)
	if err != nil {
		h.gw.Metrics().Drop("malformed")
		h.log.Debug("undecodable message",
			"size", len(data),
			"error", err,
		)
		return nil, err
	}

	if env.Kind == protocol.KindRecoverUpdate {
		return h.recovery.HandleRecover(ctx, env)
	}

	return h.gw.HandleRequest(ctx, env, data)
}
