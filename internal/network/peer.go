package network

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// defaultRequestTimeout is used when a request context has no deadline.
	defaultRequestTimeout = 30 * time.Second

	// errCodeNoReply is the stream error sent when a request is dropped.
	errCodeNoReply quic.StreamErrorCode = 1
)

// conn is one QUIC connection to a peer gateway. Either side may open
// request streams on it.
type conn struct {
	remoteKey ed25519.PublicKey // remoteKey is the peer's TLS public key
	address   string            // address is the dialed or remote address
	qc        *quic.Conn        // qc is the underlying QUIC connection
	transport *Transport        // transport is the owning transport
	closed    atomic.Bool       // closed indicates the connection was closed locally
}

// request sends data on a new bidirectional stream and reads the reply.
func (c *conn) request(ctx context.Context, data []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("connection is closed")
	}

	stream, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	reply, err := readFrame(stream)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply:\n%w", err)
	}

	return reply, nil
}

// serve accepts request streams until the connection or ctx ends.
func (c *conn) serve(ctx context.Context) {
	for {
		stream, err := c.qc.AcceptStream(ctx)
		if err != nil {
			c.transport.log.Debug("connection closed",
				"peer", c.peer(),
				"addr", c.address,
				"error", err,
			)
			return
		}

		go c.handleStream(stream)
	}
}

// handleStream answers one request stream. A dropped request resets the
// stream so the sender fails fast instead of waiting for its deadline.
func (c *conn) handleStream(stream *quic.Stream) {
	defer stream.Close()

	data, err := readFrame(stream)
	if err != nil {
		c.transport.log.Debug("stream read error",
			"peer", c.peer(),
			"error", err,
		)
		stream.CancelWrite(errCodeNoReply)
		return
	}

	reply, err := c.transport.callHandler(data)
	if err != nil {
		stream.CancelWrite(errCodeNoReply)
		return
	}

	if err := writeFrame(stream, reply); err != nil {
		c.transport.log.Debug("stream write error",
			"peer", c.peer(),
			"error", err,
		)
	}
}

// peer returns a short form of the remote key for logs.
func (c *conn) peer() string {
	if len(c.remoteKey) < 8 {
		return hex.EncodeToString(c.remoteKey)
	}
	return hex.EncodeToString(c.remoteKey[:8])
}

// close closes the connection once.
func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}

	c.qc.CloseWithError(0, "closed")
}
