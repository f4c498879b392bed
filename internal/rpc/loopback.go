package rpc

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"Ferry/internal/protocol"
)

// Filter decides whether a request to addr is delivered.
type Filter func(addr string, data []byte) bool

// Loopback connects gateways inside one process. It implements
// gateway.Transport and is used by tests and single-host demos.
type Loopback struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	filter    Filter
}

// NewLoopback creates an empty loopback network.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[string]Endpoint)}
}

// Register attaches an endpoint at addr.
func (l *Loopback) Register(addr string, e Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endpoints[addr] = e
}

// Unregister detaches addr, simulating a crashed gateway.
func (l *Loopback) Unregister(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.endpoints, addr)
}

// SetFilter installs f; requests it refuses are lost. Nil delivers everything.
func (l *Loopback) SetFilter(f Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = f
}

// Request delivers data to the endpoint at addr and returns its reply.
func (l *Loopback) Request(ctx context.Context, addr string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	e, ok := l.endpoints[addr]
	filter := l.filter
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no gateway at %s:\n%w", addr, protocol.ErrTransport)
	}

	if filter != nil && !filter(addr, data) {
		return nil, fmt.Errorf("request to %s lost:\n%w", addr, protocol.ErrTransport)
	}

	reply, err := e.Handle(ctx, slices.Clone(data))
	if err != nil {
		return nil, fmt.Errorf("request to %s dropped: %v:\n%w", addr, err, protocol.ErrTransport)
	}

	return slices.Clone(reply), nil
}
