// Package client talks to a gateway's operator HTTP API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Ferry/internal/api"
	"Ferry/internal/journal"
	"Ferry/internal/session"
)

// defaultPollInterval is how often Wait polls a session.
const defaultPollInterval = 200 * time.Millisecond

// Client connects to a gateway via HTTP.
type Client struct {
	baseURL string       // baseURL is the API root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http is the underlying HTTP client
}

// Transfer is the body of a new transfer.
type Transfer = api.TransferBody

// NewClient creates a client for the gateway at addr. A bare host:port is
// treated as plain HTTP.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Transfer starts a transfer and returns its PROPOSED session.
func (c *Client) Transfer(ctx context.Context, t Transfer) (*session.Session, error) {
	var s session.Session

	if err := c.postJSON(ctx, "/transfers", t, &s); err != nil {
		return nil, fmt.Errorf("start transfer:\n%w", err)
	}

	return &s, nil
}

// Session returns one session.
func (c *Client) Session(ctx context.Context, id string) (*session.Session, error) {
	var s session.Session

	if err := c.getJSON(ctx, "/sessions/"+url.PathEscape(id), &s); err != nil {
		return nil, fmt.Errorf("get session:\n%w", err)
	}

	return &s, nil
}

// Sessions lists sessions; openOnly keeps those not yet terminal.
func (c *Client) Sessions(ctx context.Context, openOnly bool) ([]*session.Session, error) {
	path := "/sessions"
	if openOnly {
		path += "?open=true"
	}

	var out []*session.Session

	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list sessions:\n%w", err)
	}

	return out, nil
}

// Log returns the durable entries of a session.
func (c *Client) Log(ctx context.Context, id string) ([]journal.Entry, error) {
	var out []journal.Entry

	if err := c.getJSON(ctx, "/sessions/"+url.PathEscape(id)+"/log", &out); err != nil {
		return nil, fmt.Errorf("get session log:\n%w", err)
	}

	return out, nil
}

// Abort asks the gateway to abort a session.
func (c *Client) Abort(ctx context.Context, id string) (*session.Session, error) {
	var s session.Session

	if err := c.postJSON(ctx, "/sessions/"+url.PathEscape(id)+"/abort", nil, &s); err != nil {
		return nil, fmt.Errorf("abort session:\n%w", err)
	}

	return &s, nil
}

// Health reports the number of open sessions of a healthy gateway.
func (c *Client) Health(ctx context.Context) (int, error) {
	var resp struct {
		Status string `json:"status"`
		Open   int    `json:"open_sessions"`
	}

	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return 0, fmt.Errorf("health:\n%w", err)
	}

	if resp.Status != "ok" {
		return 0, fmt.Errorf("gateway status %q", resp.Status)
	}

	return resp.Open, nil
}

// Wait polls a session until it is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, id string) (*session.Session, error) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		s, err := c.Session(ctx, id)
		if err != nil {
			return nil, err
		}

		if s.Terminal() {
			return s, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}
