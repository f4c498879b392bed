package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Ferry/internal/protocol"
)

// maxResponseSize bounds connector replies.
const maxResponseSize = 1 << 20

// operation is the JSON request body of every connector call.
type operation struct {
	SessionID string `json:"session_id"`
	AssetRef  string `json:"asset_ref"`
}

// HTTP reaches an external chain connector over JSON/HTTP:
// POST {endpoint}/lock, /assert and /compensate.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates a connector for endpoint. A nil client uses a default with a timeout.
func NewHTTP(endpoint string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTP{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

// LockAsset calls POST /lock.
func (h *HTTP) LockAsset(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return h.call(ctx, OpLock, sessionID, assetRef)
}

// AssertCommit calls POST /assert.
func (h *HTTP) AssertCommit(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return h.call(ctx, OpAssert, sessionID, assetRef)
}

// Compensate calls POST /compensate.
func (h *HTTP) Compensate(ctx context.Context, sessionID, assetRef string) (Result, error) {
	return h.call(ctx, OpCompensate, sessionID, assetRef)
}

// call posts one operation and decodes the result.
// Non-2xx statuses and network failures are transport errors.
func (h *HTTP) call(ctx context.Context, op Op, sessionID, assetRef string) (Result, error) {
	body, err := json.Marshal(operation{SessionID: sessionID, AssetRef: assetRef})
	if err != nil {
		return Result{}, fmt.Errorf("marshal %s:\n%w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create %s request:\n%w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ledger %s:\n%w", op, errors.Join(err, protocol.ErrTransport))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{}, fmt.Errorf("read %s response:\n%w", op, errors.Join(err, protocol.ErrTransport))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ledger %s: status %d: %s:\n%w", op, resp.StatusCode, bytes.TrimSpace(data), protocol.ErrTransport)
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode %s response:\n%w", op, errors.Join(err, protocol.ErrTransport))
	}

	return r, nil
}

// Handler exposes a connector over the same JSON/HTTP contract, so a
// memory ledger can stand in for an external chain connector.
func Handler(c Connector) http.Handler {
	mux := http.NewServeMux()

	for _, op := range []Op{OpLock, OpAssert, OpCompensate} {
		mux.HandleFunc("POST /"+string(op), func(w http.ResponseWriter, r *http.Request) {
			var req operation
			if err := json.NewDecoder(io.LimitReader(r.Body, maxResponseSize)).Decode(&req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}

			var (
				res Result
				err error
			)

			switch op {
			case OpLock:
				res, err = c.LockAsset(r.Context(), req.SessionID, req.AssetRef)
			case OpAssert:
				res, err = c.AssertCommit(r.Context(), req.SessionID, req.AssetRef)
			default:
				res, err = c.Compensate(r.Context(), req.SessionID, req.AssetRef)
			}

			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(res)
		})
	}

	return mux
}
