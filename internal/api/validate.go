package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"Ferry/internal/gateway"
)

const (
	// maxFieldSize bounds every string field of a transfer request.
	maxFieldSize = 256

	// maxTimeout is the largest per-attempt deadline an operator may ask for.
	maxTimeout = 10 * time.Minute

	// maxRetries is the largest attempt count an operator may ask for.
	maxRetries = 1000
)

// TransferBody is the JSON body of POST /transfers.
type TransferBody struct {
	AssetRef        string `json:"asset_ref"`
	SourceLedger    string `json:"source_ledger"`
	RecipientLedger string `json:"recipient_ledger"`
	Originator      string `json:"originator"`
	Beneficiary     string `json:"beneficiary"`
	Recipient       string `json:"recipient,omitempty"`
	MaxTimeout      string `json:"max_timeout,omitempty"` // MaxTimeout is a Go duration such as "5s"
	MaxRetries      uint32 `json:"max_retries,omitempty"`
}

// parseTransfer decodes and validates a transfer request body.
func parseTransfer(data []byte) (gateway.TransferRequest, error) {
	var b TransferBody

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&b); err != nil {
		return gateway.TransferRequest{}, fmt.Errorf("decode body: %v", err)
	}

	if err := validateFields(b); err != nil {
		return gateway.TransferRequest{}, err
	}

	req := gateway.TransferRequest{
		AssetRef:        b.AssetRef,
		SourceLedger:    b.SourceLedger,
		RecipientLedger: b.RecipientLedger,
		Originator:      b.Originator,
		Beneficiary:     b.Beneficiary,
		Recipient:       b.Recipient,
		MaxRetries:      b.MaxRetries,
	}

	if b.MaxTimeout != "" {
		d, err := time.ParseDuration(b.MaxTimeout)
		if err != nil {
			return gateway.TransferRequest{}, fmt.Errorf("max_timeout: %v", err)
		}
		if d <= 0 || d > maxTimeout {
			return gateway.TransferRequest{}, fmt.Errorf("max_timeout must be in (0, %s]", maxTimeout)
		}
		req.MaxTimeout = d
	}

	if b.MaxRetries > maxRetries {
		return gateway.TransferRequest{}, fmt.Errorf("max_retries must be at most %d", maxRetries)
	}

	return req, nil
}

// validateFields checks required fields and sizes.
func validateFields(b TransferBody) error {
	if b.AssetRef == "" {
		return fmt.Errorf("asset_ref is required")
	}

	if b.RecipientLedger == "" {
		return fmt.Errorf("recipient_ledger is required")
	}

	fields := map[string]string{
		"asset_ref":        b.AssetRef,
		"source_ledger":    b.SourceLedger,
		"recipient_ledger": b.RecipientLedger,
		"originator":       b.Originator,
		"beneficiary":      b.Beneficiary,
		"recipient":        b.Recipient,
	}

	for name, v := range fields {
		if len(v) > maxFieldSize {
			return fmt.Errorf("%s too long: %d > %d", name, len(v), maxFieldSize)
		}
	}

	return nil
}
