package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotFound is returned when the gateway does not know the session.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when the session is already terminal.
var ErrConflict = errors.New("conflict")

// StatusError is a non-success API response.
type StatusError struct {
	Status  int    // Status is the HTTP status code
	Message string // Message is the server's error text
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses to sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}

	return c.do(req, result)
}

// postJSON performs a POST request with JSON body and decodes the JSON response.
func (c *Client) postJSON(ctx context.Context, path string, body any, result any) error {
	var payload io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}
		payload = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// do sends req and decodes a 2xx JSON body into result.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", req.Method, req.URL.Path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)

		return fmt.Errorf("%s %s:\n%w", req.Method, req.URL.Path, &StatusError{Status: resp.StatusCode, Message: apiErr.Error})
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
