package api

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

	"rfid-bridge/config"
	"rfid-bridge/internal/model"

	"github.com/google/uuid"
)

const maxBodyBytes = 64 * 1024

// Client forwards tag reads to the scans endpoint. It never retries.
type Client struct {
	url  string
	http *http.Client
}

func New(cfg *config.HTTPClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:  strings.TrimSpace(cfg.URL),
		http: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient lets callers supply their own transport, e.g. in tests.
func NewWithHTTPClient(url string, hc *http.Client) *Client {
	return &Client{url: strings.TrimSpace(url), http: hc}
}

func (c *Client) URL() string {
	return c.url
}

// Response is a 200 reply from the API.
type Response struct {
	StatusCode int
	RequestID  string
	// Body is the decoded JSON document, kept as raw JSON for printing.
	Body json.RawMessage
}

// Send POSTs {"uid": uid}. On failure the error is always a *model.BridgeError
// of kind NetworkError, ApiStatusError or UnexpectedError.
func (c *Client) Send(ctx context.Context, uid string) (*Response, error) {
	payload, err := json.Marshal(model.ScanRequest{UID: uid})
	if err != nil {
		return nil, model.NewError(model.UnexpectedError, fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, model.NewError(model.UnexpectedError, fmt.Errorf("build request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.NewError(model.NetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, model.NewError(model.NetworkError, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &model.BridgeError{
			Kind:       model.ApiStatusError,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	if !json.Valid(body) {
		return nil, model.NewError(model.UnexpectedError, errors.New("response body is not valid JSON"))
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, model.NewError(model.UnexpectedError, fmt.Errorf("decode response: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Body:       compact.Bytes(),
	}, nil
}
