// Package backend is the HTTP client for the transaction backend: it builds
// unsigned transactions, registers them for signing, reports signature
// status, and broadcasts signed payloads. The backend itself is an external
// collaborator; this package only speaks its wire contracts.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

// Signature status values reported by the backend.
const (
	SignStatusSigned  = "signed"
	SignStatusPending = "pending"
	SignStatusFailed  = "failed"
)

// Client talks to the transaction backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second. Zero disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildRequest asks the backend to assemble an unsigned transaction.
type BuildRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type buildResponse struct {
	UnsignedPayload string `json:"unsignedPayload"`
}

// SignResponse is the backend's answer to a sign registration.
type SignResponse struct {
	Status        string `json:"status"`
	SignedPayload []byte `json:"-"`
	PollID        string `json:"pollId,omitempty"`
}

type signResponseWire struct {
	Status        string `json:"status"`
	SignedPayload string `json:"signedPayload,omitempty"`
	PollID        string `json:"pollId,omitempty"`
}

// StatusResponse is one observation of a pending signature.
type StatusResponse struct {
	Status        string
	SignedPayload []byte
}

type statusResponseWire struct {
	Status        string `json:"status"`
	SignedPayload string `json:"signedPayload,omitempty"`
}

// BuildTransaction requests an unsigned payload for a transfer.
func (c *Client) BuildTransaction(ctx context.Context, req BuildRequest) ([]byte, error) {
	var resp buildResponse
	if err := c.post(ctx, "/tx/build", req, &resp); err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(resp.UnsignedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode unsigned payload: %w", err)
	}
	return payload, nil
}

// RegisterSign registers an unsigned payload for signing. The backend either
// returns a signed payload immediately or a poll ID for later resolution.
func (c *Client) RegisterSign(ctx context.Context, unsigned []byte, signerAddress string) (*SignResponse, error) {
	req := map[string]string{
		"unsignedPayload": base64.StdEncoding.EncodeToString(unsigned),
		"signerAddress":   signerAddress,
	}

	var wire signResponseWire
	if err := c.post(ctx, "/tx/sign", req, &wire); err != nil {
		return nil, err
	}

	resp := &SignResponse{Status: wire.Status, PollID: wire.PollID}
	if wire.SignedPayload != "" {
		signed, err := base64.StdEncoding.DecodeString(wire.SignedPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signed payload: %w", err)
		}
		resp.SignedPayload = signed
	}
	return resp, nil
}

// Status fetches the current state of a pending signature.
func (c *Client) Status(ctx context.Context, pollID string) (*StatusResponse, error) {
	var wire statusResponseWire
	if err := c.get(ctx, "/tx/status/"+pollID, &wire); err != nil {
		return nil, err
	}

	resp := &StatusResponse{Status: wire.Status}
	if wire.SignedPayload != "" {
		signed, err := base64.StdEncoding.DecodeString(wire.SignedPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signed payload: %w", err)
		}
		resp.SignedPayload = signed
	}
	return resp, nil
}

// ManualSign resolves a pending signature through explicit user action.
func (c *Client) ManualSign(ctx context.Context, pollID string) ([]byte, error) {
	var wire statusResponseWire
	if err := c.post(ctx, "/tx/manual-sign", map[string]string{"pollId": pollID}, &wire); err != nil {
		return nil, err
	}

	signed, err := base64.StdEncoding.DecodeString(wire.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed payload: %w", err)
	}
	return signed, nil
}

// Submit broadcasts a signed payload and returns the transaction signature.
// Callers must not retry a rejected submission.
func (c *Client) Submit(ctx context.Context, signed []byte) (string, error) {
	req := map[string]string{"signedPayload": base64.StdEncoding.EncodeToString(signed)}

	var resp struct {
		Signature string `json:"signature"`
	}
	if err := c.post(ctx, "/tx/submit", req, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("backend returned an empty signature")
	}
	return resp.Signature, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("request cancelled while rate limited: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backendError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// backendError surfaces the backend's own error body when it sends one in
// the shared {code, message} shape; otherwise the raw status is reported.
func backendError(status int, body []byte) error {
	var appErr apperrors.AppError
	if err := json.Unmarshal(body, &appErr); err == nil && appErr.Code != "" {
		appErr.StatusCode = status
		return &appErr
	}
	return fmt.Errorf("backend returned status %d", status)
}
