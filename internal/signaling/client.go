// Package signaling is the console's client for the call backend: starting
// and stopping calls, reading the call log and pushing reviewed summaries
// into the callee's memory.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/carecall/internal/logging"
	"github.com/dukerupert/carecall/internal/model"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBody     = 4 << 10
)

// ErrBackendUnavailable matches every failure to reach the backend at all.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrMalformedResponse is returned when a 2xx body cannot be used.
var ErrMalformedResponse = errors.New("malformed backend response")

// UnavailableError reports a connection-level failure for one operation.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrBackendUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}

// BackendError is a non-2xx response.
type BackendError struct {
	Op     string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request, including reading the response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type StartRequest struct {
	UserID   model.ID `json:"user_id"`
	UserName string   `json:"user_name"`
	Persona  string   `json:"persona"`
}

type StartResponse struct {
	LiveKitURL string `json:"livekit_url"`
	UserToken  string `json:"user_token"`
	RoomName   string `json:"room_name"`
}

// StartCall asks the backend to create a room and dispatch the agent.
func (c *Client) StartCall(ctx context.Context, req StartRequest) (*StartResponse, error) {
	var resp StartResponse
	if err := c.do(ctx, "start call", http.MethodPost, "/calls/start", req, &resp); err != nil {
		return nil, err
	}
	if resp.LiveKitURL == "" || resp.UserToken == "" || resp.RoomName == "" {
		return nil, fmt.Errorf("start call: %w: missing livekit_url, user_token or room_name", ErrMalformedResponse)
	}
	return &resp, nil
}

// StopCall tells the backend the call in room is over.
func (c *Client) StopCall(ctx context.Context, room string) error {
	body := struct {
		RoomName string `json:"room_name"`
	}{room}
	return c.do(ctx, "stop call", http.MethodPost, "/calls/stop", body, nil)
}

// ListCalls returns the backend's whole call log. Any non-2xx response is
// reported as unavailability; the *BackendError stays reachable with errors.As.
func (c *Client) ListCalls(ctx context.Context) ([]model.CallLogEntry, error) {
	var entries []model.CallLogEntry
	if err := c.do(ctx, "list calls", http.MethodGet, "/calls/", nil, &entries); err != nil {
		var be *BackendError
		if errors.As(err, &be) {
			return nil, &UnavailableError{Op: be.Op, Err: be}
		}
		return nil, err
	}
	return entries, nil
}

type MemoryUpdate struct {
	UserID   model.ID `json:"user_id"`
	UserName string   `json:"user_name"`
	CallID   model.ID `json:"call_id"`
	Summary  string   `json:"summary"`
	Mood     string   `json:"mood"`
	Topics   []string `json:"topics"`
	Date     string   `json:"date"`
}

type MemoryUpdateResult struct {
	// PendingFollowups is passed through untouched; its element shape is
	// owned by the backend.
	PendingFollowups []json.RawMessage `json:"pending_followups"`
}

// UpdateMemory stores a reviewed call summary against the callee.
func (c *Client) UpdateMemory(ctx context.Context, u MemoryUpdate) (*MemoryUpdateResult, error) {
	if u.Topics == nil {
		u.Topics = []string{}
	}
	var res MemoryUpdateResult
	if err := c.do(ctx, "update memory", http.MethodPost, "/memory/update", u, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "op", op, "request_id", requestID, "error", err)
		return &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"op", op,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &BackendError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &UnavailableError{Op: op, Err: ctx.Err()}
		}
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
	}
	return nil
}
