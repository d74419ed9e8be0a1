package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/toggle/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Request headers sent on every call.
const (
	HeaderRequestID = "X-Request-ID"    // echoed into remote logs
	HeaderDeviceID  = "X-Toggle-Device" // lets the remote track per-device cursors
)

// TokenSource returns the current auth token. It is called once per request
// so a host can rotate credentials without rebuilding the client.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Client is an HTTP client for a toggle remote.
type Client struct {
	BaseURL  string
	Token    TokenSource
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client. Per-request deadlines come from the
// caller's context; the http.Client timeout is a backstop.
func New(baseURL string, token TokenSource, deviceID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}
}

// --- Wire types (mirrors internal/api, independently defined) ---

// PullResponse is the body of GET /toggles.
type PullResponse struct {
	Toggles []models.ToggleRecord `json:"toggles"`
	Deleted []models.Tombstone    `json:"deleted,omitempty"`
	Cursor  string                `json:"cursor"`
}

// pullBody decodes GET /toggles strictly enough to tell a missing toggles
// array from an empty one.
type pullBody struct {
	Toggles *[]models.ToggleRecord `json:"toggles"`
	Deleted []models.Tombstone     `json:"deleted"`
	Cursor  string                 `json:"cursor"`
}

// AckRequest is the body of POST /toggles/ack.
type AckRequest struct {
	DeviceID  string                `json:"device_id"`
	Overrides []models.ToggleRecord `json:"overrides"`
}

// AckResponse is the response from POST /toggles/ack.
type AckResponse struct {
	Accepted int `json:"accepted"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// FetchToggles pulls toggles changed after cursor. An empty cursor pulls
// everything. A 2xx response that is empty, null, or lacks the toggles array
// is a *models.SerializationError.
func (c *Client) FetchToggles(ctx context.Context, cursor string) (*PullResponse, error) {
	path := "/toggles"
	if cursor != "" {
		path += "?" + url.Values{"since": {cursor}}.Encode()
	}
	var body *pullBody
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	op := http.MethodGet + " /toggles"
	switch {
	case body == nil:
		return nil, &models.SerializationError{Op: op, Err: errors.New("empty pull response")}
	case body.Toggles == nil:
		return nil, &models.SerializationError{Op: op, Err: errors.New("pull response has no toggles array")}
	}
	return &PullResponse{Toggles: *body.Toggles, Deleted: body.Deleted, Cursor: body.Cursor}, nil
}

// AckOverrides pushes pinned local overrides to the remote.
func (c *Client) AckOverrides(ctx context.Context, overrides []models.ToggleRecord) (*AckResponse, error) {
	req := AckRequest{DeviceID: c.DeviceID, Overrides: overrides}
	if req.Overrides == nil {
		req.Overrides = []models.ToggleRecord{}
	}
	var resp AckResponse
	if err := c.do(ctx, http.MethodPost, "/toggles/ack", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutToggle upserts a toggle on the remote (admin).
func (c *Client) PutToggle(ctx context.Context, rec models.ToggleRecord) (*models.ToggleRecord, error) {
	var resp models.ToggleRecord
	if err := c.do(ctx, http.MethodPut, "/toggles/"+url.PathEscape(rec.Key), rec, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteToggle removes a toggle on the remote (admin).
func (c *Client) DeleteToggle(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/toggles/"+url.PathEscape(key), nil, nil)
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the remote.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doRequest performs one round trip. Transport failures and non-2xx statuses
// come back as *models.NetworkError; undecodable 2xx bodies as
// *models.SerializationError.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if c.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, c.DeviceID)
	}

	if auth && c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &models.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode, respBody)}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &models.SerializationError{Op: op, Err: err}
		}
	}
	return nil
}

func statusError(status int, body []byte) error {
	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil && er.Error.Code != "" {
		msg = er.Error.Message
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		default:
			return &er.Error
		}
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("HTTP %d: %s", status, msg)
}
