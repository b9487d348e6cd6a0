// Package remote is the HTTP client for the inventory sync server.
// It maps HTTP failure classes onto sentinel errors so the sync engine can
// classify outcomes without looking at status codes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/inv/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrGone         = errors.New("entity deleted on server")
	ErrInvalidGrant = errors.New("refresh token invalid or revoked")
)

// Client is an HTTP client for the inventory sync server.
type Client struct {
	BaseURL  string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new remote client.
func New(baseURL, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Auth types ---

// TokenPair is the response from the token and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	ExpiresAt    string `json:"expires_at"` // RFC3339
	RefreshToken string `json:"refresh_token"`
}

// AccessExpiry parses the access token expiry.
func (t *TokenPair) AccessExpiry() (time.Time, error) {
	return time.Parse(time.RFC3339, t.ExpiresAt)
}

// --- Delta types ---

// DeltaRecord is a single changed or deleted record in a delta response.
type DeltaRecord struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Deleted    bool            `json:"deleted,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int64           `json:"version,omitempty"`
}

// DeltaResponse is the response from the changes endpoint.
type DeltaResponse struct {
	Records    []DeltaRecord `json:"records"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Auth methods ---

// Login exchanges email/password for a token pair. No bearer token required.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	body := map[string]string{"email": email, "password": password, "device_id": c.DeviceID}
	var resp TokenPair
	if err := c.do(ctx, "POST", "/v1/auth/token", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a fresh pair. A revoked or unknown
// refresh token yields ErrInvalidGrant; anything else is transient.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken, "device_id": c.DeviceID}
	var resp TokenPair
	if err := c.do(ctx, "POST", "/v1/auth/refresh", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the refresh token server-side. Best effort.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, "POST", "/v1/auth/logout", token, nil, nil)
}

// --- Entity methods ---

// PushEntity delivers one captured mutation to the per-entity endpoint.
// The payload is the snapshot captured at enqueue time.
func (c *Client) PushEntity(ctx context.Context, token, entityType, entityID string, op models.Operation, payload json.RawMessage) error {
	path, method, err := entityRoute(entityType, entityID, op)
	if err != nil {
		return err
	}
	var body any
	if op != models.OpDelete {
		body = payload
	}
	return c.do(ctx, method, path, token, body, nil)
}

// entityRoute maps an outbox operation to its REST endpoint.
func entityRoute(entityType, entityID string, op models.Operation) (path, method string, err error) {
	var base string
	switch entityType {
	case models.EntityAsset:
		base = "/v1/assets"
	case models.EntityHistory:
		base = "/v1/history"
	default:
		return "", "", fmt.Errorf("unsupported entity type: %s", entityType)
	}

	switch op {
	case models.OpCreate:
		return base, "POST", nil
	case models.OpUpdate:
		return base + "/" + url.PathEscape(entityID), "PUT", nil
	case models.OpDelete:
		return base + "/" + url.PathEscape(entityID), "DELETE", nil
	default:
		return "", "", fmt.Errorf("unsupported operation: %s", op)
	}
}

// FetchAsset retrieves the current remote record for an asset. Used to
// resolve version conflicts (remote wins).
func (c *Client) FetchAsset(ctx context.Context, token, id string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.do(ctx, "GET", "/v1/assets/"+url.PathEscape(id), token, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Changes fetches records changed since the given cursor. An empty cursor
// requests the full dataset from the beginning.
func (c *Client) Changes(ctx context.Context, token, cursor string, limit int) (*DeltaResponse, error) {
	params := url.Values{}
	params.Set("cursor", cursor)
	params.Set("limit", strconv.Itoa(limit))
	if c.DeviceID != "" {
		params.Set("exclude_device", c.DeviceID)
	}

	var resp DeltaResponse
	if err := c.do(ctx, "GET", "/v1/changes?"+params.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health hits the /healthz endpoint to verify server reachability.
func (c *Client) Health(ctx context.Context) error {
	var resp HealthResponse
	return c.do(ctx, "GET", "/healthz", "", nil, &resp)
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
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

func (c *Client) do(ctx context.Context, method, path, token string, body, result any) error {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.mapError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// mapError converts an HTTP error response into a sentinel-wrapped error.
// Anything not covered (5xx in particular) stays a plain error, which the
// sync engine treats as transient.
func (c *Client) mapError(status int, body []byte) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) != nil {
		apiErr = apiError{}
	}

	switch {
	case status == http.StatusUnauthorized && apiErr.Code == "invalid_grant",
		status == http.StatusBadRequest && apiErr.Code == "invalid_grant":
		return fmt.Errorf("%w: %s", ErrInvalidGrant, apiErr.Message)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	case status == http.StatusGone,
		status == http.StatusNotFound && apiErr.Code == "entity_deleted":
		return fmt.Errorf("%w: %s", ErrGone, apiErr.Message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	}

	if apiErr.Code != "" {
		return &apiErr
	}
	return fmt.Errorf("HTTP %d: %s", status, string(body))
}
