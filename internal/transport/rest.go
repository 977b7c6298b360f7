package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// Client is the HTTP side of the transport: it pushes operations to the
// server and classifies the response into accept / conflict / reject.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// NewClient creates a REST client with the given per-request timeout.
func NewClient(baseURL, apiKey, deviceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// sendRequest is the body for PUT /v1/entities/{kind}/{id}.
type sendRequest struct {
	OpID          string          `json:"op_id"`
	Op            string          `json:"op"`
	Data          json.RawMessage `json:"data,omitempty"`
	ClientVersion int64           `json:"client_version"`
	DeviceID      string          `json:"device_id"`
}

// acceptResponse is the 200 body: the canonical server payload and version.
type acceptResponse struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Version int64           `json:"version"`
}

// conflictResponse is the 409 body: the server's current view.
type conflictResponse struct {
	ServerData    json.RawMessage `json:"server_data,omitempty"`
	ServerVersion int64           `json:"server_version"`
}

// Send pushes one operation. A 409 returns a non-accepted result, not an
// error; network failures, timeouts, and 5xx come back as transient errors.
func (c *Client) Send(ctx context.Context, op *models.Operation) (*ServerResult, error) {
	body := sendRequest{
		OpID:          op.ID,
		Op:            string(op.Kind),
		Data:          op.Data,
		ClientVersion: op.BaseVersion,
		DeviceID:      c.DeviceID,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	path := fmt.Sprintf("/v1/entities/%s/%s", op.EntityKind, op.EntityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var acc acceptResponse
		if err := json.Unmarshal(respBody, &acc); err != nil {
			return nil, fmt.Errorf("unmarshal accept response: %w", err)
		}
		return &ServerResult{Accepted: true, Data: acc.Data, Version: acc.Version}, nil

	case resp.StatusCode == http.StatusConflict:
		var conf conflictResponse
		if err := json.Unmarshal(respBody, &conf); err != nil {
			return nil, fmt.Errorf("unmarshal conflict response: %w", err)
		}
		return &ServerResult{
			Accepted:      false,
			ServerData:    conf.ServerData,
			ServerVersion: conf.ServerVersion,
		}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, apiMessage(respBody))

	case resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiMessage(respBody)))

	default:
		// Remaining 4xx: validation or other permanent rejection.
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, apiMessage(respBody))
	}
}

// HealthCheck hits /healthz to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Transient(fmt.Errorf("healthz: HTTP %d", resp.StatusCode))
	}
	return nil
}

func apiMessage(body []byte) string {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		return apiErr.Error()
	}
	return string(body)
}
