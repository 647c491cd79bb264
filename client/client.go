// Package client is the shared API client for the fleet backend. Both
// device-side and operator-side tooling use it, so the HTTP surface is
// only spelled out once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the fleet backend's HTTP API.
type Client struct {
	baseURL string
	apiKey  string

	// HTTPClient may be replaced before first use, e.g. for tests.
	HTTPClient *http.Client
}

// New creates a client for the API at baseURL. The apiKey is only sent
// on endpoints that require it; pass "" for device-side use.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Device mirrors the backend's device representation.
type Device struct {
	ID              string    `json:"device_id"`
	Name            string    `json:"device_name"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	AssignedModelID *string   `json:"assigned_model_id"`
	Status          string    `json:"status"`
	IsActive        bool      `json:"is_active"`
}

// Model mirrors the backend's model representation.
type Model struct {
	ID                string          `json:"model_id"`
	DisplayName       string          `json:"display_name"`
	UploadedAt        time.Time       `json:"uploaded_at"`
	OriginalFilename  string          `json:"original_filename"`
	Metadata          json.RawMessage `json:"metadata"`
	IsActive          bool            `json:"is_active"`
	ActiveDeviceCount int64           `json:"active_device_count"`
}

// Result mirrors the backend's result representation.
type Result struct {
	ID         string          `json:"result_id"`
	DeviceID   string          `json:"device_id"`
	ModelID    string          `json:"model_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Label      string          `json:"result"`
	Confidence float64         `json:"confidence"`
	Extra      json.RawMessage `json:"metadata"`
}

// Heartbeat is the server's reply to a device heartbeat.
type Heartbeat struct {
	ModelID        *string         `json:"model_id"`
	ShouldDownload bool            `json:"should_download"`
	Metadata       json.RawMessage `json:"metadata"`
}

// DownloadGrant is a time-limited URL for fetching a model artifact.
type DownloadGrant struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int    `json:"expires_in"`
}

// Register registers a new device and returns its id.
func (c *Client) Register(ctx context.Context, deviceName string) (string, error) {
	var resp struct {
		DeviceID string `json:"device_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/devices/register",
		map[string]any{"device_name": deviceName}, &resp, false)
	if err != nil {
		return "", err
	}
	return resp.DeviceID, nil
}

// Heartbeat reports liveness and the device's status, returning the
// current model assignment.
func (c *Client) Heartbeat(ctx context.Context, deviceID, status string) (*Heartbeat, error) {
	body := map[string]any{}
	if status != "" {
		body["status"] = status
	}
	var hb Heartbeat
	err := c.doJSON(ctx, http.MethodPost, "/api/devices/"+deviceID+"/heartbeat", body, &hb, false)
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// SetModel assigns a model to a device; a nil modelID clears the
// assignment.
func (c *Client) SetModel(ctx context.Context, deviceID string, modelID *string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/devices/"+deviceID+"/set_model",
		map[string]any{"model_id": modelID}, nil, true)
}

// DeleteDevice soft-deletes (or with hard=true permanently removes) a
// device.
func (c *Client) DeleteDevice(ctx context.Context, deviceID string, hard bool) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/devices/"+deviceID+"?hard="+strconv.FormatBool(hard), nil, nil, true)
}

// ListDevices lists all active devices.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/devices", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// GetDevice fetches a single device.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	if err := c.doJSON(ctx, http.MethodGet, "/api/devices/"+deviceID, nil, &d, false); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListModels lists all active models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var resp struct {
		Models []Model `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// GetModel fetches a single model.
func (c *Client) GetModel(ctx context.Context, modelID string) (*Model, error) {
	var m Model
	if err := c.doJSON(ctx, http.MethodGet, "/api/models/"+modelID, nil, &m, false); err != nil {
		return nil, err
	}
	return &m, nil
}

// DownloadGrant requests a time-limited download URL for a model.
func (c *Client) DownloadGrant(ctx context.Context, modelID string) (*DownloadGrant, error) {
	var grant DownloadGrant
	if err := c.doJSON(ctx, http.MethodGet, "/api/models/"+modelID+"/download", nil, &grant, false); err != nil {
		return nil, err
	}
	return &grant, nil
}

// UploadModel uploads a model binary with its metadata document and
// returns the new model id.
func (c *Client) UploadModel(ctx context.Context, filename string, modelData io.Reader, metadata map[string]any) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("model", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, modelData); err != nil {
		return "", err
	}

	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	metaPart, err := w.CreateFormFile("metadata", "metadata.json")
	if err != nil {
		return "", err
	}
	if _, err := metaPart.Write(metaBytes); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/models/create", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	var resp struct {
		ModelID string `json:"model_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ModelID, nil
}

// DeleteModel soft-deletes (or with hard=true permanently removes) a
// model and its artifact.
func (c *Client) DeleteModel(ctx context.Context, modelID string, hard bool) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/models/"+modelID+"?hard="+strconv.FormatBool(hard), nil, nil, true)
}

// SubmitResult reports a classification outcome. Extra keys travel
// along as the result's metadata document.
func (c *Client) SubmitResult(ctx context.Context, deviceID, modelID, label string, confidence float64, extra map[string]any) (string, error) {
	body := map[string]any{
		"device_id":  deviceID,
		"model_id":   modelID,
		"result":     label,
		"confidence": confidence,
	}
	for k, v := range extra {
		body[k] = v
	}

	var resp struct {
		ResultID string `json:"result_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/results", body, &resp, false); err != nil {
		return "", err
	}
	return resp.ResultID, nil
}

// GetResult fetches a single result.
func (c *Client) GetResult(ctx context.Context, resultID string) (*Result, error) {
	var r Result
	if err := c.doJSON(ctx, http.MethodGet, "/api/results/"+resultID, nil, &r, false); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResults lists results, optionally filtered by device and model.
// A limit of 0 uses the server default.
func (c *Client) ListResults(ctx context.Context, deviceID, modelID string, limit int) ([]Result, error) {
	params := url.Values{}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	if modelID != "" {
		params.Set("model_id", modelID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/results"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Results []Result `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// doJSON performs a JSON request against the API, decoding the response
// into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(respBody))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
