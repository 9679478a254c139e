package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/me/obscore/pkg/model"
)

// Client talks to the obscore worker API on behalf of one worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	workerKey  string // Optional: shared secret for worker authentication
}

// NewClient creates a new worker API client with connection pooling.
// If tlsCfg is nil, the default system TLS configuration is used.
func NewClient(baseURL string, tlsCfg *tls.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsCfg,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SetWorkerKey sets the shared secret sent as X-Worker-Key.
func (c *Client) SetWorkerKey(key string) {
	c.workerKey = key
}

// Acquire leases the next work item. It returns nil when no work is
// available (204).
func (c *Client) Acquire(ctx context.Context, workerID string, filter model.WorkFilter) (*model.Assignment, error) {
	body, err := json.Marshal(map[string]any{
		"worker_id":  workerID,
		"module_ids": filter.ModuleIDs,
		"key":        filter.Key,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/work/acquire", body)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}

	var asg model.Assignment
	if err := decodeResponseData(resp, &asg); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	return &asg, nil
}

// Renew extends the lease on itemID and returns the new expiry.
func (c *Client) Renew(ctx context.Context, itemID, workerID string) (time.Time, error) {
	body, err := json.Marshal(map[string]string{"worker_id": workerID})
	if err != nil {
		return time.Time{}, err
	}

	resp, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/work/%s/renew", itemID), body)
	if err != nil {
		return time.Time{}, fmt.Errorf("renew: %w", err)
	}

	var data struct {
		LeaseExpiry time.Time `json:"lease_expiry"`
	}
	if err := decodeResponseData(resp, &data); err != nil {
		return time.Time{}, fmt.Errorf("renew: %w", err)
	}
	return data.LeaseExpiry, nil
}

// SubmitResult uploads payload as the candidate result for itemID.
func (c *Client) SubmitResult(ctx context.Context, itemID, workerID string, payload json.RawMessage) (*model.Result, error) {
	body, err := json.Marshal(map[string]any{
		"worker_id": workerID,
		"payload":   payload,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/work/%s/result", itemID), body)
	if err != nil {
		return nil, fmt.Errorf("submit result: %w", err)
	}

	var res model.Result
	if err := decodeResponseData(resp, &res); err != nil {
		return nil, fmt.Errorf("submit result: %w", err)
	}
	return &res, nil
}

// Complete completes the lease on itemID with resultID.
func (c *Client) Complete(ctx context.Context, itemID, workerID, resultID string) error {
	body, err := json.Marshal(map[string]string{
		"worker_id": workerID,
		"result_id": resultID,
	})
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/work/%s/complete", itemID), body)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Fail reports a failed attempt and returns the item's new state.
func (c *Client) Fail(ctx context.Context, itemID, workerID, reason string, retryable bool) (model.WorkItemState, error) {
	body, err := json.Marshal(map[string]any{
		"worker_id": workerID,
		"reason":    reason,
		"retryable": retryable,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/work/%s/fail", itemID), body)
	if err != nil {
		return "", fmt.Errorf("fail: %w", err)
	}

	var data struct {
		State model.WorkItemState `json:"state"`
	}
	if err := decodeResponseData(resp, &data); err != nil {
		return "", fmt.Errorf("fail: %w", err)
	}
	return data.State, nil
}

// doRequest executes an HTTP request and returns the response. Error
// statuses are decoded into an error that matches the model sentinels.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.workerKey != "" {
		req.Header.Set("X-Worker-Key", c.workerKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, respBody)
	}

	return resp, nil
}

// statusError turns an error envelope into an error. Lease and version
// codes wrap the matching sentinel so callers can use errors.Is.
func statusError(status int, body []byte) error {
	var envelope struct {
		Error *model.APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return fmt.Errorf("HTTP %d: %s", status, body)
	}

	apiErr := envelope.Error
	switch apiErr.Code {
	case model.ErrCodeLeaseLost:
		return fmt.Errorf("HTTP %d: %s: %w", status, apiErr.Message, model.ErrLeaseLost)
	case model.ErrCodeStaleVersion:
		return fmt.Errorf("HTTP %d: %s: %w", status, apiErr.Message, model.ErrStaleModuleVersion)
	case model.ErrCodeNotFound:
		return fmt.Errorf("HTTP %d: %s: %w", status, apiErr.Message, model.ErrNotFound)
	case model.ErrUnavailable:
		return fmt.Errorf("HTTP %d: %s: %w", status, apiErr.Message, model.ErrStoreUnavailable)
	}
	return fmt.Errorf("HTTP %d: %w", status, apiErr)
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}
