package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/obscore/pkg/model"
)

const apiPrefix = "/api/v1/"

// Client calls the obscore admin API for obsctl.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an admin API client. token may be empty when the server
// runs without an admin token.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "client"),
	}
}

// envelope is a decoded API response.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// RequestError is an error response from the server. It unwraps to the
// server's APIError.
type RequestError struct {
	StatusCode int
	RequestID  string
	API        *model.APIError
}

func (e *RequestError) Error() string {
	msg := e.API.Error()
	if e.StatusCode == http.StatusUnauthorized {
		msg += " (pass --token or set OBSCORE_ADMIN_TOKEN)"
	}
	if e.RequestID != "" {
		msg += " [" + e.RequestID + "]"
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.API }

// collectionPath is the list endpoint of a collection plus an encoded query.
func collectionPath(collection, query string) string {
	return apiPrefix + collection + "/" + query
}

// resourcePath addresses one resource, optionally followed by an action.
// The ID is path-escaped.
func resourcePath(collection, id string, action ...string) string {
	p := apiPrefix + collection + "/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// call sends one request. When out is non-nil the data field is decoded
// into it. A 204 response yields an empty envelope.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	reqID := resp.Header.Get("X-Request-ID")
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "duration", time.Since(start))

	env := &envelope{RequestID: reqID}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		if resp.StatusCode >= 400 {
			return nil, &RequestError{StatusCode: resp.StatusCode, RequestID: reqID, API: &model.APIError{
				Code: model.ErrInternal, Message: http.StatusText(resp.StatusCode),
			}}
		}
		return env, nil
	}

	if err := json.Unmarshal(raw, env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &RequestError{StatusCode: resp.StatusCode, RequestID: reqID, API: &model.APIError{
				Code: model.ErrInternal, Message: strings.TrimSpace(string(raw)),
			}}
		}
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil || resp.StatusCode >= 400 {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &model.APIError{Code: model.ErrInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return env, &RequestError{StatusCode: resp.StatusCode, RequestID: env.RequestID, API: apiErr}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, fmt.Errorf("parse %s data: %w", path, err)
		}
	}
	return env, nil
}
