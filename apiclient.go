package runes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MessageStatus is the lifecycle state of a work-queue message
type MessageStatus string

const (
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusError      MessageStatus = "error"
)

// PendingMessage is one record returned by the work queue's pending fetch
type PendingMessage struct {
	ID      string         `json:"id"`
	Token   string         `json:"token"`
	Request map[string]any `json:"request"`
}

const (
	httpTimeout  = 10 * time.Second
	retryCount   = 3
	retryBackoff = time.Second
)

// APIClient talks to the hosted identity service and work queue over HTTP.
// Contract creation, mapping registration, and message-status/response
// updates retry with exponential backoff; heartbeat and fetch are
// single-attempt (the polling loops provide their own cadence).
type APIClient struct {
	baseURL string
	client  *http.Client

	retryAttempts int
	retryBase     time.Duration
}

// NewAPIClient creates an API client for the given service base URL
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: httpTimeout},
		retryAttempts: retryCount,
		retryBase:     retryBackoff,
	}
}

// Heartbeat reports the connection as alive. Single attempt.
func (c *APIClient) Heartbeat(ctx context.Context, connectionToken string) error {
	path := fmt.Sprintf("/api/hub/connection/compute/%s/1/", connectionToken)
	return c.doJSON(ctx, http.MethodPut, path, nil, http.StatusOK, "connection heartbeat")
}

// CreateComputeContract stores the method contract under the connection
// token. Retried with exponential backoff.
func (c *APIClient) CreateComputeContract(ctx context.Context, connectionToken string, contract *MethodContract) error {
	body := map[string]any{
		"id":   connectionToken,
		"data": contract,
	}
	return c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/api/hub/compute/contract/", body, http.StatusCreated, "create compute contract")
	})
}

// AddConnectionMapping links the connection token to the master account.
// Retried with exponential backoff.
func (c *APIClient) AddConnectionMapping(ctx context.Context, masterToken, connectionToken, name, description, connectionType string) error {
	body := map[string]any{
		"master_token":     masterToken,
		"connection_token": connectionToken,
		"connection_name":  name,
		"connection_type":  connectionType,
		"description":      description,
	}
	return c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/api/hub/connection_mappings/", body, http.StatusCreated, "add connection mapping")
	})
}

// UpdateLoadedStatus flips the connection's "loaded" flag
func (c *APIClient) UpdateLoadedStatus(ctx context.Context, connectionToken string, loaded bool) error {
	path := fmt.Sprintf("/api/hub/connections/%s/loaded/", connectionToken)
	body := map[string]any{"loaded": loaded}
	return c.doJSON(ctx, http.MethodPut, path, body, http.StatusOK, "update loaded status")
}

// FetchPendingRequests returns the pending invocation requests for a
// connection token. Single attempt.
func (c *APIClient) FetchPendingRequests(ctx context.Context, connectionToken string) ([]PendingMessage, error) {
	path := fmt.Sprintf("/api/hub/get_latest_pending_messages/%s/", connectionToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pending request fetch: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Operation: "fetch pending requests", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Operation: "fetch pending requests", StatusCode: resp.StatusCode}
	}

	var pending []PendingMessage
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending requests: %w", err)
	}
	return pending, nil
}

// UpdateMessageStatus marks a work-queue message processing/completed/error.
// Retried with exponential backoff.
func (c *APIClient) UpdateMessageStatus(ctx context.Context, token, messageID string, status MessageStatus) error {
	path := fmt.Sprintf("/api/hub/update_message_status/%s/%s/", token, messageID)
	body := map[string]any{"status": status}
	return c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPatch, path, body, http.StatusOK, "update message status")
	})
}

// SendMessageResponse publishes the final response envelope for a message.
// Retried with exponential backoff.
func (c *APIClient) SendMessageResponse(ctx context.Context, token, messageID string, response *ResponseEnvelope) error {
	body := map[string]any{
		"id":       messageID,
		"token":    token,
		"response": response,
		"status":   StatusCompleted,
	}
	return c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/api/hub/reply_to_message/", body, http.StatusOK, "send message response")
	})
}

// SignedUploadURL asks the service for a pre-signed destination for a filename
func (c *APIClient) SignedUploadURL(ctx context.Context, token, filename string) (string, error) {
	query := url.Values{}
	query.Set("token", token)
	query.Set("filename", filename)
	endpoint := c.baseURL + "/api/hub/get_signed_url/?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build signed URL request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ServiceError{Operation: "get signed upload URL", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Operation: "get signed upload URL", StatusCode: resp.StatusCode}
	}

	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode signed URL response: %w", err)
	}
	return payload.SignedURL, nil
}

// doJSON performs a single JSON request and checks the expected status code
func (c *APIClient) doJSON(ctx context.Context, method, path string, body any, wantStatus int, operation string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to serialize %s payload: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ServiceError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != wantStatus {
		return &ServiceError{Operation: operation, StatusCode: resp.StatusCode}
	}
	return nil
}

// withRetry runs fn up to retryAttempts times with doubling backoff between
// attempts, honoring context cancellation. The last failure is returned.
func (c *APIClient) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryBase
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
