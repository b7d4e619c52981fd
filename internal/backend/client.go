// Package backend transmits activity events to the remote sync service.
package backend

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

	"github.com/peteski22/samaysync/internal/activitywatch"
)

const (
	// maxDetailBytes caps how much of an error response body is kept.
	maxDetailBytes = 4096

	// source identifies this agent in request payloads.
	source = "samay-sync"

	// userAgent is sent with every request.
	userAgent = "Samay-Sync/1.0"
)

// Client posts event batches to the sync backend.
type Client struct {
	// baseURL is the base URL for API requests, without a trailing slash.
	baseURL string

	// healthEndpoint is the path probed by Health.
	healthEndpoint string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// now returns the current time for payload timestamps.
	now func() time.Time

	// syncEndpoint is the path events are posted to.
	syncEndpoint string
}

// eventPayload is the wire form of a single event.
//
//nolint:tagliatelle // Backend API uses snake_case.
type eventPayload struct {
	BucketID  string         `json:"bucket_id"`
	Data      map[string]any `json:"data"`
	Duration  float64        `json:"duration"`
	ID        int64          `json:"id"`
	Timestamp string         `json:"timestamp"`
}

// syncRequest is the body of a sync POST.
type syncRequest struct {
	Events    []eventPayload `json:"events"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	return &Client{
		baseURL:        baseURL,
		healthEndpoint: o.healthEndpoint,
		httpClient:     httpClient,
		now:            time.Now,
		syncEndpoint:   o.syncEndpoint,
	}, nil
}

// Health checks that the backend is reachable and reports healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readDetail(resp.Body))
	}

	return nil
}

// SendEvents posts one bucket's events as a single batch. The batch is
// accepted or rejected as a whole. A nil return means the backend accepted
// it; otherwise the error is a *SendError whose Outcome classifies the failure.
func (c *Client) SendEvents(ctx context.Context, accessToken string, bucketID string, events []activitywatch.Event) error {
	body, err := json.Marshal(c.newSyncRequest(bucketID, events))
	if err != nil {
		return &SendError{Outcome: OutcomeRejected, Detail: "encoding request: " + err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.syncEndpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Outcome: OutcomeRejected, Detail: "creating request: " + err.Error(), Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendError{Outcome: OutcomeNetworkError, Detail: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return &SendError{Outcome: OutcomeAuthExpired, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		return &SendError{Outcome: OutcomeRateLimited, StatusCode: resp.StatusCode}
	default:
		return &SendError{
			Detail:     readDetail(resp.Body),
			Outcome:    OutcomeRejected,
			StatusCode: resp.StatusCode,
		}
	}
}

// newSyncRequest builds the request body for a batch.
func (c *Client) newSyncRequest(bucketID string, events []activitywatch.Event) syncRequest {
	payload := make([]eventPayload, len(events))
	for i, e := range events {
		data := e.Data
		if data == nil {
			data = map[string]any{}
		}
		payload[i] = eventPayload{
			BucketID:  bucketID,
			Data:      data,
			Duration:  e.Duration,
			ID:        e.ID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	return syncRequest{
		Events:    payload,
		Source:    source,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}
}

// readDetail reads a bounded, trimmed response body for error messages.
func readDetail(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxDetailBytes))
	return strings.TrimSpace(string(body))
}
