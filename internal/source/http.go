package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"RangeLedger/internal/event"
)

// Client is an Adapter backed by a chain indexer's REST API.
type Client struct {
	baseURL    string
	batchLimit int
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates an indexer client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		batchLimit: 500,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithBatchLimit caps the number of events requested per poll.
func WithBatchLimit(n int) ClientOption {
	return func(c *Client) {
		c.batchLimit = n
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type pollResponse struct {
	Events     []json.RawMessage `json:"events"`
	NextCursor int64             `json:"next_cursor"`
}

type tipResponse struct {
	Cursor int64 `json:"cursor"`
}

// Poll fetches the next batch of a kind's stream after cursor.
func (c *Client) Poll(ctx context.Context, kind event.Kind, cursor int64) (Batch, error) {
	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	q.Set("limit", strconv.Itoa(c.batchLimit))

	var resp pollResponse
	path := fmt.Sprintf("/v1/events/%s?%s", kind, q.Encode())
	if err := c.get(ctx, path, &resp); err != nil {
		return Batch{}, fmt.Errorf("poll %s: %w", kind, err)
	}

	return Batch{Events: resp.Events, NextCursor: resp.NextCursor}, nil
}

// Tip fetches the current head cursor for a kind.
func (c *Client) Tip(ctx context.Context, kind event.Kind) (int64, error) {
	var resp tipResponse
	path := fmt.Sprintf("/v1/events/%s/tip", kind)
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("tip %s: %w", kind, err)
	}
	return resp.Cursor, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
