// Package client talks to the content server on behalf of an editor session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"readback/api/internal/content"
	"readback/api/internal/notify"
)

var (
	// ErrUnavailable wraps transport failures and non-2xx responses.
	ErrUnavailable = errors.New("content server unavailable")
	// ErrMalformed wraps responses whose body could not be decoded.
	ErrMalformed = errors.New("malformed content response")
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	lastGood content.List
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
		lastGood: content.List{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type contentResponse struct {
	Content *[]content.Item `json:"content"`
}

// Fetch reads the whole document. On any failure it returns the last list it
// fetched successfully together with the error; it never retries. A response
// without content decodes to an empty list, and items that fail validation
// are dropped.
func (c *Client) Fetch(ctx context.Context) (content.List, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/content", nil)
	if err != nil {
		return c.fallback(fmt.Errorf("build fetch request: %w", err))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fallback(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fallback(fmt.Errorf("%w: GET /api/content returned %d: %s", ErrUnavailable, resp.StatusCode, readError(resp.Body)))
	}

	var payload contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return c.fallback(fmt.Errorf("%w: %v", ErrMalformed, err))
	}

	list := content.List{}
	if payload.Content != nil {
		for i, item := range *payload.Content {
			if err := content.Validate(item); err != nil {
				c.logger.Warn("dropping invalid item from server", zap.Int("position", i), zap.Error(err))
				continue
			}
			list = append(list, item)
		}
	}

	c.mu.Lock()
	c.lastGood = list.Clone()
	c.mu.Unlock()
	return list, nil
}

func (c *Client) fallback(err error) (content.List, error) {
	c.logger.Warn("fetch failed, keeping last known content", zap.Error(err))
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastGood.Clone(), err
}

// LastKnown returns the list from the most recent successful fetch.
func (c *Client) LastKnown() content.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastGood.Clone()
}

// Push replaces the server document with list. Failures are logged and
// returned; nothing is retried.
func (c *Client) Push(ctx context.Context, list content.List) error {
	body, err := json.Marshal(content.Envelope{Content: list.Clone()})
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/content", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		c.logger.Warn("push failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: POST /api/content returned %d: %s", ErrUnavailable, resp.StatusCode, readError(resp.Body))
		c.logger.Warn("push failed", zap.Error(err))
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Status is the advisory server description from /api/status.
type Status struct {
	Storage string `json:"storage"`
	History string `json:"history,omitempty"`
	Search  string `json:"search,omitempty"`
	Notify  string `json:"notify,omitempty"`
}

// Durable reports whether the server stores content in a database. File
// storage is lost when an ephemeral host is redeployed.
func (s Status) Durable() bool {
	return s.Storage != "" && s.Storage != "file"
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return Status{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("%w: GET /api/status returned %d", ErrUnavailable, resp.StatusCode)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return status, nil
}

// readError extracts the "error" field of a JSON error body, falling back to
// the raw (truncated) body.
func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// Watch follows the server event stream and calls fn for every change event
// until ctx is done or the stream ends. Callers reconnect as they see fit.
func (c *Client) Watch(ctx context.Context, fn func(notify.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("build watch request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived, so the client-wide timeout must not apply.
	stream := *c.http
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET /api/events returned %d", ErrUnavailable, resp.StatusCode)
	}

	err = notify.ReadEvents(resp.Body, func(event notify.Event) {
		if event.Type == notify.EventContentUpdated {
			fn(event)
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
