// Package client is a small HTTP client for a running conductor daemon. The
// CLI uses it; embedders can too.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orpheus-engine/conductor/internal/service"
	"github.com/orpheus-engine/conductor/internal/store"
)

// Config configures a Client. BaseURL points at the daemon's API root,
// e.g. "http://127.0.0.1:4800/api".
type Config struct {
	BaseURL string
	Timeout time.Duration // per-request; default 10s
}

type Client struct {
	base string
	hc   *http.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("client: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, hc: &http.Client{Timeout: timeout}}, nil
}

// Start asks the daemon to start one registered service.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.post(ctx, "/start", url.Values{"name": {name}}, nil, nil)
}

// StartAll starts every registered service in registration order.
func (c *Client) StartAll(ctx context.Context) error {
	return c.post(ctx, "/start-all", nil, nil, nil)
}

// Stop stops one service.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.post(ctx, "/stop", url.Values{"name": {name}}, nil, nil)
}

// StopAll tears down every live service.
func (c *Client) StopAll(ctx context.Context) error {
	return c.post(ctx, "/stop-all", nil, nil, nil)
}

// Restart stops and restarts one service with a fresh status record.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.post(ctx, "/restart", url.Values{"name": {name}}, nil, nil)
}

// Status fetches the status record of one service.
func (c *Client) Status(ctx context.Context, name string) (service.Status, error) {
	var st service.Status
	err := c.get(ctx, "/status", url.Values{"name": {name}}, &st)
	return st, err
}

// Statuses fetches all status records in registration order.
func (c *Client) Statuses(ctx context.Context) ([]service.Status, error) {
	var out []service.Status
	err := c.get(ctx, "/statuses", nil, &out)
	return out, err
}

// StartGroupService registers d under groupID on the daemon and starts it.
func (c *Client) StartGroupService(ctx context.Context, groupID string, d service.Descriptor) error {
	return c.post(ctx, "/group/start", url.Values{"group": {groupID}}, d, nil)
}

// StopGroup stops and removes every service in the group.
func (c *Client) StopGroup(ctx context.Context, groupID string) error {
	return c.post(ctx, "/group/stop", url.Values{"group": {groupID}}, nil, nil)
}

// GroupStatuses fetches status records for every service in the group.
func (c *Client) GroupStatuses(ctx context.Context, groupID string) ([]service.Status, error) {
	var out []service.Status
	err := c.get(ctx, "/group/status", url.Values{"group": {groupID}}, &out)
	return out, err
}

// GroupHealthy reports the daemon's health verdict for the group.
func (c *Client) GroupHealthy(ctx context.Context, groupID string) (bool, error) {
	var resp struct {
		Healthy bool `json:"healthy"`
	}
	err := c.get(ctx, "/group/health", url.Values{"group": {groupID}}, &resp)
	return resp.Healthy, err
}

// History fetches the most recent state transitions from the daemon's journal.
func (c *Client) History(ctx context.Context, limit int) ([]store.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []store.Record
	err := c.get(ctx, "/history", q, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) post(ctx context.Context, path string, q url.Values, body, out any) error {
	return c.do(ctx, http.MethodPost, path, q, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
