// Package supabase implements the storage interfaces on top of the Supabase
// REST API (PostgREST).
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client wraps the Supabase REST API.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// Config holds Supabase connection settings.
type Config struct {
	URL        string
	ServiceKey string
}

// NewClient creates a Supabase REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

const maxResponseBytes = 8 << 20 // 8 MiB

// apiError extracts the PostgREST error message from an error body, falling
// back to the raw body when it is not the expected JSON shape.
func apiError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("supabase API error %d: %s", status, msg)
}

// request makes an HTTP request to the Supabase REST API. prefer customises
// the Prefer header; empty means return=representation.
func (c *Client) request(ctx context.Context, method, table string, body interface{}, query, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, respBody)
	}
	return respBody, nil
}
