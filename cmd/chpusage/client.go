package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mailonline/chpusage/internal/api"
	"github.com/mailonline/chpusage/internal/config"
)

// apiClient talks to a running `chpusage serve` on the loopback port.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.APIToken == "" {
		return nil, fmt.Errorf("server.api_token is not set")
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Server.APIToken,
		// A sweep pauses between posts, so it can run for minutes.
		http: &http.Client{Timeout: 30 * time.Minute},
	}, nil
}

// apiError is a 4xx/5xx answer, carrying the server's error type when the
// body is the usual {"error": {...}} envelope.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is `chpusage serve` running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		e.Message = envelope.Error.Message
		e.Type = envelope.Error.Type
	}
	return e
}

func (c *apiClient) sendUsage(ctx context.Context, postID int64) (api.UsageResponse, error) {
	var resp api.UsageResponse
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/usage/%d/send", postID), &resp)
	return resp, err
}

func (c *apiClient) usageRecord(ctx context.Context, postID int64) (api.UsageResponse, error) {
	var resp api.UsageResponse
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/usage/%d", postID), &resp)
	return resp, err
}

func (c *apiClient) sweep(ctx context.Context) (int, error) {
	var resp struct {
		Attempted int `json:"attempted"`
	}
	err := c.call(ctx, http.MethodPost, "/sweep", &resp)
	return resp.Attempted, err
}
