package chp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client talks to the content hub's CMIS repository.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a client for the repository rooted at endpoint. A
// trailing slash is added when missing so "query" and "children" resolve
// beneath it.
func NewClient(endpoint, token string) *Client {
	if endpoint != "" && !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &Client{
		endpoint:  endpoint,
		authToken: base64.StdEncoding.EncodeToString([]byte(token + ":")),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != ""
}

// Endpoint returns the normalized repository root.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Response is what the hub answered. It is kept for alerts and traces.
type Response struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// LookupResult is the outcome of one asset ID query. Status is 0 when the
// request never got an HTTP answer. AssetID is empty when the answer held no
// asset, including when it was not well-formed XML.
type LookupResult struct {
	Status  int
	AssetID string
}

// QueryAssetID runs a CMIS query for the asset. The error is non-nil only
// for transport failures; HTTP statuses other than 200 are reported in the
// result.
func (c *Client) QueryAssetID(ctx context.Context, l Lookup) (LookupResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+l.Query(), nil)
	if err != nil {
		return LookupResult{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LookupResult{}, fmt.Errorf("querying asset: %w", err)
	}
	defer resp.Body.Close()

	result := LookupResult{Status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return result, nil
	}

	if id, ok := parseAssetID(io.LimitReader(resp.Body, maxBodyBytes)); ok {
		result.AssetID = id
	}
	return result, nil
}

// PostUsage posts a rendered usage document to the repository's children
// collection. The error is non-nil only for transport failures.
func (c *Client) PostUsage(ctx context.Context, body string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"children", strings.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("posting usage: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return Response{Status: resp.StatusCode, Body: string(respBody)}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+c.authToken)
}
