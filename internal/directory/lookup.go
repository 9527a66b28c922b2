package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NullClient is a LookupClient for deployments without a lookup service.
// Every resolution misses; the directory then only learns capability from
// inbound traffic.
type NullClient struct{}

func (NullClient) Lookup(context.Context, string) (*ContactToken, error) {
	return nil, nil
}

func (NullClient) LookupBatch(context.Context, []string) ([]ContactToken, error) {
	return nil, nil
}

// HTTPLookupClient talks to the remote directory lookup service over JSON.
type HTTPLookupClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewHTTPLookupClient creates a lookup client for the given base URL. token,
// when non-empty, is sent as a bearer token on every request.
func NewHTTPLookupClient(baseURL, token string, timeout time.Duration) *HTTPLookupClient {
	return &HTTPLookupClient{
		baseURL: baseURL,
		token:   token,
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Lookup resolves a single address. Returns nil when the service reports the
// address as not registered.
func (c *HTTPLookupClient) Lookup(ctx context.Context, addr string) (*ContactToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/directory/"+url.PathEscape(addr), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var token ContactToken
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return nil, fmt.Errorf("decode lookup response: %w", err)
		}
		return &token, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("lookup %s: unexpected status %d", addr, resp.StatusCode)
	}
}

// LookupBatch resolves many addresses in one round trip. The response lists
// only the registered subset.
func (c *HTTPLookupClient) LookupBatch(ctx context.Context, addrs []string) ([]ContactToken, error) {
	body, err := json.Marshal(struct {
		Addresses []string `json:"addresses"`
	}{Addresses: addrs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/v1/directory/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch lookup request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch lookup: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Contacts []ContactToken `json:"contacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return out.Contacts, nil
}

func (c *HTTPLookupClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
