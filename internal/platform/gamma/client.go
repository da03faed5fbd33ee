// Package gamma is a minimal REST client for the Polymarket Gamma API, used
// to map outcome-token asset ids to their condition ids.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// DefaultBaseURL is the public Gamma API root.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

// rateLimitKey buckets all Gamma requests under one sliding window.
const rateLimitKey = "gamma"

// Client queries the Gamma API. It implements domain.MarketResolver.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a Gamma API client. baseURL may be empty, in which case
// DefaultBaseURL is used. A nil limiter disables request throttling.
func NewClient(baseURL string, limiter domain.RateLimiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// apiMarket is the subset of the Gamma market payload the resolver needs.
type apiMarket struct {
	ConditionID string `json:"conditionId"`
}

// ResolveCondition looks up the market whose CLOB token list contains
// tokenID and returns its condition id. It returns domain.ErrNotFound when
// no market references the token.
func (c *Client) ResolveCondition(ctx context.Context, tokenID string) (string, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("gamma: resolve token %s: %w", tokenID, err)
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return "", fmt.Errorf("gamma: decode markets: %w", err)
	}

	for _, m := range markets {
		if m.ConditionID != "" {
			return m.ConditionID, nil
		}
	}
	return "", domain.ErrNotFound
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

var _ domain.MarketResolver = (*Client)(nil)
