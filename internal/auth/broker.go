// Package auth obtains provider access tokens from the token broker and
// verifies the callers of the sync API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	gosync "sync"
	"time"
)

// Provider represents OAuth providers
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// ErrNotConnected is returned when the account has no grant for the provider.
var ErrNotConnected = errors.New("auth: provider account not connected")

// Token represents OAuth tokens
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the token can still be used for at least leeway.
func (t *Token) Valid(leeway time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Now().Add(leeway).Before(t.Expiry)
}

// TokenSource hands out provider access tokens for a caller credential.
type TokenSource interface {
	GetToken(ctx context.Context, credential string, provider Provider) (*Token, error)
}

// BrokerClient fetches OAuth tokens from the token broker. The broker owns
// storage and refresh of the grants.
type BrokerClient struct {
	baseURL string
	client  *http.Client
}

// NewBrokerClient creates a client for the broker at baseURL.
func NewBrokerClient(baseURL string) *BrokerClient {
	return &BrokerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the provider token of the account identified by credential.
func (c *BrokerClient) GetToken(ctx context.Context, credential string, provider Provider) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", provider, ErrNotConnected)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("broker returned an empty %s token", provider)
	}

	tok := &Token{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}

// CachingSource reuses tokens from Source until they are within Leeway of
// expiring.
type CachingSource struct {
	Source TokenSource
	Leeway time.Duration

	mu     gosync.Mutex
	tokens map[string]*Token
}

// NewCachingSource wraps source with a one-minute leeway.
func NewCachingSource(source TokenSource) *CachingSource {
	return &CachingSource{Source: source, Leeway: time.Minute, tokens: make(map[string]*Token)}
}

// GetToken returns a cached token or fetches a new one.
func (c *CachingSource) GetToken(ctx context.Context, credential string, provider Provider) (*Token, error) {
	key := string(provider) + "\x00" + credential

	c.mu.Lock()
	tok := c.tokens[key]
	c.mu.Unlock()
	if tok.Valid(c.Leeway) {
		return tok, nil
	}

	tok, err := c.Source.GetToken(ctx, credential, provider)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()
	return tok, nil
}

// StaticSource returns the same access token for every request. It is meant
// for accounts configured with a token directly.
type StaticSource string

// GetToken returns the static token.
func (s StaticSource) GetToken(context.Context, string, Provider) (*Token, error) {
	if s == "" {
		return nil, ErrNotConnected
	}
	return &Token{AccessToken: string(s)}, nil
}
