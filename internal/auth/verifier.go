package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// User represents an authenticated caller from a JWT
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTVerifier checks bearer tokens against a JWKS. Keys are served from a
// jwk.Cache that refreshes in the background, so verification does no
// network I/O on the hot path.
type JWTVerifier struct {
	keySet   jwk.Set
	issuer   string
	audience string
}

// VerifierOption customises a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithIssuer requires the iss claim.
func WithIssuer(iss string) VerifierOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// WithAudience requires the aud claim.
func WithAudience(aud string) VerifierOption {
	return func(v *JWTVerifier) { v.audience = aud }
}

// NewJWTVerifier registers jwksURL with a refreshing cache and warms it up.
// The cache stops refreshing when ctx is cancelled.
func NewJWTVerifier(ctx context.Context, jwksURL string, refresh time.Duration, opts ...VerifierOption) (*JWTVerifier, error) {
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(warmCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	return NewStaticVerifier(jwk.NewCachedSet(cache, jwksURL), opts...), nil
}

// NewStaticVerifier verifies against a fixed key set.
func NewStaticVerifier(set jwk.Set, opts ...VerifierOption) *JWTVerifier {
	v := &JWTVerifier{keySet: set}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// UserFromRequest extracts and validates the bearer token of r.
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(v.keySet),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseRequest(r, parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, errors.New("token missing user ID (subject)")
	}

	var email, name string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}
	if nameClaim, ok := token.Get("name"); ok {
		name, _ = nameClaim.(string)
	}

	return &User{ID: userID, Email: email, Name: name}, nil
}
