package contentstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies bearer tokens for gateway requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type staticTokenSource struct {
	token string
}

// StaticTokenSource returns a TokenSource that always yields token.
func StaticTokenSource(token string) TokenSource {
	return &staticTokenSource{token: token}
}

func (s *staticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// JWTTokenSource mints short-lived HS256 tokens from a shared gateway secret.
type JWTTokenSource struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewJWTTokenSource creates a source that signs a fresh token per request.
// A non-positive ttl defaults to five minutes.
func NewJWTTokenSource(secret []byte, issuer, audience string, ttl time.Duration) *JWTTokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWTTokenSource{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *JWTTokenSource) WithClock(clock func() time.Time) *JWTTokenSource {
	s.clock = clock
	return s
}

func (s *JWTTokenSource) Token(context.Context) (string, error) {
	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("contentstore: sign gateway token: %w", err)
	}
	return signed, nil
}

// HTTPStore persists blobs through a remote gateway: PUT to upload,
// GET to download, bearer auth from a TokenSource.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = client }
}

// NewHTTPStore creates a gateway-backed store. baseURL is the gateway root,
// e.g. "https://capsules.example.com/v1". A nil TokenSource sends
// unauthenticated requests.
func NewHTTPStore(baseURL string, tokens TokenSource, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStore) authorize(ctx context.Context, req *http.Request) error {
	if s.tokens == nil {
		return nil
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("contentstore: obtain gateway token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (s *HTTPStore) Upload(ctx context.Context, data []byte) (string, error) {
	digest := digestOf(data)
	uri := s.baseURL + "/blobs/" + digest

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("contentstore: build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := s.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("contentstore: gateway put: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("contentstore: gateway put %s: status %d", uri, resp.StatusCode)
	}
	return uri, nil
}

func (s *HTTPStore) Download(ctx context.Context, uri string) ([]byte, error) {
	scheme, _, ok := splitURI(uri)
	if !ok || (scheme != "http" && scheme != "https") {
		return nil, ErrForeignURI
	}
	if !strings.HasPrefix(uri, s.baseURL+"/blobs/") {
		return nil, ErrForeignURI
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("contentstore: build gateway request: %w", err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contentstore: gateway get: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrBlobNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("contentstore: gateway get %s: status %d", uri, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("contentstore: read gateway response: %w", err)
	}
	return data, nil
}
