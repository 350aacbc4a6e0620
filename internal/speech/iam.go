package speech

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIAMEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

	// refreshMargin is how close to expiry a cached token is replaced.
	refreshMargin = 5 * time.Minute
	jwtLifetime   = time.Hour
)

// ServiceAccountKey is an authorized key as exported by `yc iam key create`.
type ServiceAccountKey struct {
	ID               string `json:"id"`
	ServiceAccountID string `json:"service_account_id"`
	PrivateKey       string `json:"private_key"`

	signer *rsa.PrivateKey
}

// ParseServiceAccountKey decodes a key file and its RSA private key.
func ParseServiceAccountKey(raw []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("invalid service account key: %w", err)
	}

	for field, value := range map[string]string{
		"id":                 key.ID,
		"service_account_id": key.ServiceAccountID,
		"private_key":        key.PrivateKey,
	} {
		if value == "" {
			return nil, fmt.Errorf("service account key is missing %q", field)
		}
	}

	signer, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid service account private key: %w", err)
	}
	key.signer = signer

	return &key, nil
}

// IAMOption configures an IAMTokenManager.
type IAMOption func(*IAMTokenManager)

// WithTokenHTTPClient sets the client used for token exchange.
func WithTokenHTTPClient(c *http.Client) IAMOption {
	return func(m *IAMTokenManager) {
		if c != nil {
			m.http = c
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) IAMOption {
	return func(m *IAMTokenManager) {
		m.now = now
	}
}

// IAMTokenManager exchanges a service-account JWT for IAM tokens and caches them.
type IAMTokenManager struct {
	key      *ServiceAccountKey
	endpoint string
	http     *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewIAMTokenManager creates a token manager for key.
func NewIAMTokenManager(key *ServiceAccountKey, endpoint string, opts ...IAMOption) *IAMTokenManager {
	if endpoint == "" {
		endpoint = DefaultIAMEndpoint
	}
	m := &IAMTokenManager{
		key:      key,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authorization returns a bearer header with a valid IAM token.
func (m *IAMTokenManager) Authorization(ctx context.Context) (string, error) {
	token, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Token returns the cached token, exchanging a new one when it is missing or
// expires within five minutes.
func (m *IAMTokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.expiresAt.Sub(m.now()) >= refreshMargin {
		return m.token, nil
	}

	token, expiresAt, err := m.exchange(ctx)
	if err != nil {
		return "", err
	}
	m.token = token
	m.expiresAt = expiresAt
	return token, nil
}

// signedJWT builds the PS256 assertion sent to the IAM endpoint.
func (m *IAMTokenManager) signedJWT() (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"aud": m.endpoint,
		"iss": m.key.ServiceAccountID,
		"sub": m.key.ServiceAccountID,
		"iat": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	token.Header["kid"] = m.key.ID

	return token.SignedString(m.key.signer)
}

func (m *IAMTokenManager) exchange(ctx context.Context) (string, time.Time, error) {
	assertion, err := m.signedJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign jwt: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"jwt": assertion})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to obtain IAM token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read IAM response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", time.Time{}, &APIError{Op: "iam", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		IAMToken  string    `json:"iamToken"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid IAM token response: %w", err)
	}
	if result.IAMToken == "" || result.ExpiresAt.IsZero() {
		return "", time.Time{}, fmt.Errorf("invalid IAM token response: missing fields")
	}

	return result.IAMToken, result.ExpiresAt, nil
}
