package speech

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/relaybot/internal/config"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func testKeyJSON(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	raw, err := json.Marshal(map[string]string{
		"id":                 "key-id",
		"service_account_id": "sa-id",
		"private_key":        "PLEASE DO NOT REMOVE THIS LINE! Yandex.Cloud SA Key ID <key-id>\n" + string(pemBytes),
	})
	require.NoError(t, err)
	return raw
}

func TestParseServiceAccountKey(t *testing.T) {
	key, err := ParseServiceAccountKey(testKeyJSON(t, generateKey(t)))
	require.NoError(t, err)
	assert.Equal(t, "key-id", key.ID)
	assert.Equal(t, "sa-id", key.ServiceAccountID)

	_, err = ParseServiceAccountKey([]byte(`{"id":"x","service_account_id":"y"}`))
	assert.ErrorContains(t, err, "private_key")

	_, err = ParseServiceAccountKey([]byte(`{"id":"x","service_account_id":"y","private_key":"garbage"}`))
	assert.Error(t, err)

	_, err = ParseServiceAccountKey([]byte(`not json`))
	assert.Error(t, err)
}

type iamServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newIAMServer(t *testing.T, pub *rsa.PublicKey, expiresAt func(n int32) time.Time) *iamServer {
	s := &iamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.calls.Add(1)

		var req struct {
			JWT string `json:"jwt"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token, err := jwt.Parse(req.JWT, func(tok *jwt.Token) (any, error) {
			return pub, nil
		}, jwt.WithValidMethods([]string{"PS256"}), jwt.WithoutClaimsValidation())
		if assert.NoError(t, err) {
			claims := token.Claims.(jwt.MapClaims)
			assert.Equal(t, "key-id", token.Header["kid"])
			assert.Equal(t, s.URL, claims["aud"])
			assert.Equal(t, "sa-id", claims["iss"])
			assert.Equal(t, "sa-id", claims["sub"])
			assert.EqualValues(t, 3600, claims["exp"].(float64)-claims["iat"].(float64))
		}

		_ = json.NewEncoder(w).Encode(map[string]string{
			"iamToken":  fmt.Sprintf("t1.token-%d", n),
			"expiresAt": expiresAt(n).Format(time.RFC3339Nano),
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func TestIAMTokenManager_CachesAndRefreshes(t *testing.T) {
	priv := generateKey(t)
	key, err := ParseServiceAccountKey(testKeyJSON(t, priv))
	require.NoError(t, err)

	base := time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }
	srv := newIAMServer(t, &priv.PublicKey, func(n int32) time.Time {
		return base.Add(time.Duration(n) * time.Hour)
	})

	m := NewIAMTokenManager(key, srv.URL, WithClock(clock))
	ctx := context.Background()

	header, err := m.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer t1.token-1", header)

	now = now.Add(50 * time.Minute)
	token, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1.token-1", token)
	assert.EqualValues(t, 1, srv.calls.Load())

	// Less than five minutes left.
	now = now.Add(6 * time.Minute)
	token, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1.token-2", token)
	assert.EqualValues(t, 2, srv.calls.Load())
}

func TestIAMTokenManager_Errors(t *testing.T) {
	priv := generateKey(t)
	key, err := ParseServiceAccountKey(testKeyJSON(t, priv))
	require.NoError(t, err)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("denied"))
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "iam", apiErr.Op)
				assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
			},
		},
		{
			name: "missing fields",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"iamToken":"x"}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "missing fields")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewIAMTokenManager(key, srv.URL).Token(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNewAuthorizer_KeyFile(t *testing.T) {
	priv := generateKey(t)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, testKeyJSON(t, priv), 0o600))

	srv := newIAMServer(t, &priv.PublicKey, func(int32) time.Time { return time.Now().Add(time.Hour) })

	auth, err := NewAuthorizer(config.YandexConfig{SAKeyFile: path, IAMEndpoint: srv.URL}, srv.Client())
	require.NoError(t, err)

	header, err := auth.Authorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t1.token-1", header)
}
