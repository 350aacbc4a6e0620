package speech

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/ireland-samantha/relaybot/internal/config"
)

// ErrNoCredentials is returned when no SpeechKit credential is configured.
var ErrNoCredentials = errors.New("speech: no credentials configured")

// Authorizer produces the Authorization header for SpeechKit requests.
type Authorizer interface {
	Authorization(ctx context.Context) (string, error)
}

// APIKeyAuth authenticates with a static API key.
type APIKeyAuth string

func (k APIKeyAuth) Authorization(context.Context) (string, error) {
	return "Api-Key " + string(k), nil
}

// StaticIAMToken authenticates with a pre-issued IAM token.
type StaticIAMToken string

func (t StaticIAMToken) Authorization(context.Context) (string, error) {
	return "Bearer " + string(t), nil
}

// NewAuthorizer picks a credential by priority: API key, IAM token, then
// service-account key. httpClient is used for token exchange and may be nil.
func NewAuthorizer(cfg config.YandexConfig, httpClient *http.Client) (Authorizer, error) {
	switch {
	case cfg.APIKey != "":
		return APIKeyAuth(cfg.APIKey), nil
	case cfg.IAMToken != "":
		return StaticIAMToken(cfg.IAMToken), nil
	case cfg.SAKeyJSON != "" || cfg.SAKeyFile != "":
		raw := []byte(cfg.SAKeyJSON)
		if len(raw) == 0 {
			data, err := os.ReadFile(cfg.SAKeyFile)
			if err != nil {
				return nil, err
			}
			raw = data
		}
		key, err := ParseServiceAccountKey(raw)
		if err != nil {
			return nil, err
		}
		return NewIAMTokenManager(key, cfg.IAMEndpoint, WithTokenHTTPClient(httpClient)), nil
	default:
		return nil, ErrNoCredentials
	}
}
