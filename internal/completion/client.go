// Package completion provides chat completion API clients.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ireland-samantha/relaybot/internal/storage"
)

// Provider produces an assistant reply for a role-tagged turn sequence.
type Provider interface {
	// Name identifies the backend in logs.
	Name() string

	// Complete sends turns (system first, then alternating history, then the
	// new user turn) and returns the reply text. An empty reply is not an error.
	Complete(ctx context.Context, turns []storage.Turn) (string, error)
}

var (
	// ErrTimeout marks a request that did not finish in time.
	ErrTimeout = errors.New("completion request timed out")
	// ErrRateLimited marks a request rejected with HTTP 429.
	ErrRateLimited = errors.New("completion request rate limited")
)

// APIError is a non-success response from a completion API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Is lets errors.Is match ErrRateLimited for 429 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// Kind classifies a completion failure.
type Kind int

const (
	KindFailure Kind = iota
	KindTimeout
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limited"
	default:
		return "error"
	}
}

// Classify maps an error returned by a Provider to its Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return KindTimeout
		}
		return KindFailure
	}
}

// wrapTransportError marks timeouts with ErrTimeout.
func wrapTransportError(err error) error {
	if Classify(err) == KindTimeout && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
