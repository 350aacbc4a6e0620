package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ireland-samantha/relaybot/internal/storage"
)

const (
	// DefaultEndpoint is the NeuroAPI chat completions endpoint.
	DefaultEndpoint = "https://neuroapi.host/v1/chat/completions"
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "gpt-5"

	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	http           *http.Client
	endpoint       string
	apiKey         string
	model          string
	temperature    float64
	maxTokens      int
	maxRetries     int
	initialBackoff time.Duration
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.http = c }
}

// WithModel sets the requested model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIClient) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(o *OpenAIClient) { o.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) OpenAIOption {
	return func(o *OpenAIClient) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithMaxRetries sets how many times retryable failures are retried.
func WithMaxRetries(n int) OpenAIOption {
	return func(o *OpenAIClient) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the first retry delay. Later delays grow exponentially.
func WithRetryBackoff(d time.Duration) OpenAIOption {
	return func(o *OpenAIClient) {
		if d > 0 {
			o.initialBackoff = d
		}
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(o *OpenAIClient) {
		if d > 0 {
			o.http.Timeout = d
		}
	}
}

// NewOpenAIClient creates a client for endpoint authenticated with apiKey.
func NewOpenAIClient(endpoint, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &OpenAIClient{
		http:           &http.Client{Timeout: 30 * time.Second},
		endpoint:       endpoint,
		apiKey:         apiKey,
		model:          DefaultModel,
		temperature:    0.7,
		maxTokens:      5000,
		maxRetries:     3,
		initialBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the turns and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, turns []storage.Turn) (string, error) {
	messages := make([]chatMessage, len(turns))
	for i, t := range turns {
		messages[i] = chatMessage{Role: string(t.Role), Content: t.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff

	reply, err := backoff.Retry(ctx,
		func() (string, error) { return c.attempt(ctx, body) },
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		return "", wrapTransportError(err)
	}
	return reply, nil
}

// attempt performs one HTTP round trip. Errors that must not be retried are
// wrapped with backoff.Permanent.
func (c *OpenAIClient) attempt(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || Classify(err) == KindTimeout {
			return "", backoff.Permanent(wrapTransportError(err))
		}
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       truncateBody(raw),
		}
		if retryableStatus(resp.StatusCode) {
			return "", apiErr
		}
		return "", backoff.Permanent(apiErr)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncateBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// IsAPIError reports whether err carries an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
