package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/relaybot/internal/config"
)

func TestPrompts_Regular(t *testing.T) {
	p := NewPrompts("", "")

	prompt := p.System(false, true)
	assert.Equal(t, RegularPrompt, prompt)
	assert.Contains(t, prompt, "полезный Telegram-бот")
	assert.Contains(t, prompt, "русском языке")
}

func TestPrompts_Business(t *testing.T) {
	p := NewPrompts("Сергей", "Сергея")

	first := p.System(true, false)
	assert.Contains(t, first, "ИИ-ассистент Сергея")
	assert.Contains(t, first, "Сергей прочитает")
	assert.NotContains(t, first, "Продолжай общение")

	continuing := p.System(true, true)
	assert.Contains(t, continuing, "Продолжай общение")
	assert.True(t, len(continuing) > len(first))
}

func TestPrompts_DefaultOwner(t *testing.T) {
	p := NewPrompts("  ", "")

	assert.Contains(t, p.Business(false), "ИИ-ассистент владельца аккаунта")
	assert.Contains(t, p.Business(false), "владелец аккаунта прочитает")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "timeout sentinel", err: fmt.Errorf("wrapped: %w", ErrTimeout), want: KindTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "net timeout", err: timeoutErr{}, want: KindTimeout},
		{name: "rate limited", err: &APIError{StatusCode: 429}, want: KindRateLimit},
		{name: "server error", err: &APIError{StatusCode: 500}, want: KindFailure},
		{name: "other", err: errors.New("boom"), want: KindFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}

	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "rate_limited", KindRateLimit.String())
	assert.Equal(t, "error", KindFailure.String())
}

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{Completion: config.CompletionConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "gpt-5", MaxTokens: 10}}
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, p)

	cfg.Completion.Provider = config.ProviderAnthropic
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	require.IsType(t, &AnthropicClient{}, p)
	assert.Equal(t, DefaultAnthropicModel, p.(*AnthropicClient).model)

	cfg.Completion.Provider = "other"
	_, err = NewProvider(cfg)
	assert.Error(t, err)
}
