package completion

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ireland-samantha/relaybot/internal/config"
)

// NewProvider creates the completion backend selected by configuration.
func NewProvider(cfg *config.Config) (Provider, error) {
	c := cfg.Completion
	switch c.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(c.Endpoint, c.APIKey,
			WithModel(c.Model),
			WithTemperature(c.Temperature),
			WithMaxTokens(c.MaxTokens),
			WithMaxRetries(c.MaxRetries),
			WithTimeout(c.Timeout),
		), nil
	case config.ProviderAnthropic:
		model := c.Model
		if model == DefaultModel {
			model = DefaultAnthropicModel
		}
		var opts []option.RequestOption
		if c.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(c.Timeout))
		}
		return NewAnthropicClient(c.APIKey, model, c.MaxTokens, c.Temperature, opts...), nil
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", c.Provider)
	}
}
