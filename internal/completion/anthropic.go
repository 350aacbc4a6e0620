package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ireland-samantha/relaybot/internal/storage"
)

const (
	// DefaultAnthropicModel is used when the Anthropic provider has no model configured.
	DefaultAnthropicModel = "claude-sonnet-4-5"
	// DefaultAnthropicMaxTokens is the reply cap when none is configured.
	DefaultAnthropicMaxTokens = 4096
)

// AnthropicClient wraps the Anthropic SDK client.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicClient creates a new Anthropic Messages API client.
func NewAnthropicClient(apiKey, model string, maxTokens int, temperature float64, opts ...option.RequestOption) *AnthropicClient {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends the turns to the Messages API. System turns become the
// system prompt.
func (c *AnthropicClient) Complete(ctx context.Context, turns []storage.Turn) (string, error) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case storage.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: t.Content})
		case storage.RoleUser:
			messages = append(messages, BuildUserMessage(t.Content))
		case storage.RoleAssistant:
			messages = append(messages, BuildAssistantMessage(t.Content))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    messages,
		System:      system,
		Temperature: anthropic.Float(c.temperature),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &APIError{
				Provider:   c.Name(),
				StatusCode: apiErr.StatusCode,
				Body:       truncateBody([]byte(apiErr.Error())),
			}
		}
		return "", wrapTransportError(err)
	}

	return strings.TrimSpace(ExtractTextContent(msg)), nil
}

// BuildUserMessage creates a user message param.
func BuildUserMessage(content string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(content),
		},
	}
}

// BuildAssistantMessage creates an assistant message param.
func BuildAssistantMessage(content string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.MessageParamRoleAssistant,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(content),
		},
	}
}

// ExtractTextContent concatenates the text blocks of a message.
func ExtractTextContent(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
