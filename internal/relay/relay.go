// Package relay composes completion requests from conversation history and
// records the resulting exchanges.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ireland-samantha/relaybot/internal/completion"
	"github.com/ireland-samantha/relaybot/internal/metrics"
	"github.com/ireland-samantha/relaybot/internal/storage"
)

// Inbound is a user message as seen by the relay.
type Inbound struct {
	ChatID               int64
	IsBusiness           bool
	BusinessConnectionID string
	Text                 string
}

// Options tunes a Service.
type Options struct {
	// WindowPairs is how many recent pairs accompany each request.
	WindowPairs int
	// MaxInputChars truncates longer messages.
	MaxInputChars int
	// EmptyRetries is how many extra attempts are made after an empty reply.
	EmptyRetries int
}

// Service relays user messages to a completion provider.
type Service struct {
	store     *storage.ContextStore
	provider  completion.Provider
	prompts   completion.Prompts
	fallbacks Fallbacks
	opts      Options
	logger    *slog.Logger
}

// NewService creates a relay service.
func NewService(
	store *storage.ContextStore,
	provider completion.Provider,
	prompts completion.Prompts,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 4000
	}
	if opts.EmptyRetries < 0 {
		opts.EmptyRetries = 0
	}
	return &Service{
		store:     store,
		provider:  provider,
		prompts:   prompts,
		fallbacks: NewFallbacks(prompts),
		opts:      opts,
		logger:    logger,
	}
}

// Reply returns the text to send back for msg. Completion failures become
// fallback replies; only a malformed message yields an error.
func (s *Service) Reply(ctx context.Context, msg Inbound) (string, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return EmptyInputReply, nil
	}

	key, err := storage.DeriveKey(msg.ChatID, msg.IsBusiness, msg.BusinessConnectionID)
	if err != nil {
		return "", err
	}

	logger := s.logger.With("chat_id", msg.ChatID, "persona", persona(msg.IsBusiness))

	text := msg.Text
	if runes := []rune(text); len(runes) > s.opts.MaxInputChars {
		text = string(runes[:s.opts.MaxInputChars])
		logger.Warn("message truncated", "limit", s.opts.MaxInputChars, "length", len(runes))
	}

	unlock, err := s.store.Lock(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to lock conversation: %w", err)
	}
	defer unlock()

	history := s.store.RecentWindow(key, s.opts.WindowPairs)

	turns := make([]storage.Turn, 0, len(history)+2)
	turns = append(turns, storage.Turn{
		Role:    storage.RoleSystem,
		Content: s.prompts.System(msg.IsBusiness, len(history) > 0),
	})
	turns = append(turns, history...)
	turns = append(turns, storage.Turn{Role: storage.RoleUser, Content: text})

	logger.Info("requesting completion", "provider", s.provider.Name(), "history_turns", len(history))

	reply, err := s.complete(ctx, logger, msg.IsBusiness, turns)
	if err != nil {
		logger.Error("completion failed", "kind", completion.Classify(err).String(), "error", err)
		return s.fallbacks.ForError(msg.IsBusiness, err), nil
	}

	if reply == "" {
		logger.Warn("completion returned empty reply")
		reply = s.fallbacks.Empty(msg.IsBusiness)
	}

	s.store.RecordExchange(ctx, key, text, reply)
	metrics.SetConversations(s.store.Len())

	return reply, nil
}

// complete calls the provider, retrying empty replies.
func (s *Service) complete(ctx context.Context, logger *slog.Logger, business bool, turns []storage.Turn) (string, error) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		reply, err := s.provider.Complete(ctx, turns)
		elapsed := time.Since(start).Seconds()

		if err != nil {
			metrics.RecordCompletion(persona(business), completion.Classify(err).String(), elapsed)
			return "", err
		}

		reply = strings.TrimSpace(reply)
		if reply != "" {
			metrics.RecordCompletion(persona(business), "success", elapsed)
			return reply, nil
		}

		metrics.RecordCompletion(persona(business), "empty", elapsed)
		if attempt >= s.opts.EmptyRetries {
			return "", nil
		}
		logger.Debug("retrying after empty reply", "attempt", attempt+1)
	}
}

// Reset forgets the conversation msg belongs to.
func (s *Service) Reset(ctx context.Context, msg Inbound) error {
	key, err := storage.DeriveKey(msg.ChatID, msg.IsBusiness, msg.BusinessConnectionID)
	if err != nil {
		return err
	}

	unlock, err := s.store.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to lock conversation: %w", err)
	}
	defer unlock()

	s.store.Forget(ctx, key)
	metrics.SetConversations(s.store.Len())
	return nil
}

// ContextEnabled reports whether exchanges are remembered.
func (s *Service) ContextEnabled() bool {
	return s.store.Enabled()
}

// ProviderName returns the completion backend name.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

func persona(business bool) string {
	if business {
		return "business"
	}
	return "regular"
}
