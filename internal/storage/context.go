package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// DefaultMaxTurns is the storage cap per conversation (10 user/assistant pairs).
const DefaultMaxTurns = 20

// Option configures a ContextStore.
type Option func(*ContextStore)

// WithMaxTurns sets the per-conversation storage cap in turns.
func WithMaxTurns(n int) Option {
	return func(s *ContextStore) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithTracking enables or disables recording of exchanges.
func WithTracking(enabled bool) Option {
	return func(s *ContextStore) {
		s.enabled = enabled
	}
}

// WithLogger sets the logger used for persistence warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ContextStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// ContextStore holds bounded per-conversation history and mirrors it to a Sink.
type ContextStore struct {
	mu       sync.RWMutex
	contexts map[ConversationKey][]Turn

	// saveMu orders snapshot writes so an older snapshot never lands last.
	saveMu sync.Mutex
	sink   Sink

	locks    *keyLocks
	enabled  bool
	maxTurns int
	logger   *slog.Logger
}

// NewContextStore creates a store and hydrates it from sink. A missing or
// unreadable snapshot leaves the store empty.
func NewContextStore(ctx context.Context, sink Sink, opts ...Option) *ContextStore {
	s := &ContextStore{
		contexts: make(map[ConversationKey][]Turn),
		sink:     sink,
		locks:    newKeyLocks(),
		enabled:  true,
		maxTurns: DefaultMaxTurns,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Load(ctx)
	return s
}

// Enabled reports whether exchanges are being recorded.
func (s *ContextStore) Enabled() bool {
	return s.enabled
}

// MaxTurns returns the per-conversation storage cap.
func (s *ContextStore) MaxTurns() int {
	return s.maxTurns
}

// Lock serializes work on one conversation. Callers hold it around
// RecentWindow, the completion call and RecordExchange.
func (s *ContextStore) Lock(ctx context.Context, key ConversationKey) (func(), error) {
	return s.locks.acquire(ctx, key)
}

// RecentWindow returns a copy of the last min(2*maxPairs, len) turns for key.
func (s *ContextStore) RecentWindow(key ConversationKey, maxPairs int) []Turn {
	if maxPairs <= 0 {
		return []Turn{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.contexts[key]
	n := 2 * maxPairs
	if n > len(turns) {
		n = len(turns)
	}
	window := make([]Turn, n)
	copy(window, turns[len(turns)-n:])
	return window
}

// RecordExchange appends a user/assistant pair, trims the oldest pairs past the
// cap and persists a full snapshot. A failed write is logged, never returned.
func (s *ContextStore) RecordExchange(ctx context.Context, key ConversationKey, userText, assistantText string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	turns := append(s.contexts[key],
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	s.contexts[key] = trimPairs(turns, s.maxTurns)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.Warn("failed to persist conversation contexts", "key", key.String(), "error", err)
	}
}

// Forget removes the history of one conversation.
func (s *ContextStore) Forget(ctx context.Context, key ConversationKey) {
	s.mu.Lock()
	_, ok := s.contexts[key]
	delete(s.contexts, key)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.persist(ctx); err != nil {
		s.logger.Warn("failed to persist conversation contexts", "key", key.String(), "error", err)
	}
}

// Keys returns all stored keys ordered by their string form.
func (s *ContextStore) Keys() []ConversationKey {
	s.mu.RLock()
	keys := make([]ConversationKey, 0, len(s.contexts))
	for k := range s.contexts {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of stored conversations.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// Load replaces the store contents with the sink's snapshot. On any failure the
// store is left empty and the problem is logged.
func (s *ContextStore) Load(ctx context.Context) {
	err := s.load(ctx)
	switch {
	case err == nil:
		s.logger.Info("loaded conversation contexts", "conversations", s.Len())
	case errors.Is(err, ErrSnapshotNotFound):
		s.logger.Info("no conversation snapshot found, starting empty")
	default:
		s.logger.Warn("failed to load conversation contexts, starting empty", "error", err)
	}
}

// Save writes the whole store to the sink, logging on failure.
func (s *ContextStore) Save(ctx context.Context) {
	if err := s.persist(ctx); err != nil {
		s.logger.Warn("failed to save conversation contexts", "error", err)
	}
}

// load reads and decodes the snapshot. The store is reset before any error is returned.
func (s *ContextStore) load(ctx context.Context) error {
	s.mu.Lock()
	s.contexts = make(map[ConversationKey][]Turn)
	s.mu.Unlock()

	if s.sink == nil {
		return ErrSnapshotNotFound
	}

	data, err := s.sink.Read(ctx)
	if err != nil {
		return err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	contexts := make(map[ConversationKey][]Turn, len(snap))
	for raw, turns := range snap {
		key, err := ParseKey(raw)
		if err != nil {
			s.logger.Warn("skipping snapshot entry", "key", raw, "error", err)
			continue
		}
		turns = trimPairs(normalize(turns), s.maxTurns)
		if len(turns) == 0 {
			continue
		}
		contexts[key] = turns
	}

	s.mu.Lock()
	s.contexts = contexts
	s.mu.Unlock()
	return nil
}

// persist encodes the current contents and hands them to the sink.
func (s *ContextStore) persist(ctx context.Context) error {
	if s.sink == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snap := make(Snapshot, len(s.contexts))
	for k, turns := range s.contexts {
		snap[k.String()] = turns
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.sink.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// trimPairs drops whole pairs from the front until len(turns) <= maxTurns.
func trimPairs(turns []Turn, maxTurns int) []Turn {
	drop := 0
	for len(turns)-drop > maxTurns {
		drop += 2
	}
	if drop == 0 {
		return turns
	}
	if drop > len(turns) {
		drop = len(turns)
	}
	kept := make([]Turn, len(turns)-drop)
	copy(kept, turns[drop:])
	return kept
}

// normalize restores alternating user/assistant pairs in a loaded context.
// Turns that do not fit the pattern are dropped.
func normalize(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		want := RoleUser
		if len(out)%2 == 1 {
			want = RoleAssistant
		}
		if t.Role == want {
			out = append(out, t)
		}
	}
	if len(out)%2 == 1 {
		out = out[:len(out)-1]
	}
	return out
}
