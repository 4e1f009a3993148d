// Package transcript keeps the per-user chat transcripts. The Store holds
// the authoritative copy in memory and writes every change through to a
// durable Backend; a backend failure degrades durability but never the
// in-memory view.
package transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/metrics"
)

// Backend persists transcripts. Append must be durable when it returns nil.
type Backend interface {
	Name() string
	Load(ctx context.Context) (map[string][]chat.Message, error)
	Ensure(ctx context.Context, key string) error
	Append(ctx context.Context, key string, msg chat.Message) error
	Close() error
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	transcripts map[string][]chat.Message
	backend     Backend
	logger      zerolog.Logger
}

// NewStore loads the backend's state and returns a store serving it. A nil
// backend gives a memory-only store.
func NewStore(ctx context.Context, backend Backend, logger zerolog.Logger) (*Store, error) {
	if backend == nil {
		backend = memoryBackend{}
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = make(map[string][]chat.Message)
	}

	s := &Store{
		transcripts: loaded,
		backend:     backend,
		logger:      logger.With().Str("component", "transcript").Str("driver", backend.Name()).Logger(),
	}
	s.logger.Info().Int("transcripts", len(loaded)).Msg("transcripts loaded")
	return s, nil
}

// Append adds msg to the end of key's transcript. Persistence errors are
// logged and otherwise swallowed.
func (s *Store) Append(ctx context.Context, key string, msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts[key] = append(s.transcripts[key], msg)

	start := time.Now()
	err := s.backend.Append(ctx, key, msg)
	metrics.PersistLatency.WithLabelValues(s.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistFailures.WithLabelValues(s.backend.Name()).Inc()
		s.logger.Error().Err(err).Str("key", key).Msg("failed to persist message")
	}
}

// Ensure creates an empty transcript for key if it has none.
func (s *Store) Ensure(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transcripts[key]; ok {
		return
	}
	s.transcripts[key] = []chat.Message{}

	if err := s.backend.Ensure(ctx, key); err != nil {
		metrics.PersistFailures.WithLabelValues(s.backend.Name()).Inc()
		s.logger.Error().Err(err).Str("key", key).Msg("failed to persist transcript")
	}
}

// All returns a copy of key's transcript, empty when key is unknown.
func (s *Store) All(_ context.Context, key string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.transcripts[key]
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}

// Keys returns every user id with a transcript, sorted.
func (s *Store) Keys(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.transcripts))
	for key := range s.transcripts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

type memoryBackend struct{}

func (memoryBackend) Name() string { return DriverMemory }

func (memoryBackend) Load(context.Context) (map[string][]chat.Message, error) {
	return make(map[string][]chat.Message), nil
}

func (memoryBackend) Ensure(context.Context, string) error { return nil }

func (memoryBackend) Append(context.Context, string, chat.Message) error { return nil }

func (memoryBackend) Close() error { return nil }
