package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// Metrics receives store activity. A nil Metrics disables reporting.
type Metrics interface {
	MessageAppended()
	MessagesEvicted(count int)
	StoreFailed(operation string)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Repository Repository
	Capacity   int
	Clock      func() time.Time
	Logger     *zap.Logger
	Metrics    Metrics
}

// Store is the single writer of the message log. Appends hold the write lock for the
// whole id-assignment, insert and eviction sequence; reads share the read lock.
type Store struct {
	mu         sync.RWMutex
	repository Repository
	capacity   int
	clock      func() time.Time
	logger     *zap.Logger
	metrics    Metrics
}

// NewStore validates cfg and returns a ready Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Repository == nil {
		return nil, newUnavailableError(opStoreNew, "missing_repository", errMissingRepository)
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, newValidationError(opStoreNew, "invalid_capacity",
			fmt.Errorf("%w: %d", errInvalidCapacity, capacity))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		repository: cfg.Repository,
		capacity:   capacity,
		clock:      clock,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Capacity returns the retention ceiling.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append validates the input, stamps the message with the store clock and persists it.
// Eviction of messages beyond the retention ceiling commits with the append.
func (s *Store) Append(ctx context.Context, text, author string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, err := newDraft(text, author, s.clock())
	if err != nil {
		return Message{}, err
	}

	stored, evicted, err := s.repository.Append(ctx, draft, s.capacity)
	if err != nil {
		s.logError(opAppend, "persist_failed", err, zap.String("author", draft.Author))
		s.reportFailure(opAppend)
		return Message{}, newUnavailableError(opAppend, "persist_failed", err)
	}

	if s.metrics != nil {
		s.metrics.MessageAppended()
		if evicted > 0 {
			s.metrics.MessagesEvicted(evicted)
		}
	}
	if evicted > 0 {
		s.logger.Debug("chat messages evicted",
			zap.Int("evicted", evicted),
			zap.Int("capacity", s.capacity),
			zap.Int64("message_id", stored.ID))
	}
	return stored, nil
}

// ReadTail returns the newest min(limit, len(log)) messages, oldest first. An empty
// log yields an empty slice.
func (s *Store) ReadTail(ctx context.Context, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []Message{}, nil
	}
	messages, err := s.repository.Tail(ctx, limit)
	if err != nil {
		s.logError(opReadTail, "query_failed", err, zap.Int("limit", limit))
		s.reportFailure(opReadTail)
		return nil, newUnavailableError(opReadTail, "query_failed", err)
	}
	return messages, nil
}

// Len returns the number of persisted messages.
func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, err := s.repository.Count(ctx)
	if err != nil {
		s.logError(opReadTail, "count_failed", err)
		return 0, newUnavailableError(opReadTail, "count_failed", err)
	}
	return count, nil
}

// EnforceRetention trims a log that exceeds the ceiling, e.g. after the ceiling was
// lowered between runs.
func (s *Store) EnforceRetention(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted, err := s.repository.Trim(ctx, s.capacity)
	if err != nil {
		s.logError(opEnforce, "trim_failed", err)
		s.reportFailure(opEnforce)
		return 0, newUnavailableError(opEnforce, "trim_failed", err)
	}
	if evicted > 0 {
		if s.metrics != nil {
			s.metrics.MessagesEvicted(evicted)
		}
		s.logger.Info("chat retention enforced", zap.Int("evicted", evicted), zap.Int("capacity", s.capacity))
	}
	return evicted, nil
}

// Import loads messages from another log, keeping their ids and time labels.
func (s *Store) Import(ctx context.Context, messages []Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, message := range messages {
		if message.ID <= 0 {
			return 0, newValidationError(opImport, "invalid_id", fmt.Errorf("message id %d", message.ID))
		}
	}
	imported, err := s.repository.Import(ctx, messages, s.capacity)
	if err != nil {
		s.logError(opImport, "persist_failed", err)
		s.reportFailure(opImport)
		return 0, newUnavailableError(opImport, "persist_failed", err)
	}
	return imported, nil
}

func (s *Store) reportFailure(operation string) {
	if s.metrics != nil {
		s.metrics.StoreFailed(operation)
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat store error", attrs...)
}
