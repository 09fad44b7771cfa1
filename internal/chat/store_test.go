package chat

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"testing"
	"time"
)

var timeLabelPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

type failingRepository struct {
	err error
}

func (r failingRepository) Append(context.Context, Message, int) (Message, int, error) {
	return Message{}, 0, r.err
}

func (r failingRepository) Tail(context.Context, int) ([]Message, error) {
	return nil, r.err
}

func (r failingRepository) Count(context.Context) (int, error) {
	return 0, r.err
}

func (r failingRepository) Trim(context.Context, int) (int, error) {
	return 0, r.err
}

func (r failingRepository) Import(context.Context, []Message, int) (int, error) {
	return 0, r.err
}

type recordingMetrics struct {
	mu       sync.Mutex
	appended int
	evicted  int
	failures []string
}

func (m *recordingMetrics) MessageAppended() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended++
}

func (m *recordingMetrics) MessagesEvicted(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted += count
}

func (m *recordingMetrics) StoreFailed(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, operation)
}

func TestAppendAssignsIncreasingIDsInReadOrder(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))

			var ids []int64
			for index := 0; index < 5; index++ {
				message := mustAppend(t, store, fmt.Sprintf("message-%d", index), "u1")
				ids = append(ids, message.ID)
			}
			for index := 1; index < len(ids); index++ {
				if ids[index] <= ids[index-1] {
					t.Fatalf("expected strictly increasing ids, got %v", ids)
				}
			}

			tail := mustReadTail(t, store, DefaultTailSize)
			if len(tail) != len(ids) {
				t.Fatalf("expected %d messages, got %d", len(ids), len(tail))
			}
			for index, message := range tail {
				if message.ID != ids[index] {
					t.Fatalf("tail order mismatch at %d: want id %d got %d", index, ids[index], message.ID)
				}
			}
		})
	}
}

func TestAppendStampsTimeLabelFromStoreClock(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))

			message := mustAppend(t, store, "hello", "u1")
			if message.TimeLabel != "09:30" {
				t.Fatalf("expected time label 09:30, got %q", message.TimeLabel)
			}
			if !timeLabelPattern.MatchString(message.TimeLabel) {
				t.Fatalf("time label %q does not match HH:MM", message.TimeLabel)
			}
			if message.CreatedAtSeconds == 0 {
				t.Fatalf("expected created at seconds to be stamped")
			}
		})
	}
}

func TestAppendEvictsOldestBeyondCapacity(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))

			var appended []Message
			for index := 1; index <= DefaultCapacity+7; index++ {
				appended = append(appended, mustAppend(t, store, fmt.Sprintf("message-%d", index), "u1"))
			}

			if count := mustLen(t, store); count != DefaultCapacity {
				t.Fatalf("expected %d persisted messages, got %d", DefaultCapacity, count)
			}
			retained := mustReadTail(t, store, DefaultCapacity)
			expected := appended[len(appended)-DefaultCapacity:]
			if !reflect.DeepEqual(retained, expected) {
				t.Fatalf("retained log mismatch:\nwant %#v\ngot  %#v", expected, retained)
			}
		})
	}
}

func TestReadTailBound(t *testing.T) {
	testCases := []struct {
		name      string
		logLength int
		wantFirst int
		wantLen   int
	}{
		{name: "longer-than-tail", logLength: 15, wantFirst: 6, wantLen: 10},
		{name: "shorter-than-tail", logLength: 3, wantFirst: 1, wantLen: 3},
		{name: "empty", logLength: 0, wantFirst: 0, wantLen: 0},
	}

	for _, factory := range repositoryFactories() {
		for _, testCase := range testCases {
			t.Run(factory.name+"/"+testCase.name, func(t *testing.T) {
				store := newTestStore(t, factory.build(t))
				for index := 1; index <= testCase.logLength; index++ {
					mustAppend(t, store, fmt.Sprintf("message-%d", index), "u1")
				}

				tail := mustReadTail(t, store, DefaultTailSize)
				if tail == nil {
					t.Fatalf("expected empty slice, got nil")
				}
				if len(tail) != testCase.wantLen {
					t.Fatalf("expected %d messages, got %d", testCase.wantLen, len(tail))
				}
				for offset, message := range tail {
					want := fmt.Sprintf("message-%d", testCase.wantFirst+offset)
					if message.Text != want {
						t.Fatalf("expected %q at %d, got %q", want, offset, message.Text)
					}
				}
			})
		}
	}
}

func TestReadTailIsIdempotent(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))
			mustAppend(t, store, "first", "u1")
			mustAppend(t, store, "second", "u2")

			first := mustReadTail(t, store, DefaultTailSize)
			second := mustReadTail(t, store, DefaultTailSize)
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("expected identical reads:\n%#v\n%#v", first, second)
			}
		})
	}
}

func TestAppendValidation(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		author   string
		wantCode string
	}{
		{name: "empty-text", text: "", author: "u1", wantCode: "chat.append.missing_text"},
		{name: "blank-text", text: "   ", author: "u1", wantCode: "chat.append.missing_text"},
		{name: "empty-author", text: "hi", author: "", wantCode: "chat.append.missing_author"},
		{name: "invalid-utf8", text: string([]byte{0xff, 0xfe}), author: "u1", wantCode: "chat.append.invalid_text"},
	}

	for _, factory := range repositoryFactories() {
		for _, testCase := range testCases {
			t.Run(factory.name+"/"+testCase.name, func(t *testing.T) {
				store := newTestStore(t, factory.build(t))

				_, err := store.Append(context.Background(), testCase.text, testCase.author)
				if !IsValidationError(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if IsStoreUnavailable(err) {
					t.Fatalf("validation error must not be classified as unavailable")
				}
				if code := ErrorCode(err); code != testCase.wantCode {
					t.Fatalf("expected code %q, got %q", testCase.wantCode, code)
				}
				if count := mustLen(t, store); count != 0 {
					t.Fatalf("expected log to stay empty, got %d messages", count)
				}
			})
		}
	}
}

func TestAppendTrimsAuthor(t *testing.T) {
	store := newTestStore(t, newTestFileRepository(t))
	message := mustAppend(t, store, " keep spacing ", "  u1 ")
	if message.Author != "u1" {
		t.Fatalf("expected trimmed author, got %q", message.Author)
	}
	if message.Text != " keep spacing " {
		t.Fatalf("expected text to be stored verbatim, got %q", message.Text)
	}
}

func TestStoreUnavailableErrors(t *testing.T) {
	cause := errors.New("disk gone")
	metrics := &recordingMetrics{}
	store, err := NewStore(StoreConfig{Repository: failingRepository{err: cause}, Metrics: metrics})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	if _, err := store.ReadTail(context.Background(), DefaultTailSize); !IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable on read, got %v", err)
	} else if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}

	_, err = store.Append(context.Background(), "hello", "u1")
	if !IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable on append, got %v", err)
	}
	if code := ErrorCode(err); code != "chat.append.persist_failed" {
		t.Fatalf("unexpected code %q", code)
	}
	if len(metrics.failures) != 2 {
		t.Fatalf("expected two reported failures, got %v", metrics.failures)
	}
}

func TestConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))

			const writers = 8
			const perWriter = 5
			var group sync.WaitGroup
			results := make(chan Message, writers*perWriter)
			for writer := 0; writer < writers; writer++ {
				group.Add(1)
				go func(writer int) {
					defer group.Done()
					for index := 0; index < perWriter; index++ {
						message, err := store.Append(context.Background(), fmt.Sprintf("w%d-%d", writer, index), fmt.Sprintf("u%d", writer))
						if err != nil {
							t.Errorf("append failed: %v", err)
							return
						}
						results <- message
					}
				}(writer)
			}
			group.Wait()
			close(results)

			seen := make(map[int64]bool)
			for message := range results {
				if seen[message.ID] {
					t.Fatalf("duplicate id %d", message.ID)
				}
				seen[message.ID] = true
			}
			if len(seen) != writers*perWriter {
				t.Fatalf("expected %d appends, got %d", writers*perWriter, len(seen))
			}
			if count := mustLen(t, store); count != DefaultCapacity {
				t.Fatalf("expected %d persisted messages, got %d", DefaultCapacity, count)
			}
			tail := mustReadTail(t, store, DefaultCapacity)
			if tail[len(tail)-1].ID != int64(writers*perWriter) {
				t.Fatalf("expected newest id %d, got %d", writers*perWriter, tail[len(tail)-1].ID)
			}
		})
	}
}

func TestEnforceRetentionTrimsOversizedLog(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			repository := factory.build(t)
			wide, err := NewStore(StoreConfig{Repository: repository, Capacity: 30})
			if err != nil {
				t.Fatalf("failed to build store: %v", err)
			}
			for index := 0; index < 25; index++ {
				mustAppend(t, wide, fmt.Sprintf("message-%d", index), "u1")
			}

			metrics := &recordingMetrics{}
			narrow, err := NewStore(StoreConfig{Repository: repository, Capacity: DefaultCapacity, Metrics: metrics})
			if err != nil {
				t.Fatalf("failed to build store: %v", err)
			}
			evicted, err := narrow.EnforceRetention(context.Background())
			if err != nil {
				t.Fatalf("enforce retention failed: %v", err)
			}
			if evicted != 5 {
				t.Fatalf("expected 5 evicted messages, got %d", evicted)
			}
			if metrics.evicted != 5 {
				t.Fatalf("expected metrics to record 5 evictions, got %d", metrics.evicted)
			}
			if count := mustLen(t, narrow); count != DefaultCapacity {
				t.Fatalf("expected %d messages, got %d", DefaultCapacity, count)
			}
		})
	}
}

func TestNewStoreRejectsInvalidConfig(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatalf("expected missing repository error")
	}
	if _, err := NewStore(StoreConfig{Repository: failingRepository{}, Capacity: -1}); !IsValidationError(err) {
		t.Fatalf("expected invalid capacity error, got %v", err)
	}
}

func TestAppendReportsMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	store, err := NewStore(StoreConfig{
		Repository: newTestFileRepository(t),
		Capacity:   2,
		Clock:      func() time.Time { return time.Date(2026, 1, 1, 23, 59, 0, 0, time.Local) },
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	for index := 0; index < 3; index++ {
		mustAppend(t, store, "tick", "bot")
	}
	if metrics.appended != 3 || metrics.evicted != 1 {
		t.Fatalf("unexpected metrics: appended=%d evicted=%d", metrics.appended, metrics.evicted)
	}
}

func TestReadTailWithNonPositiveLimit(t *testing.T) {
	store := newTestStore(t, newTestGormRepository(t))
	mustAppend(t, store, "hello", "u1")
	if tail := mustReadTail(t, store, 0); len(tail) != 0 {
		t.Fatalf("expected no messages for zero limit, got %d", len(tail))
	}
}

func TestScenarioTwentyFiveWrites(t *testing.T) {
	for _, factory := range repositoryFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := newTestStore(t, factory.build(t))

			if tail := mustReadTail(t, store, DefaultTailSize); len(tail) != 0 {
				t.Fatalf("expected empty store, got %d messages", len(tail))
			}
			mustAppend(t, store, "hello", "u1")
			tail := mustReadTail(t, store, DefaultTailSize)
			if len(tail) != 1 || tail[0].Text != "hello" || tail[0].Author != "u1" {
				t.Fatalf("unexpected first read: %#v", tail)
			}
			if !timeLabelPattern.MatchString(tail[0].TimeLabel) {
				t.Fatalf("time label %q does not match HH:MM", tail[0].TimeLabel)
			}

			for index := 2; index <= 25; index++ {
				mustAppend(t, store, fmt.Sprintf("message-%d", index), "u1")
			}
			if count := mustLen(t, store); count != DefaultCapacity {
				t.Fatalf("expected %d persisted, got %d", DefaultCapacity, count)
			}
			tail = mustReadTail(t, store, DefaultTailSize)
			if len(tail) != DefaultTailSize {
				t.Fatalf("expected %d messages, got %d", DefaultTailSize, len(tail))
			}
			for offset, message := range tail {
				want := fmt.Sprintf("message-%d", 16+offset)
				if message.Text != want {
					t.Fatalf("expected %q at %d, got %q", want, offset, message.Text)
				}
			}
		})
	}
}
