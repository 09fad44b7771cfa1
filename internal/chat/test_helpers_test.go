package chat

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type repositoryFactory struct {
	name  string
	build func(t *testing.T) Repository
}

func repositoryFactories() []repositoryFactory {
	return []repositoryFactory{
		{name: "sqlite", build: newTestGormRepository},
		{name: "file", build: newTestFileRepository},
	}
}

func newTestGormRepository(t *testing.T) Repository {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "chat.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	repository, err := NewGormRepository(db)
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	return repository
}

func newTestFileRepository(t *testing.T) Repository {
	t.Helper()
	repository, err := NewFileRepository(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	return repository
}

func newTestStore(t *testing.T, repository Repository) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Repository: repository,
		Capacity:   DefaultCapacity,
		Clock:      newSteppingClock(time.Date(2026, 10, 15, 9, 30, 0, 0, time.Local), time.Second),
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

// newSteppingClock returns a clock advancing by step on every call.
func newSteppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(step)
		return now
	}
}

func mustAppend(t *testing.T, store *Store, text, author string) Message {
	t.Helper()
	message, err := store.Append(context.Background(), text, author)
	if err != nil {
		t.Fatalf("append %q failed: %v", text, err)
	}
	return message
}

func mustReadTail(t *testing.T, store *Store, limit int) []Message {
	t.Helper()
	messages, err := store.ReadTail(context.Background(), limit)
	if err != nil {
		t.Fatalf("read tail failed: %v", err)
	}
	return messages
}

func mustLen(t *testing.T, store *Store) int {
	t.Helper()
	count, err := store.Len(context.Background())
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	return count
}
