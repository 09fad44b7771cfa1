package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var errMissingFilePath = errors.New("log file path is required")

// fileRecord mirrors the on-disk shape of a legacy chat.db entry.
type fileRecord struct {
	ID               int64  `json:"id"`
	Text             string `json:"text"`
	From             string `json:"from"`
	Time             string `json:"time"`
	CreatedAtSeconds int64  `json:"created_at_s,omitempty"`
}

// FileRepository stores the whole log as one indented JSON array. Every write replaces
// the file through a rename, so readers see either the previous or the next log.
type FileRepository struct {
	path string
	mu   sync.RWMutex
}

// NewFileRepository binds a repository to the log file at path. The file is created
// on first append.
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		return nil, errMissingFilePath
	}
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) Append(ctx context.Context, draft Message, capacity int) (Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages, err := r.load()
	if err != nil {
		return Message{}, 0, err
	}
	stored := draft
	stored.ID = lastID(messages) + 1
	messages = append(messages, stored)
	messages, evicted := keepNewest(messages, capacity)
	if err := ctx.Err(); err != nil {
		return Message{}, 0, err
	}
	if err := r.save(messages); err != nil {
		return Message{}, 0, err
	}
	return stored, evicted, nil
}

func (r *FileRepository) Tail(_ context.Context, limit int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages, err := r.load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Message{}, nil
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append(make([]Message, 0, len(messages)), messages...), nil
}

func (r *FileRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages, err := r.load()
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

func (r *FileRepository) Trim(_ context.Context, capacity int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages, err := r.load()
	if err != nil {
		return 0, err
	}
	messages, evicted := keepNewest(messages, capacity)
	if evicted == 0 {
		return 0, nil
	}
	return evicted, r.save(messages)
}

func (r *FileRepository) Import(_ context.Context, incoming []Message, capacity int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages, err := r.load()
	if err != nil {
		return 0, err
	}
	sorted := append([]Message(nil), incoming...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	imported := 0
	for _, message := range sorted {
		if message.ID <= lastID(messages) {
			continue
		}
		messages = append(messages, message)
		imported++
	}
	messages, _ = keepNewest(messages, capacity)
	if err := r.save(messages); err != nil {
		return 0, err
	}
	return imported, nil
}

// Load returns the full persisted log in file order.
func (r *FileRepository) Load() ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load()
}

func (r *FileRepository) load() ([]Message, error) {
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	var records []fileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, Message{
			ID:               record.ID,
			Text:             record.Text,
			Author:           record.From,
			CreatedAtSeconds: record.CreatedAtSeconds,
			TimeLabel:        record.Time,
		})
	}
	return messages, nil
}

func (r *FileRepository) save(messages []Message) error {
	records := make([]fileRecord, 0, len(messages))
	for _, message := range messages {
		records = append(records, fileRecord{
			ID:               message.ID,
			Text:             message.Text,
			From:             message.Author,
			Time:             message.TimeLabel,
			CreatedAtSeconds: message.CreatedAtSeconds,
		})
	}
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	temp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	if _, err := temp.Write(encoded); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, r.path)
}

func lastID(messages []Message) int64 {
	var highest int64
	for _, message := range messages {
		if message.ID > highest {
			highest = message.ID
		}
	}
	return highest
}

// keepNewest returns the last capacity messages and the number dropped from the front.
func keepNewest(messages []Message, capacity int) ([]Message, int) {
	if len(messages) <= capacity {
		return messages, 0
	}
	evicted := len(messages) - capacity
	return messages[evicted:], evicted
}
