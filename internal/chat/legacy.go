package chat

import (
	"context"
	"fmt"
)

// LoadLegacyLog reads a chat.db JSON array log written by the first release.
func LoadLegacyLog(path string) ([]Message, error) {
	repository, err := NewFileRepository(path)
	if err != nil {
		return nil, err
	}
	messages, err := repository.Load()
	if err != nil {
		return nil, newUnavailableError(opRepositoryLoad, "legacy_read_failed", err)
	}
	return messages, nil
}

// ImportLegacyLog copies the messages of the legacy file at path into store.
func ImportLegacyLog(ctx context.Context, store *Store, path string) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("chat: store is required")
	}
	messages, err := LoadLegacyLog(path)
	if err != nil {
		return 0, err
	}
	return store.Import(ctx, messages)
}
