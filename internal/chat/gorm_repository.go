package chat

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// GormRepository stores the log in the chat_messages table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository binds a repository to an opened and migrated database.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Append(ctx context.Context, draft Message, capacity int) (Message, int, error) {
	stored := draft
	evicted := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastID, err := maxMessageID(tx)
		if err != nil {
			return err
		}
		stored.ID = lastID + 1
		if err := tx.Create(&stored).Error; err != nil {
			return err
		}
		evicted, err = trimTo(tx, capacity)
		return err
	})
	if err != nil {
		return Message{}, 0, err
	}
	return stored, evicted, nil
}

func (r *GormRepository) Tail(ctx context.Context, limit int) ([]Message, error) {
	messages := make([]Message, 0, limit)
	if limit <= 0 {
		return messages, nil
	}
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (r *GormRepository) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Message{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *GormRepository) Trim(ctx context.Context, capacity int) (int, error) {
	evicted := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		evicted, err = trimTo(tx, capacity)
		return err
	})
	return evicted, err
}

func (r *GormRepository) Import(ctx context.Context, messages []Message, capacity int) (int, error) {
	incoming := append([]Message(nil), messages...)
	sort.SliceStable(incoming, func(i, j int) bool { return incoming[i].ID < incoming[j].ID })

	imported := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastID, err := maxMessageID(tx)
		if err != nil {
			return err
		}
		for _, message := range incoming {
			if message.ID <= lastID {
				continue
			}
			record := message
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			lastID = record.ID
			imported++
		}
		_, err = trimTo(tx, capacity)
		return err
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

func maxMessageID(tx *gorm.DB) (int64, error) {
	var lastID int64
	err := tx.Model(&Message{}).Select("COALESCE(MAX(id), 0)").Scan(&lastID).Error
	return lastID, err
}

// trimTo removes every message older than the newest capacity messages.
func trimTo(tx *gorm.DB, capacity int) (int, error) {
	var boundary []int64
	if err := tx.Model(&Message{}).
		Order("id DESC").
		Offset(capacity).
		Limit(1).
		Pluck("id", &boundary).Error; err != nil {
		return 0, err
	}
	if len(boundary) == 0 {
		return 0, nil
	}
	result := tx.Where("id <= ?", boundary[0]).Delete(&Message{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
