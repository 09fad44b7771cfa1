package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeMessageAuthors = "2026-10-01_normalize_message_authors"
	migrationBackfillTimeLabels      = "2026-10-08_backfill_message_time_labels"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeMessageAuthors, apply: normalizeMessageAuthors},
		{name: migrationBackfillTimeLabels, apply: backfillTimeLabels},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeMessageAuthors trims authors written before the store started trimming them.
func normalizeMessageAuthors(db *gorm.DB) error {
	return db.Model(&chat.Message{}).
		Where("author <> trim(author)").
		Update("author", gorm.Expr("trim(author)")).Error
}

// backfillTimeLabels derives missing HH:MM labels from the stored unix seconds.
func backfillTimeLabels(db *gorm.DB) error {
	var messages []chat.Message
	if err := db.Where("time_label = '' AND created_at_s > 0").Find(&messages).Error; err != nil {
		return err
	}
	for _, message := range messages {
		label := chat.FormatTime(time.Unix(message.CreatedAtSeconds, 0))
		if err := db.Model(&chat.Message{}).
			Where("id = ?", message.ID).
			Update("time_label", label).Error; err != nil {
			return err
		}
	}
	return nil
}
