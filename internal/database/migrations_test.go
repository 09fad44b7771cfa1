package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesLegacyRows(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&chat.Message{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	createdAt := time.Date(2026, 10, 1, 14, 5, 0, 0, time.Local)
	legacy := []chat.Message{
		{ID: 1, Text: "padded", Author: "  u1  ", CreatedAtSeconds: createdAt.Unix(), TimeLabel: "14:05"},
		{ID: 2, Text: "unlabelled", Author: "u2", CreatedAtSeconds: createdAt.Unix(), TimeLabel: ""},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy rows: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []chat.Message
	if err := database.Order("id ASC").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload messages: %v", err)
	}
	if stored[0].Author != "u1" {
		testContext.Fatalf("expected author to be trimmed, got %q", stored[0].Author)
	}
	if stored[1].TimeLabel != "14:05" {
		testContext.Fatalf("expected time label to be backfilled, got %q", stored[1].TimeLabel)
	}

	for _, name := range []string{migrationNormalizeMessageAuthors, migrationBackfillTimeLabels} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s to be created: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations should be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "chatlog.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	defer sqlDB.Close()

	if !database.Migrator().HasTable(&chat.Message{}) {
		testContext.Fatalf("expected chat_messages table")
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
