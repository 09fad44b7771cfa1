package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	"github.com/MarcoPoloResearchLab/chatlog/internal/config"
	"github.com/MarcoPoloResearchLab/chatlog/internal/database"
	"go.uber.org/zap"
)

// openStore builds the configured backend. The returned close function releases the
// database handle for the sqlite backend.
func openStore(appConfig config.AppConfig, logger *zap.Logger, storeMetrics chat.Metrics) (*chat.Store, func(), error) {
	var (
		repository chat.Repository
		closeFn    = func() {}
	)

	switch appConfig.StoreBackend {
	case config.BackendFile:
		fileRepository, err := chat.NewFileRepository(appConfig.StoreFilePath)
		if err != nil {
			return nil, nil, err
		}
		repository = fileRepository
	case config.BackendSQLite:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = sqlDB.Close() }
		gormRepository, err := chat.NewGormRepository(db)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		repository = gormRepository
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", appConfig.StoreBackend)
	}

	store, err := chat.NewStore(chat.StoreConfig{
		Repository: repository,
		Capacity:   appConfig.StoreCapacity,
		Logger:     logger,
		Metrics:    storeMetrics,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}
