package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/utils"
)

var (
	dbMu sync.Mutex
	db   *gorm.DB
)

// Open connects to Postgres per cfg and runs the auto-migration for
// every model the demo reply pipeline uses. Safe to call once at
// startup; GetDB returns nil if called before a successful Open.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
	)

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	if err := conn.AutoMigrate(&ChatHistory{}, &UserRelationship{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	dbMu.Lock()
	db = conn
	dbMu.Unlock()

	utils.With(zap.String("component", "storage")).Info("database connected")
	return conn, nil
}

// GetDB returns the process-wide database handle set by Open.
func GetDB() *gorm.DB {
	dbMu.Lock()
	defer dbMu.Unlock()
	return db
}
