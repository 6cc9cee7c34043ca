package store

import (
	"fmt"
	"time"

	"restaurant-loyalty/backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite", "":
		return InitDB(dsn)
	case "postgres":
		d, err := gorm.Open(postgres.Open(dsn), gormConfig(logger.Warn))
		if err != nil {
			return nil, err
		}
		if err := d.AutoMigrate(models.All()...); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// InitDB opens a sqlite database. sqlite allows one writer at a time, so the
// pool is pinned to a single connection.
func InitDB(path string) (*gorm.DB, error) {
	d, err := gorm.Open(sqlite.Open(path), gormConfig(logger.Silent))
	if err != nil {
		return nil, err
	}
	sqlDB, err := d.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := d.AutoMigrate(models.All()...); err != nil {
		return nil, err
	}
	return d, nil
}

// Timestamps are written in UTC so that time comparisons stay consistent on sqlite,
// which stores them as text.
func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}
