package db

import (
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

// Models lists every table of the local store.
var Models = []any{
	&model.Subscription{},
	&model.Notification{},
	&model.User{},
	&model.Pref{},
	&model.PushTarget{},
}

// Init opens the local store and runs migrations. Any failure is a Storage
// error: the environment cannot hold persistent state and callers must not
// retry against it.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errs.Errorf(errs.Storage, "db.init", "failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Errorf(errs.Storage, "db.init", "failed to get sql.DB: %w", err)
	}

	if isPostgres(cfg.DSN) {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		// SQLite allows a single writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the local store tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return errs.Errorf(errs.Storage, "db.migrate", "automigrate failed: %w", err)
	}
	return nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

func dialector(dsn string) gorm.Dialector {
	if isPostgres(dsn) {
		return postgres.Open(dsn)
	}
	if !strings.Contains(dsn, "?") && !strings.HasPrefix(dsn, "file:") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	return sqlite.Open(dsn)
}
