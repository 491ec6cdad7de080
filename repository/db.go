package repository

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB connects with the named driver ("postgres" or "sqlite").
// TranslateError is always on: the reservation path relies on
// gorm.ErrDuplicatedKey to recognise unique-constraint violations.
func OpenDB(driver, dsn string, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(debug),
	}

	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer; serialise through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// gormLoggerConfig keeps routine misses such as a draft lookup that finds
// nothing out of the warning stream.
func gormLoggerConfig(debug bool) logger.Config {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	}
}

func newGormLogger(debug bool) logger.Interface {
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), gormLoggerConfig(debug))
}
