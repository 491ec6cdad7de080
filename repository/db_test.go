package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestGormLoggerConfig(t *testing.T) {
	cfg := gormLoggerConfig(false)
	require.Equal(t, logger.Warn, cfg.LogLevel)
	require.True(t, cfg.IgnoreRecordNotFoundError, "lookups that find nothing are not warnings")

	cfg = gormLoggerConfig(true)
	require.Equal(t, logger.Info, cfg.LogLevel)
	require.True(t, cfg.IgnoreRecordNotFoundError)
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDB("mysql", "", false)
	require.ErrorContains(t, err, "mysql")
}
