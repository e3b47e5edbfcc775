package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormlogger "gorm.io/gorm/logger"

	"github.com/erp/settlement/internal/infrastructure/config"
)

func newMockDatabase(t *testing.T, cfg *config.DatabaseConfig) (*Database, sqlmock.Sqlmock, error) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"})
	mock.ExpectPing()
	db, err := openDatabase(context.Background(), dialector, cfg, DatabaseOptions{
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Warn,
	})
	return db, mock, err
}

func TestOpenDatabase(t *testing.T) {
	t.Run("applies pool settings", func(t *testing.T) {
		db, mock, err := newMockDatabase(t, &config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 3})
		require.NoError(t, err)

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 7, stats.MaxOpenConnections)

		mock.ExpectClose()
		require.NoError(t, db.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when the ping fails", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		mock.ExpectClose()

		_, err = openDatabase(context.Background(),
			postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
			&config.DatabaseConfig{}, DatabaseOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping database")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_Ping(t *testing.T) {
	db, mock, err := newMockDatabase(t, &config.DatabaseConfig{})
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	assert.Error(t, db.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
