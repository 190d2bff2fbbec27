package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	cfg.TxBackoff = time.Millisecond
	return cfg
}

func TestNewPoolManager(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), zap.NewNop())
	require.Error(t, err)

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)
	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, 50, pm.Stats().MaxOpenConnections)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, pm.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = pm.WithTransaction(context.Background(), func(tx *gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	t.Run("retries deadlocks", func(t *testing.T) {
		mockDB, mock, gormDB := setupTestDB(t)
		defer mockDB.Close()
		pm, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err = pm.WithTransactionRetry(context.Background(), func(tx *gorm.DB) error {
			calls++
			if calls == 1 {
				return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		mockDB, mock, gormDB := setupTestDB(t)
		defer mockDB.Close()
		pm, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}
		calls := 0
		err = pm.WithTransactionRetry(context.Background(), func(tx *gorm.DB) error {
			calls++
			return driver.ErrBadConn
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, driver.ErrBadConn)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		mockDB, mock, gormDB := setupTestDB(t)
		defer mockDB.Close()
		pm, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectRollback()
		calls := 0
		err = pm.WithTransactionRetry(context.Background(), func(tx *gorm.DB) error {
			calls++
			return errors.New("duplicate key value violates unique constraint")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPoolManager_CloseIsIdempotent(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)
	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	pm, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{driver.ErrBadConn, true},
		{fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("syntax error at or near \"SELEC\""), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultPoolConfig().Validate())

	bad := PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10, TxMaxAttempts: -1}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max_open_conns")
	assert.Contains(t, err.Error(), "tx_max_attempts")

	assert.Error(t, PoolConfig{}.Validate())
}
