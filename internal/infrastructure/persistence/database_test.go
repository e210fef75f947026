package persistence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/costing/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDatabase creates a Database backed by sqlmock using the postgres dialect
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	return &Database{DB: gormDB, Driver: config.DriverPostgres}, mock, mockDB
}

func TestNewDatabase_Drivers(t *testing.T) {
	t.Run("memory driver has no SQL database", func(t *testing.T) {
		_, err := NewDatabase(&config.DatabaseConfig{Driver: config.DriverMemory})
		assert.ErrorIs(t, err, ErrNoSQLDatabase)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("sqlite opens and migrates", func(t *testing.T) {
		db := newSQLiteDatabase(t)
		assert.Equal(t, config.DriverSQLite, db.Driver)
		assert.NoError(t, db.Ping(context.Background()))

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.MaxOpenConnections)
	})
}

func TestDatabase_PingAndClose(t *testing.T) {
	db, mock, _ := newMockDatabase(t)

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, db.Ping(context.Background()))

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMovementRepository_Mock(t *testing.T) {
	ctx := context.Background()

	t.Run("create reads back the sequence", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cost_movements"`)).
			WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(42))

		m := newIn(t, uuid.New(), 3, "12.5", contractDay0, "GRN-42")
		require.NoError(t, NewGormMovementRepository(db.DB).Create(ctx, m))
		assert.Equal(t, int64(42), m.Sequence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list propagates query errors", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cost_movements"`)).
			WillReturnError(errors.New("relation does not exist"))

		_, err := NewGormMovementRepository(db.DB).ListByProduct(ctx, uuid.New(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relation does not exist")
	})

	t.Run("count", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "cost_movements"`)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

		n, err := NewGormMovementRepository(db.DB).CountByProduct(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})
}

func TestNewRepositories(t *testing.T) {
	mem := NewRepositories(nil)
	assert.IsType(t, &MemoryMovementRepository{}, mem.Movements)
	assert.IsType(t, &MemoryProductCatalog{}, mem.Products)
	assert.NoError(t, mem.Close())

	sqlRepos := NewRepositories(newSQLiteDatabase(t))
	assert.IsType(t, &GormMovementRepository{}, sqlRepos.Movements)
	assert.IsType(t, &GormProductCatalog{}, sqlRepos.Products)
}
