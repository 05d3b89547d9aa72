package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const testCompanyID = "tenant-feedback-test"

// newSQLiteTestRepo returns a repository backed by a private in-memory database.
func newSQLiteTestRepo(t *testing.T) *PostgresRepo {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	repo, err := NewSQLiteRepo(":memory:", true)
	require.NoError(t, err)
	repo.db = repo.db.Session(&gorm.Session{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

// newMockPostgresRepo returns a postgres-dialect repository over sqlmock.
func newMockPostgresRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &PostgresRepo{db: gormDB, driver: DriverPostgres}, mock
}

func testContext() context.Context {
	return tenant.WithCompanyID(context.Background(), testCompanyID)
}
