package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PostgresRepo implements the feedback and notification stores on top of gorm.
// Despite the name it also runs on SQLite for local development and tests.
type PostgresRepo struct {
	db     *gorm.DB
	driver string
}

// newRetryPolicy creates a backoff policy bound to the context.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset() // Important: Reset before first use
	return backoff.WithContext(b, ctx)
}

// retryableOperation runs operation until it succeeds, fails permanently, or the policy gives up.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) ||
				errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) {
				return backoff.Permanent(err)
			}
			if isTransientError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy, notify)
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// See https://www.postgresql.org/docs/current/errcodes-appendix.html
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exception, class 53 insufficient resources,
		// deadlock and serialization failures.
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
		"database is locked", // sqlite writer contention
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// tenantNamer qualifies every table with the company schema.
func tenantNamer(schemaName string) schema.Namer {
	return schema.NamingStrategy{TablePrefix: schemaName + "."}
}

var schemaNameSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

// SchemaName returns the postgres schema holding a company's tables.
func SchemaName(companyID string) string {
	id := schemaNameSanitizer.ReplaceAllString(strings.ToLower(companyID), "_")
	if id == "" {
		id = "default"
	}
	return "production_feedback_" + id
}

// NewRepo opens the configured database, retrying transient connection
// failures, and migrates the schema when enabled.
func NewRepo(cfg config.DatabaseConfig, companyID string) (*PostgresRepo, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresRepo(cfg.PostgresDSN, cfg.AutoMigrate, companyID)
	case DriverSQLite:
		return NewSQLiteRepo(cfg.SQLitePath, cfg.AutoMigrate)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func connectWithRetry(open func() (*gorm.DB, error), what string) (*gorm.DB, error) {
	operation := func() (*gorm.DB, error) {
		db, err := open()
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to database (transient), retrying...", zap.String("target", what), zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to %s: %w", what, err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.String("target", what), zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after retries: %w", what, err)
	}
	return db, nil
}

// NewPostgresRepo connects to postgres and scopes all tables to the company schema.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	schemaName := SchemaName(companyID)

	dbDefault, err := connectWithRetry(func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	}, "postgres")
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))
	if err := dbDefault.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		closeGorm(dbDefault)
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	closeGorm(dbDefault)

	db, err := connectWithRetry(func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{
			NamingStrategy: tenantNamer(schemaName),
			Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
			TranslateError: true,
		})
	}, "postgres schema "+schemaName)
	if err != nil {
		return nil, err
	}

	repo := &PostgresRepo{db: db, driver: DriverPostgres}
	if err := repo.migrate(autoMigrate); err != nil {
		closeGorm(db)
		return nil, err
	}
	return repo, nil
}

// NewSQLiteRepo opens a SQLite database file (or ":memory:").
func NewSQLiteRepo(path string, autoMigrate bool) (*PostgresRepo, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized
	// and makes :memory: databases visible to every query.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	repo := &PostgresRepo{db: db, driver: DriverSQLite}
	if err := repo.migrate(autoMigrate); err != nil {
		closeGorm(db)
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepo) migrate(autoMigrate bool) error {
	if !autoMigrate {
		logger.Log.Info("Auto-migration disabled")
		return nil
	}
	logger.Log.Info("Running auto-migration", zap.String("driver", r.driver))
	if err := r.db.AutoMigrate(&model.FeedbackRecord{}, &model.NotificationRecord{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	for _, m := range []interface{}{&model.FeedbackRecord{}, &model.NotificationRecord{}} {
		if !r.db.Migrator().HasTable(m) {
			return fmt.Errorf("table for %T does not exist after auto-migration", m)
		}
	}
	return nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Ping checks that the database answers.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// observe records the duration of a repository call.
func observe(ctx context.Context, operation, entity string, start time.Time, err error) {
	companyID, _ := tenant.FromContext(ctx)
	observer.ObserveDbOperationDuration(operation, entity, companyID, time.Since(start), err)
}

// checkConstraintViolation maps driver errors onto the apperrors taxonomy.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001", "40P01":
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") {
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") {
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	// SQLite reports constraint failures only through the message text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	case strings.Contains(msg, "NOT NULL constraint failed"), strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
