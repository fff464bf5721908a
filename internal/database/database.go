package database

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"blocksentinel/internal/config"
)

// Database wraps the sqlx connection with query timeouts and slow query
// logging.
type Database struct {
	db     *sqlx.DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// New connects to Postgres and configures the pool.
func New(cfg *config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	if cfg == nil {
		return nil, errors.New("database config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	d := &Database{
		logger: logger.Named("database"),
		config: cfg,
	}

	if err := d.connect(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	return d, nil
}

func (d *Database) connect() error {
	d.logger.Info("Connecting to database",
		zap.String("connection_string", maskConnectionString(d.config.ConnectionString)))

	db, err := sqlx.Connect("postgres", d.config.ConnectionString)
	if err != nil {
		return errors.Wrap(err, "failed to connect to postgres")
	}

	db.SetMaxOpenConns(d.config.MaxOpenConnections)
	db.SetMaxIdleConns(d.config.MaxIdleConnections)
	db.SetConnMaxLifetime(d.config.ConnectionLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), d.config.ConnectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "failed to ping database")
	}

	d.db = db
	d.logger.Info("Successfully connected to database")
	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d.db != nil {
		d.logger.Info("Closing database connection")
		return d.db.Close()
	}
	return nil
}

// Health pings the database with a short timeout.
func (d *Database) Health(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database connection not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

// RunMigrations applies pending schema migrations.
func (d *Database) RunMigrations() error {
	d.logger.Info("Running database migrations", zap.String("path", d.config.MigrationPath))

	driver, err := postgres.WithInstance(d.db.DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance(d.config.MigrationPath, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migration instance")
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "failed to run migrations")
	}

	if err == migrate.ErrNoChange {
		d.logger.Info("No new migrations to apply")
	} else {
		d.logger.Info("Successfully applied database migrations")
	}
	return nil
}

// BeginTx starts a transaction.
func (d *Database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return d.db.BeginTxx(ctx, opts)
}

// ExecContext executes a statement with the configured query timeout.
func (d *Database) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.db.ExecContext(ctx, query, args...)
	d.observe("EXEC", query, time.Since(start), err)
	return result, err
}

// GetContext scans a single row into dest.
func (d *Database) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	err := d.db.GetContext(ctx, dest, query, args...)
	d.observe("GET", query, time.Since(start), err)
	return err
}

// SelectContext scans all rows into dest.
func (d *Database) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	err := d.db.SelectContext(ctx, dest, query, args...)
	d.observe("SELECT", query, time.Since(start), err)
	return err
}

// Stats reports pool statistics for the readiness endpoint.
func (d *Database) Stats() sql.DBStats {
	if d.db == nil {
		return sql.DBStats{}
	}
	return d.db.Stats()
}

func (d *Database) observe(operation, query string, duration time.Duration, err error) {
	if d.config.EnableQueryLogging {
		fields := []zap.Field{
			zap.String("operation", operation),
			zap.String("query", query),
			zap.Duration("duration", duration),
		}
		if err != nil && err != sql.ErrNoRows {
			d.logger.Error("Database query failed", append(fields, zap.Error(err))...)
		} else {
			d.logger.Debug("Database query executed", fields...)
		}
	}

	if duration > d.config.SlowQueryThreshold {
		d.logger.Warn("Slow query detected",
			zap.String("query", query),
			zap.Duration("duration", duration),
			zap.Duration("threshold", d.config.SlowQueryThreshold))
	}
}

var passwordPattern = regexp.MustCompile(`(password=|://[^:@/]+:)[^@\s]+`)

func maskConnectionString(connStr string) string {
	return passwordPattern.ReplaceAllString(connStr, "${1}***")
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (d *Database) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				d.logger.Error("Failed to rollback transaction after panic", zap.Error(rollbackErr))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			d.logger.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Paginate provides pagination parameters for list queries.
type Paginate struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPaginate clamps limit and offset to sane bounds.
func NewPaginate(limit, offset int) *Paginate {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return &Paginate{Limit: limit, Offset: offset}
}

// PaginatedResult wraps a page of data with totals.
type PaginatedResult struct {
	Data    interface{} `json:"data"`
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasNext bool        `json:"has_next"`
}

// NewPaginatedResult builds the page envelope.
func NewPaginatedResult(data interface{}, total int64, paginate *Paginate) *PaginatedResult {
	return &PaginatedResult{
		Data:    data,
		Total:   total,
		Limit:   paginate.Limit,
		Offset:  paginate.Offset,
		HasNext: paginate.Offset+paginate.Limit < int(total),
	}
}
