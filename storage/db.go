package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loomwire/loomwire/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM handle with the pool-saturation gauge C2 requires,
// binding every session to a workspace and a statement timeout.
type DB struct {
	gorm              *gorm.DB
	driver            string
	statementTimeout  time.Duration
	inUse             atomic.Int64
	total             int64
}

// Open connects using cfg.Database, applying driver-specific pool limits.
func Open(cfg *config.Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.URL)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Database.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	maxConns := cfg.Database.MaxConns
	minConns := cfg.Database.MinConns
	if cfg.Database.Driver == "sqlite" || cfg.Database.Driver == "" {
		// SQLite serializes writers regardless of pool size.
		maxConns, minConns = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(minConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{
		gorm:             gdb,
		driver:           cfg.Database.Driver,
		statementTimeout: cfg.Database.StatementTimeout,
		total:            int64(maxConns),
	}, nil
}

// NewWithGorm wraps an already-open GORM handle; used by tests that drive
// the tenant binding against a mocked connection.
func NewWithGorm(gdb *gorm.DB, driver string, statementTimeout time.Duration) *DB {
	return &DB{gorm: gdb, driver: driver, statementTimeout: statementTimeout}
}

// Driver reports "postgres" or "sqlite", letting callers (notably
// retrieval.VectorIndex constructors) pick the matching backend.
func (d *DB) Driver() string {
	if d.driver == "" {
		return "sqlite"
	}
	return d.driver
}

// InUse and Total back the pool-saturation gauge in observability.Metrics.
func (d *DB) InUse() int64 { return d.inUse.Load() }
func (d *DB) Total() int64 { return d.total }

// Session returns a workspace-bound *gorm.DB. On Postgres it issues a
// session-level set_config of app.workspace_id that row-level-security policies read to restrict every subsequent
// statement on this connection to the given workspace. On
// SQLite (no RLS) it is a no-op bind: callers must still always filter by
// workspace_id explicitly, which every storage accessor in this package does.
func (d *DB) Session(ctx context.Context, workspaceID uuid.UUID) (*gorm.DB, error) {
	tx := d.gorm.WithContext(ctx)
	d.inUse.Add(1)
	if d.driver == "postgres" {
		ms := d.statementTimeout.Milliseconds()
		if err := tx.Exec(fmt.Sprintf("SET statement_timeout = %d", ms)).Error; err != nil {
			d.inUse.Add(-1)
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
		// SET cannot take a bind parameter; set_config is its placeholder-safe
		// equivalent.
		if err := tx.Exec("SELECT set_config('app.workspace_id', ?, false)", workspaceID.String()).Error; err != nil {
			d.inUse.Add(-1)
			return nil, fmt.Errorf("bind tenant session: %w", err)
		}
	}
	return tx, nil
}

// Raw exposes the unbound *gorm.DB for the single legitimate unscoped query
// in the system: resolving which workspace owns an inbound display phone,
// before any workspace id is known. Every other call site must go through
// Session or WithTenant.
func (d *DB) Raw() *gorm.DB { return d.gorm }

// Release must be called once the caller is done with a *gorm.DB obtained
// from Session, balancing the in-use gauge increment.
func (d *DB) Release() { d.inUse.Add(-1) }

// WithTenant runs fn inside a transaction bound to workspaceID, committing
// on nil error and rolling back otherwise: commits are per logical
// operation, not per statement.
func (d *DB) WithTenant(ctx context.Context, workspaceID uuid.UUID, fn func(tx *gorm.DB) error) error {
	defer d.Release()
	tx := d.gorm.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	d.inUse.Add(1)
	if d.driver == "postgres" {
		ms := d.statementTimeout.Milliseconds()
		if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("set statement timeout: %w", err)
		}
		if err := tx.Exec("SELECT set_config('app.workspace_id', ?, true)", workspaceID.String()).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("bind tenant session: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
