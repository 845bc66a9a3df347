// Package store is the relational mirror: cursors, mirrored entities and
// the change-event outbox.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Supported database/sql driver names.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, needs cgo
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
)

// Store wraps the mirror database.
type Store struct {
	DB     *sqlx.DB
	driver string
	// Clock is overridable in tests.
	Clock func() time.Time
}

// Open connects, tunes the pool and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	memory := strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")

	db, err := sqlx.Open(driver, withPragmas(driver, dsn, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s := &Store{DB: db, driver: driver, Clock: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("driver", driver).Bool("memory", memory).Msg("mirror store opened")
	return s, nil
}

func withPragmas(driver, dsn string, memory bool) string {
	var params []string
	switch driver {
	case DriverSQLite:
		params = []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
		if !memory {
			params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
		}
	case DriverSQLite3:
		params = []string{"_foreign_keys=on", "_busy_timeout=5000"}
		if !memory {
			params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
		}
	default:
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) postgres() bool {
	return s.driver == DriverPgx
}

func (s *Store) nowMs() int64 {
	return s.Clock().UTC().UnixMilli()
}

func (s *Store) migrate(ctx context.Context) error {
	current := 0

	var exists int
	q := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"
	if s.postgres() {
		q = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'schema_version'"
	}
	if err := s.DB.GetContext(ctx, &exists, q); err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists > 0 {
		if err := s.DB.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}
	if current >= 1 {
		return nil
	}

	serial, bytes := "INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"
	if s.postgres() {
		serial, bytes = "BIGSERIAL PRIMARY KEY", "BYTEA"
	}
	ddl := strings.NewReplacer("{{serial}}", serial, "{{bytes}}", bytes).Replace(schemaSQL)

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(ddl, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration v1: %w", err)
		}
	}
	return tx.Commit()
}

// Tx is a store transaction. Reconcilers group a lookup, a write and an
// outbox entry in one Tx.
type Tx struct {
	*sqlx.Tx
	s *Store
}

// InTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{Tx: tx, s: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Now returns the store clock in Unix milliseconds.
func (tx *Tx) Now() int64 {
	return tx.s.nowMs()
}

// Savepoint runs fn inside a savepoint and rolls back to it when fn fails,
// leaving the surrounding transaction usable.
func (tx *Tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
