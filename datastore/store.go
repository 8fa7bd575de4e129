// Package datastore is the data-access layer behind the tools and the API:
// users, orders, payments, conversations and routing metrics, stored with bun
// on Postgres or SQLite.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver       string        `default:"postgres"`
	DSN          string        `envconfig:"DSN" required:"true"`
	MaxOpenConns int           `split_words:"true" default:"10"`
	AutoMigrate  bool          `split_words:"true" default:"false"`
	QueryTimeout time.Duration `split_words:"true" default:"5s"`
}

type Store struct {
	db           *bun.DB
	queryTimeout time.Duration
	now          func() time.Time
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("datastore: dsn is required")
	}

	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("datastore: open sqlite: %w", err)
		}
		// one connection keeps ":memory:" databases alive across queries
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("datastore: unsupported driver %q", cfg.Driver)
	}

	store := New(db)
	store.queryTimeout = cfg.QueryTimeout

	if cfg.AutoMigrate {
		if err := store.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func New(db *bun.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// CreateSchema creates every table that does not exist yet.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("datastore: create table for %T: %w", model, err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
