// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db stores the deployment history. SQLite is the default backend;
// PostgreSQL and MySQL are supported for teams sharing one history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	// SQL drivers for the non-default backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Store is the bun-backed history store.
type Store struct {
	bun    *bun.DB
	dbType string
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, dbType, dsn string) (*Store, error) {
	driverName := dbType
	switch dbType {
	case TypeSQLite, TypeMySQL:
	case TypePostgres:
		// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := envInt("NIXDEPLOY_DB_MAX_OPEN_CONNS", 4)
	// Every connection to ":memory:" gets its own database, so keep one.
	if dbType == TypeSQLite && dsn == ":memory:" {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(envInt("NIXDEPLOY_DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)

	s := &Store{bun: createBunDB(sqlDB, dbType), dbType: dbType}
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	logging.Debugf("db: opened %s in %s (max open conns %d)", driverName, time.Since(start), maxOpen)
	return s, nil
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case TypePostgres:
		return bun.NewDB(sqlDB, pgdialect.New())
	case TypeMySQL:
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.bun.NewCreateTable().Model((*DeploymentModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create deployments table: %w", err)
	}
	if _, err := s.bun.NewCreateIndex().Model((*DeploymentModel)(nil)).
		Index("deployments_host_started_idx").IfNotExists().
		Column("host", "started_at").Exec(ctx); err != nil {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the table was just created
		// or already carries the index.
		if s.dbType != TypeMySQL {
			return fmt.Errorf("create deployments index: %w", err)
		}
		logging.Debugf("db: index creation skipped: %v", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.bun.Close()
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
