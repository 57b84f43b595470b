package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "schema_migrations_readlater"

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrDirtySchema is returned when a previous migration failed half way.
var ErrDirtySchema = errors.New("database schema is dirty, fix the failed migration before proceeding")

// LatestVersion returns the highest version among the embedded up migrations.
func LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("read migrations dir: %w", err)
	}

	var latest uint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		if uint(v) > latest {
			latest = uint(v)
		}
	}
	if latest == 0 {
		return 0, errors.New("no migration files found")
	}
	return latest, nil
}

// withMigrate runs fn against a migrate instance backed by pool.
func withMigrate(pool *pgxpool.Pool, fn func(m *migrate.Migrate) error) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	defer func() { _ = driver.Close() }()

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	return fn(m)
}

// currentVersion returns the applied version, zero when nothing is applied.
func currentVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

// RunMigrations applies every pending up migration. It refuses to run on a
// dirty schema.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	return withMigrate(pool, func(m *migrate.Migrate) error {
		from, dirty, err := currentVersion(m)
		if err != nil {
			return err
		}
		if dirty {
			return ErrDirtySchema
		}

		stop := context.AfterFunc(ctx, func() {
			select {
			case m.GracefulStop <- true:
			default:
			}
		})
		defer stop()

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}

		to, _, err := currentVersion(m)
		if err != nil {
			return err
		}
		logger.Info().
			Uint("from_version", from).
			Uint("to_version", to).
			Msg("database migrations applied")
		return nil
	})
}

// WaitForSchema blocks until the database reaches LatestVersion, polling every
// interval for at most timeout. Processes that do not migrate call it so they
// never run against an older schema.
func WaitForSchema(ctx context.Context, pool *pgxpool.Pool, timeout, interval time.Duration, logger zerolog.Logger) error {
	want, err := LatestVersion()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var have uint
		err := withMigrate(pool, func(m *migrate.Migrate) error {
			v, dirty, err := currentVersion(m)
			if err != nil {
				return err
			}
			if dirty {
				return ErrDirtySchema
			}
			have = v
			return nil
		})
		if err != nil {
			return err
		}

		switch {
		case have == want:
			logger.Info().Uint("version", have).Msg("database schema is current")
			return nil
		case have > want:
			return fmt.Errorf("database schema version %d is newer than %d, upgrade this binary", have, want)
		case time.Now().After(deadline):
			return fmt.Errorf("timed out waiting for schema version %d, database is at %d", want, have)
		}

		logger.Info().
			Uint("version", have).
			Uint("want_version", want).
			Msg("waiting for database migrations")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Checker adapts a pool to a readiness check.
type Checker struct {
	Pool *pgxpool.Pool
}

// Check pings the database.
func (c Checker) Check(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}
