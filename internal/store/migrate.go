package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// migrationLockKey serializes schema changes across replicas that start at
// the same time.
const migrationLockKey int64 = 7_306_150_901

var migrationFile = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// Migration is one numbered schema change and its two scripts.
type Migration struct {
	Version  int
	Name     string
	UpPath   string
	DownPath string
}

// LoadMigrations pairs the up and down scripts in dir, ordered by version.
// A version without both scripts, or claimed by two names, is an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: match[2]}
			byVersion[version] = m
		} else if m.Name != match[2] {
			return nil, fmt.Errorf("migration version %d used by %q and %q", version, m.Name, match[2])
		}

		path := filepath.Join(dir, entry.Name())
		if match[3] == "up" {
			m.UpPath = path
		} else {
			m.DownPath = path
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" || m.DownPath == "" {
			return nil, fmt.Errorf("migration %04d_%s needs both up and down scripts", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every pending up script in version order, one
// transaction each, and returns the versions it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string, logger *slog.Logger) ([]int, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range migrations {
		ran, err := runMigration(ctx, db, m, true)
		if err != nil {
			return applied, err
		}
		if !ran {
			continue
		}
		applied = append(applied, m.Version)
		migrationLogger(logger).Info("migration applied",
			"event", "migration_applied",
			"module", "store",
			"layer", "db",
			"version", m.Version,
			"name", m.Name,
		)
	}
	return applied, nil
}

// RollbackMigrations runs the down script of every applied migration, newest
// first, and returns the versions it reverted.
func RollbackMigrations(ctx context.Context, db *sql.DB, dir string, logger *slog.Logger) ([]int, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var reverted []int
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		ran, err := runMigration(ctx, db, m, false)
		if err != nil {
			return reverted, err
		}
		if !ran {
			continue
		}
		reverted = append(reverted, m.Version)
		migrationLogger(logger).Info("migration reverted",
			"event", "migration_reverted",
			"module", "store",
			"layer", "db",
			"version", m.Version,
			"name", m.Name,
		)
	}
	return reverted, nil
}

// runMigration applies (up) or reverts (down) m unless schema_migrations
// already says it is in that state. It reports whether a script ran.
func runMigration(ctx context.Context, db *sql.DB, m Migration, up bool) (bool, error) {
	path := m.DownPath
	if up {
		path = m.UpPath
	}
	script, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read migration %d: %w", m.Version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var recorded bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&recorded); err != nil {
		return false, fmt.Errorf("check migration %d: %w", m.Version, err)
	}
	if recorded == up {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return false, fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}
	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return false, fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return true, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func migrationLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
