package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one versioned schema step. Files are named "<version>_<name>.sql".
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// RunMigrations applies the embedded migrations that have not been recorded yet.
func RunMigrations(ctx context.Context, db *DB, logger pslog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	_, err = applyMigrations(ctx, db, sub, logger)
	return err
}

// applyMigrations runs every pending migration found in fsys, each in its own
// transaction together with its schema_migrations row. It returns how many ran.
func applyMigrations(ctx context.Context, db *DB, fsys fs.FS, logger pslog.Logger) (int, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return 0, err
	}

	repo := NewBaseRepository(db)
	if _, err := repo.Q().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, repo.Q())
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		start := time.Now()
		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, repo.Now(),
			)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}

		ran++
		logger.Info("storage.migration.applied", "version", m.Version, "name", m.Name,
			"elapsed", time.Since(start).String())
	}

	if ran == 0 {
		logger.Debug("storage.migration.up_to_date", "version", latestVersion(migrations))
	}
	return ran, nil
}

func appliedVersions(ctx context.Context, q Queryable) (map[int]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadMigrations reads the *.sql files at the root of fsys ordered by version.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	seen := make(map[int]string, len(files))
	out := make([]Migration, 0, len(files))
	for _, file := range files {
		base := strings.TrimSuffix(path.Base(file), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 || name == "" {
			return nil, fmt.Errorf("migration %s: name must be <version>_<name>.sql", file)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", file, version, other)
		}
		seen[version] = file

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func latestVersion(migrations []Migration) int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
