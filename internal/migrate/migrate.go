// Package migrate applies the numbered SQL files under migrations/ and tracks
// them in schema_migrations. A file holds its rollback after a
// "-- +migrate Down" line.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const downMarker = "-- +migrate Down"

var filePattern = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migration is one numbered SQL file
type Migration struct {
	Version   int
	Name      string
	Up        string
	Down      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator runs migrations from dir against db
type Migrator struct {
	db  *sql.DB
	dir string
	log *zap.Logger
}

// New creates a migrator reading from dir
func New(db *sql.DB, dir string, log *zap.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, log: log}
}

// Init creates the tracking table
func (m *Migrator) Init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// Up applies every pending migration in version order and returns how many ran
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if mig.Applied {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		m.log.Info("Migration applied", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migration.
// It returns nil when nothing is applied.
func (m *Migrator) Down(ctx context.Context) (*Migration, error) {
	migrations, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if !mig.Applied {
			continue
		}
		if err := m.rollback(ctx, mig); err != nil {
			return nil, fmt.Errorf("failed to roll back migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		m.log.Info("Migration rolled back", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		return &mig, nil
	}
	return nil, nil
}

// Reset rolls back every applied migration and reapplies all of them
func (m *Migrator) Reset(ctx context.Context) (int, error) {
	for {
		mig, err := m.Down(ctx)
		if err != nil {
			return 0, err
		}
		if mig == nil {
			break
		}
	}
	return m.Up(ctx)
}

// Status lists the migration files with their applied state
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	migrations, err := Load(m.dir)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]*time.Time)
	for rows.Next() {
		var version int
		var at *time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migration rows: %w", err)
	}

	for i := range migrations {
		if at, ok := applied[migrations[i].Version]; ok {
			migrations[i].Applied = true
			migrations[i].AppliedAt = at
		}
	}
	return migrations, nil
}

// Seed executes every file under dir/seed without tracking
func (m *Migrator) Seed(ctx context.Context) (int, error) {
	seeds, err := Load(filepath.Join(m.dir, "seed"))
	if err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if _, err := m.db.ExecContext(ctx, s.Up); err != nil {
			return 0, fmt.Errorf("failed to run seed %03d_%s: %w", s.Version, s.Name, err)
		}
		m.log.Info("Seed applied", zap.Int("version", s.Version), zap.String("name", s.Name))
	}
	return len(seeds), nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) rollback(ctx context.Context, mig Migration) error {
	if mig.Down == "" {
		return fmt.Errorf("no rollback defined for migration version %d", mig.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	return tx.Commit()
}

// Load reads the NNN_name.sql files of dir sorted by version.
// A missing directory yields no migrations.
func Load(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %03d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		up, down, _ := strings.Cut(string(content), downMarker)
		migrations = append(migrations, Migration{
			Version: version,
			Name:    matches[2],
			Up:      strings.TrimSpace(up),
			Down:    strings.TrimSpace(down),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
