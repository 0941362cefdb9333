package database

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration is one versioned schema change, loaded from a file named
// "<version>_<name>.sql"
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies schema migrations in version order, each in its own
// transaction, recording them in schema_migrations.
type Migrator struct {
	db     *DB
	logger *zap.Logger
	source fs.FS
	dir    string
}

// MigratorOption configures a Migrator
type MigratorOption func(*Migrator)

// WithSource reads migrations from dir within fsys instead of the embedded set
func WithSource(fsys fs.FS, dir string) MigratorOption {
	return func(m *Migrator) {
		m.source = fsys
		m.dir = dir
	}
}

// NewMigrator creates a migrator over the embedded migrations
func NewMigrator(db *DB, logger *zap.Logger, opts ...MigratorOption) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Migrator{
		db:     db,
		logger: logger,
		source: embeddedMigrations,
		dir:    "migrations",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pending returns the migrations not yet applied, in version order
func (m *Migrator) Pending() ([]Migration, error) {
	if err := m.ensureTable(); err != nil {
		return nil, err
	}

	var versions []int
	if err := m.db.Select(&versions, `SELECT version FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	applied := make(map[int]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	all, err := m.load()
	if err != nil {
		return nil, err
	}

	pending := all[:0:0]
	for _, mg := range all {
		if _, ok := applied[mg.Version]; !ok {
			pending = append(pending, mg)
		}
	}
	return pending, nil
}

// Run applies every pending migration and returns how many were applied.
// It stops at the first failure; earlier migrations stay applied.
func (m *Migrator) Run() (int, error) {
	pending, err := m.Pending()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.Debug("Schema is up to date")
		return 0, nil
	}

	for i, mg := range pending {
		m.logger.Info("Applying migration",
			zap.Int("version", mg.Version),
			zap.String("name", mg.Name))

		if err := m.apply(mg); err != nil {
			return i, fmt.Errorf("migration %03d_%s: %w", mg.Version, mg.Name, err)
		}
	}

	m.logger.Info("Database migrations completed", zap.Int("applied", len(pending)))
	return len(pending), nil
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}

		mg, err := parseMigrationName(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[mg.Version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", mg.Version, prev, e.Name())
		}
		seen[mg.Version] = e.Name()

		body, err := fs.ReadFile(m.source, path.Join(m.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		mg.SQL = string(body)
		out = append(out, mg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseMigrationName(filename string) (Migration, error) {
	base := strings.TrimSuffix(filename, ".sql")
	num, name, _ := strings.Cut(base, "_")

	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("invalid migration filename %q: want <version>_<name>.sql", filename)
	}
	return Migration{Version: version, Name: name}, nil
}

func (m *Migrator) apply(mg Migration) error {
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(mg.SQL); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, mg.Version, mg.Name); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}
