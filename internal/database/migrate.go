package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jscharber/convosense/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const schemaMigrationsTable = "schema_migrations"

// requiredTables must exist once every migration has been applied.
var requiredTables = []string{"conversations"}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
	Applied   bool      `json:"applied"`
}

// migration is one embedded SQL file. Files are named <version>_<name>.sql.
type migration struct {
	version string
	name    string
	file    string
}

func parseMigration(file string) (migration, error) {
	base := strings.TrimSuffix(path.Base(file), ".sql")
	version, name, _ := strings.Cut(base, "_")
	if _, err := strconv.Atoi(version); err != nil {
		return migration{}, fmt.Errorf("migration %s: version prefix must be numeric", file)
	}
	return migration{version: version, name: name, file: file}, nil
}

func (m migration) order() int {
	n, _ := strconv.Atoi(m.version)
	return n
}

// Migrator applies the embedded SQL migrations to PostgreSQL through lib/pq.
type Migrator struct {
	db     *sql.DB
	config *Config
	logger *logger.Logger
}

// NewMigrator opens a dedicated connection for migrations.
func NewMigrator(ctx context.Context, config *Config, log *logger.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if log == nil {
		log = logger.GetDefault()
	}

	return &Migrator{
		db:     db,
		config: config,
		logger: log.WithField("component", "migrator"),
	}, nil
}

// Close closes the migrator's database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}

// GetMigrationFiles returns the embedded migration files in version order.
func (m *Migrator) GetMigrationFiles() ([]string, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	files := make([]string, len(migrations))
	for i, mig := range migrations {
		files[i] = mig.file
	}
	return files, nil
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}

	migrations := make([]migration, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, file := range entries {
		mig, err := parseMigration(file)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[mig.version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %s", other, file, mig.version)
		}
		seen[mig.version] = file
		migrations = append(migrations, mig)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].order() < migrations[j].order()
	})
	return migrations, nil
}

// GetAppliedMigrations returns all applied migrations
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", schemaMigrationsTable, err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM "+schemaMigrationsTable+" ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []MigrationStatus
	for rows.Next() {
		status := MigrationStatus{Applied: true}
		if err := rows.Scan(&status.Version, &status.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied = append(applied, status)
	}
	return applied, rows.Err()
}

// GetMigrationStatus returns the status of every embedded migration.
func (m *Migrator) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]MigrationStatus, len(applied))
	for _, status := range applied {
		byVersion[status.Version] = status
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		status, ok := byVersion[mig.version]
		if !ok {
			status = MigrationStatus{Version: mig.version}
		}
		status.Name = mig.name
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Migrator) pending(ctx context.Context) ([]migration, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, status := range applied {
		done[status.Version] = true
	}

	var pending []migration
	for _, mig := range migrations {
		if !done[mig.version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// GetPendingMigrations returns the files not yet applied, in version order.
func (m *Migrator) GetPendingMigrations(ctx context.Context) ([]string, error) {
	pending, err := m.pending(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(pending))
	for i, mig := range pending {
		files[i] = mig.file
	}
	return files, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.MigrateUp(ctx, -1)
}

// MigrateUp runs at most count pending migrations; a negative count runs them all.
func (m *Migrator) MigrateUp(ctx context.Context, count int) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}
	if len(pending) == 0 {
		m.logger.Info("No pending migrations to run")
		return nil
	}
	if count >= 0 && count < len(pending) {
		pending = pending[:count]
	}

	m.logger.WithField("count", len(pending)).Info("Running pending migrations")
	for _, mig := range pending {
		start := time.Now()
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", mig.file, err)
		}
		m.logger.WithFields(map[string]interface{}{
			"version":     mig.version,
			"name":        mig.name,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Applied migration")
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (m *Migrator) apply(ctx context.Context, mig migration) error {
	content, err := migrationFiles.ReadFile(mig.file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+schemaMigrationsTable+" (version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		mig.version, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+schemaMigrationsTable+` (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Reset drops the public schema's tables and re-runs every migration. All data is lost.
func (m *Migrator) Reset(ctx context.Context) error {
	m.logger.Warn("Dropping all tables before re-running migrations")

	tables, err := m.publicTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q CASCADE", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	return m.Migrate(ctx)
}

func (m *Migrator) publicTables(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT tablename FROM pg_tables WHERE schemaname = 'public'")
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ValidateDatabase checks that every migration is applied and the expected tables exist.
func (m *Migrator) ValidateDatabase(ctx context.Context) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	var problems []error
	if len(pending) > 0 {
		problems = append(problems, fmt.Errorf("%d migrations pending, first is %s", len(pending), pending[0].file))
	}
	for _, table := range requiredTables {
		var exists bool
		if err := m.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			problems = append(problems, fmt.Errorf("required table %s does not exist", table))
		}
	}
	return errors.Join(problems...)
}
