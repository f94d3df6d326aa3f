package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/twmb/murmur3"
)

// Migration represents a single schema change. Up and Down are rendered per
// driver because sqlite and postgres disagree on identity columns and
// timestamp types.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// Checksum fingerprints the Up script recorded in schema_migrations.
func (m Migration) Checksum() string {
	return fmt.Sprintf("%016x", murmur3.StringSum64(m.Up))
}

// MigrationStatus summarizes applied versus available migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	AppliedCount   int
	AvailableCount int
	PendingCount   int
}

func (s MigrationStatus) UpToDate() bool {
	return s.PendingCount == 0
}

// MigrationRunner handles database migrations
type MigrationRunner struct {
	db     *sqlx.DB
	driver string
	log    *logger.Logger
}

func NewMigrationRunner(db *sqlx.DB, driver string, log *logger.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:     db,
		driver: driver,
		log:    log,
	}
}

type dialect struct {
	serial    string
	fkID      string
	timestamp string
}

func dialectFor(driver string) dialect {
	if driver == "postgres" {
		return dialect{serial: "BIGSERIAL PRIMARY KEY", fkID: "BIGINT", timestamp: "TIMESTAMPTZ"}
	}
	return dialect{serial: "INTEGER PRIMARY KEY AUTOINCREMENT", fkID: "INTEGER", timestamp: "TIMESTAMP"}
}

// GetAllMigrations returns all migrations for driver in version order.
func GetAllMigrations(driver string) []Migration {
	d := dialectFor(driver)

	return []Migration{
		{
			Version:     1,
			Description: "Create targets, parameters and vulnerabilities tables",
			Up: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS targets (
					id %[1]s,
					url TEXT NOT NULL UNIQUE,
					domain TEXT NOT NULL DEFAULT '',
					discovered_at %[3]s NOT NULL
				);

				CREATE TABLE IF NOT EXISTS parameters (
					id %[1]s,
					url TEXT NOT NULL,
					name TEXT NOT NULL,
					category TEXT,
					risk_tier TEXT,
					discovered_at %[3]s NOT NULL,
					UNIQUE (url, name)
				);

				CREATE TABLE IF NOT EXISTS vulnerabilities (
					id %[1]s,
					parameter_id %[2]s NOT NULL REFERENCES parameters(id) ON DELETE RESTRICT,
					vulnerability_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					poc TEXT NOT NULL DEFAULT '',
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					discovered_at %[3]s NOT NULL
				);
			`, d.serial, d.fkID, d.timestamp),
			Down: `
				DROP TABLE IF EXISTS vulnerabilities;
				DROP TABLE IF EXISTS parameters;
				DROP TABLE IF EXISTS targets;
			`,
		},
		{
			Version:     2,
			Description: "Add lookup indexes for classification and findings",
			Up: `
				CREATE INDEX IF NOT EXISTS idx_parameters_category ON parameters(category);
				CREATE INDEX IF NOT EXISTS idx_parameters_risk_tier ON parameters(risk_tier);
				CREATE INDEX IF NOT EXISTS idx_vulnerabilities_parameter_id ON vulnerabilities(parameter_id);
				CREATE INDEX IF NOT EXISTS idx_vulnerabilities_severity ON vulnerabilities(severity);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_parameters_category;
				DROP INDEX IF EXISTS idx_parameters_risk_tier;
				DROP INDEX IF EXISTS idx_vulnerabilities_parameter_id;
				DROP INDEX IF EXISTS idx_vulnerabilities_severity;
			`,
		},
	}
}

func (mr *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum TEXT NOT NULL
		);
	`
	if _, err := mr.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (mr *MigrationRunner) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := mr.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// RunMigrations applies every pending migration, each in its own transaction.
func (mr *MigrationRunner) RunMigrations(ctx context.Context) error {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	all := GetAllMigrations(mr.driver)
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })

	pendingCount := 0
	for _, m := range all {
		if !applied[m.Version] {
			pendingCount++
		}
	}

	if pendingCount == 0 {
		mr.log.Debugw("Database schema is up to date",
			"component", "migrations",
			"latest_version", all[len(all)-1].Version,
		)
		return nil
	}

	mr.log.Infow("Found pending migrations",
		"component", "migrations",
		"pending_count", pendingCount,
	)

	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := mr.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
	}

	mr.log.Infow("All migrations applied successfully",
		"component", "migrations",
		"migrations_applied", pendingCount,
	)
	return nil
}

func (mr *MigrationRunner) applyMigration(ctx context.Context, m Migration) error {
	mr.log.Infow("Applying migration",
		"component", "migrations",
		"version", m.Version,
		"description", m.Description,
	)

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		mr.log.Errorw("Migration failed",
			"component", "migrations",
			"version", m.Version,
			"error", err,
		)
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	recordQuery := tx.Rebind(`
		INSERT INTO schema_migrations (version, description, applied_at, checksum)
		VALUES (?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, recordQuery, m.Version, m.Description, time.Now().UTC(), m.Checksum()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	mr.log.Infow("Migration applied successfully",
		"component", "migrations",
		"version", m.Version,
	)
	return nil
}

func (mr *MigrationRunner) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	all := GetAllMigrations(mr.driver)
	status := &MigrationStatus{
		AppliedCount:   len(applied),
		AvailableCount: len(all),
	}

	for _, m := range all {
		if m.Version > status.LatestVersion {
			status.LatestVersion = m.Version
		}
		if !applied[m.Version] {
			status.PendingCount++
		}
	}
	for v := range applied {
		if v > status.CurrentVersion {
			status.CurrentVersion = v
		}
	}

	return status, nil
}

// RollbackMigration undoes one applied migration.
func (mr *MigrationRunner) RollbackMigration(ctx context.Context, version int) error {
	mr.log.Warnw("Rolling back migration",
		"component", "migrations",
		"version", version,
	)

	var migration *Migration
	for _, m := range GetAllMigrations(mr.driver) {
		if m.Version == version {
			m := m
			migration = &m
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	if migration.Down == "" {
		return fmt.Errorf("migration version %d has no rollback SQL", version)
	}

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM schema_migrations WHERE version = ?"), version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	mr.log.Infow("Migration rolled back successfully",
		"component", "migrations",
		"version", version,
	)
	return nil
}
