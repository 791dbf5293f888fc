package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/pkg/errors"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// Dollar renders postgres-style placeholders.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question renders sqlite-style placeholders.
func Question(int) string { return "?" }

// MigrationManager applies versioned schema changes to a database
type MigrationManager struct {
	db         *sql.DB
	logger     *logrus.Logger
	migrations map[int]*Migration
	config     *MigrationConfig
	bind       Placeholder
}

// Migration is one forward-only schema change.
type Migration struct {
	Version     int    `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Statements  []string
}

// MigrationConfig contains migration configuration
type MigrationConfig struct {
	TableName string `json:"table_name"`
	DryRun    bool   `json:"dry_run"`
}

// MigrationRecord represents a migration record in the database
type MigrationRecord struct {
	Version   int       `json:"version" db:"version"`
	Name      string    `json:"name" db:"name"`
	Checksum  string    `json:"checksum" db:"checksum"`
	AppliedAt time.Time `json:"applied_at" db:"applied_at"`
}

// MigrationStatus represents the status of migrations
type MigrationStatus struct {
	CurrentVersion    int                `json:"current_version"`
	PendingCount      int                `json:"pending_count"`
	AppliedCount      int                `json:"applied_count"`
	PendingMigrations []*Migration       `json:"pending_migrations"`
	AppliedMigrations []*MigrationRecord `json:"applied_migrations"`
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, bind Placeholder, config *MigrationConfig, logger *logrus.Logger) *MigrationManager {
	if config == nil {
		config = &MigrationConfig{}
	}
	if config.TableName == "" {
		config.TableName = "schema_migrations"
	}

	if logger == nil {
		logger = logrus.New()
	}
	if bind == nil {
		bind = Question
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: make(map[int]*Migration),
		config:     config,
		bind:       bind,
	}
}

// NewMigration starts a migration definition
func NewMigration(version int, name, description string) *Migration {
	return &Migration{
		Version:     version,
		Name:        name,
		Description: description,
	}
}

// Exec appends a statement to run when the migration is applied
func (m *Migration) Exec(statement string) *Migration {
	m.Statements = append(m.Statements, statement)
	return m
}

// Checksum identifies the migration's statements.
func (m *Migration) Checksum() string {
	h := sha256.New()
	for _, s := range m.Statements {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// RegisterMigration registers a new migration
func (m *MigrationManager) RegisterMigration(migration *Migration) error {
	if migration.Version <= 0 {
		return errors.NewValidationError("version", "migration version must be positive")
	}
	if migration.Name == "" {
		return errors.NewValidationError("name", "migration name cannot be empty")
	}
	if len(migration.Statements) == 0 {
		return errors.NewValidationError("statements", "migration has no statements")
	}
	if _, exists := m.migrations[migration.Version]; exists {
		e := errors.NewValidationError("version", fmt.Sprintf("migration %d already registered", migration.Version))
		e.Code = errors.CodeDuplicate
		return e
	}

	m.migrations[migration.Version] = migration
	return nil
}

// Migrate applies every pending migration in version order. Each migration
// runs in its own transaction together with its bookkeeping row.
func (m *MigrationManager) Migrate(ctx context.Context) (*MigrationStatus, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return nil, err
	}

	status, err := m.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	for _, migration := range status.PendingMigrations {
		if m.config.DryRun {
			m.logger.WithField("version", migration.Version).Info("Dry run: would apply migration")
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return nil, err
		}
	}

	return m.GetStatus(ctx)
}

// GetStatus compares registered migrations with the applied ones
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		AppliedMigrations: applied,
		AppliedCount:      len(applied),
	}
	done := make(map[int]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
		if r.Version > status.CurrentVersion {
			status.CurrentVersion = r.Version
		}
		if mig, ok := m.migrations[r.Version]; ok && mig.Checksum() != r.Checksum {
			m.logger.WithFields(logrus.Fields{
				"version": r.Version,
				"name":    r.Name,
			}).Warn("Applied migration differs from the registered one")
		}
	}

	for _, mig := range m.ListMigrations() {
		if !done[mig.Version] {
			status.PendingMigrations = append(status.PendingMigrations, mig)
		}
	}
	status.PendingCount = len(status.PendingMigrations)
	return status, nil
}

// ListMigrations returns registered migrations in version order
func (m *MigrationManager) ListMigrations() []*Migration {
	out := make([]*Migration, 0, len(m.migrations))
	for _, mig := range m.migrations {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at BIGINT NOT NULL
)`, m.config.TableName)

	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return errors.WrapStorageError(err, "migrate", "failed to create migration table")
	}
	return nil
}

func (m *MigrationManager) getAppliedMigrations(ctx context.Context) ([]*MigrationRecord, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, name, checksum, applied_at FROM %s ORDER BY version", m.config.TableName))
	if err != nil {
		return nil, errors.WrapStorageError(err, "migrate", "failed to read applied migrations")
	}
	defer rows.Close()

	var records []*MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt int64
		if err := rows.Scan(&r.Version, &r.Name, &r.Checksum, &appliedAt); err != nil {
			return nil, errors.WrapStorageError(err, "migrate", "failed to scan migration record")
		}
		r.AppliedAt = time.UnixMilli(appliedAt).UTC()
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorageError(err, "migrate", "failed to read applied migrations")
	}
	return records, nil
}

func (m *MigrationManager) runMigration(ctx context.Context, migration *Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStorageError(err, "migrate", "failed to begin migration")
	}
	defer tx.Rollback()

	for _, stmt := range migration.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.WrapStorageError(fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err),
				"migrate", "migration failed")
		}
	}

	record := fmt.Sprintf("INSERT INTO %s (version, name, checksum, applied_at) VALUES (%s, %s, %s, %s)",
		m.config.TableName, m.bind(1), m.bind(2), m.bind(3), m.bind(4))
	if _, err := tx.ExecContext(ctx, record, migration.Version, migration.Name, migration.Checksum(), time.Now().UnixMilli()); err != nil {
		return errors.WrapStorageError(err, "migrate", "failed to record migration")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapStorageError(err, "migrate", "failed to commit migration")
	}

	m.logger.WithFields(logrus.Fields{
		"version":  migration.Version,
		"name":     migration.Name,
		"duration": time.Since(start),
	}).Info("Applied migration")
	return nil
}
