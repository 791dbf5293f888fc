// Package sqldb stores dashboards in a relational table through database/sql.
// It supports postgres (lib/pq) and sqlite (modernc.org/sqlite).
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"github.com/inferloop/dashengine/internal/storage/migrations"
	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// Supported drivers, as registered with database/sql.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLConfig holds configuration for SQL storage
type SQLConfig struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	TableName       string        `json:"table_name" mapstructure:"table_name"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// SQLStorage keeps one row per dashboard.
type SQLStorage struct {
	config *SQLConfig
	db     *sql.DB
	bind   migrations.Placeholder
	logger *logrus.Logger
	mu     sync.RWMutex
}

// NewSQLStorage creates a new SQL storage instance
func NewSQLStorage(config *SQLConfig, logger *logrus.Logger) (*SQLStorage, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("SQL config cannot be nil")
	}
	if config.DSN == "" {
		return nil, errors.NewStoreConfigError("SQL dsn is required")
	}
	if config.TableName == "" {
		config.TableName = "dashboards"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, errors.NewStoreConfigError(fmt.Sprintf("invalid table name %q", config.TableName))
	}

	s := &SQLStorage{config: config, logger: logger}
	switch config.Driver {
	case DriverPostgres:
		s.bind = migrations.Dollar
	case DriverSQLite:
		s.bind = migrations.Question
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY
		if config.MaxOpenConns == 0 {
			config.MaxOpenConns = 1
		}
	default:
		return nil, errors.NewStoreConfigError(fmt.Sprintf("unsupported SQL driver %q", config.Driver))
	}

	if s.logger == nil {
		s.logger = logrus.New()
	}
	return s, nil
}

// Connect opens the database and applies the schema migrations
func (s *SQLStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.config.Driver, s.config.DSN)
	if err != nil {
		return errors.NewStoreConnectionError(s.config.Driver, err)
	}
	if s.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.config.MaxOpenConns)
	}
	if s.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.config.MaxIdleConns)
	}
	if s.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewStoreConnectionError(s.config.Driver, err)
	}

	manager := migrations.NewMigrationManager(db, s.bind, &migrations.MigrationConfig{
		TableName: s.config.TableName + "_migrations",
	}, s.logger)
	for _, m := range s.schema() {
		if err := manager.RegisterMigration(m); err != nil {
			db.Close()
			return err
		}
	}
	status, err := manager.Migrate(ctx)
	if err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{
		"driver":         s.config.Driver,
		"table":          s.config.TableName,
		"schema_version": status.CurrentVersion,
	}).Info("Connected to SQL storage")
	return nil
}

func (s *SQLStorage) schema() []*migrations.Migration {
	table := s.config.TableName
	return []*migrations.Migration{
		migrations.NewMigration(1, "create_dashboards", "dashboard documents keyed by uid").
			Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	uid TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_ms BIGINT NOT NULL
)`, table)),
		migrations.NewMigration(2, "index_updated", "search orders by update time").
			Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_updated_idx ON %s (updated_ms DESC)", table, table)),
	}
}

// Close closes the database
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.WrapStorageError(err, "close", "failed to close SQL storage")
	}
	return nil
}

// Ping tests the database connection
func (s *SQLStorage) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.NewStoreConnectionError(s.config.Driver, err)
	}
	return nil
}

// Load returns the stored document for uid
func (s *SQLStorage) Load(ctx context.Context, uid string) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var data string
	err = db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE uid = %s", s.config.TableName, s.bind(1)), uid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	if err != nil {
		return nil, errors.NewStoreReadError(uid, err)
	}
	return []byte(data), nil
}

// Save inserts or replaces the row for uid
func (s *SQLStorage) Save(ctx context.Context, uid string, data []byte) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	fields := gjson.GetManyBytes(data, "title", "meta.updated")
	stmt := fmt.Sprintf(`INSERT INTO %s (uid, title, data, updated_ms) VALUES (%s, %s, %s, %s)
ON CONFLICT (uid) DO UPDATE SET title = excluded.title, data = excluded.data, updated_ms = excluded.updated_ms`,
		s.config.TableName, s.bind(1), s.bind(2), s.bind(3), s.bind(4))

	if _, err := db.ExecContext(ctx, stmt, uid, fields[0].String(), string(data), fields[1].Time().UnixMilli()); err != nil {
		return errors.NewStoreWriteError(uid, err)
	}
	return nil
}

// Delete removes the row for uid
func (s *SQLStorage) Delete(ctx context.Context, uid string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE uid = %s", s.config.TableName, s.bind(1)), uid); err != nil {
		return errors.NewStoreDeleteError(uid, err)
	}
	return nil
}

// Search scans rows newest first and filters the documents
func (s *SQLStorage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT uid, data FROM %s ORDER BY updated_ms DESC", s.config.TableName))
	if err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to query dashboards")
	}
	defer rows.Close()

	var entries []search.Entry
	for rows.Next() {
		var uid, data string
		if err := rows.Scan(&uid, &data); err != nil {
			return nil, errors.WrapStorageError(err, "search", "failed to scan dashboard row")
		}
		entries = append(entries, search.Entry{UID: uid, Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to query dashboards")
	}

	return search.Collect(entries, query, s.logger), nil
}

func (s *SQLStorage) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "SQL storage not connected")
	}
	return s.db, nil
}
