package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error {
	return createDeploymentLog(ctx, s.db, log)
}

func (s *SQLiteStore) GetDeploymentLog(ctx context.Context, id string) (*domain.DeploymentLog, error) {
	return getDeploymentLog(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error {
	return updateDeploymentLog(ctx, s.db, log)
}

func (s *SQLiteStore) DeleteDeploymentLog(ctx context.Context, id string) error {
	return deleteDeploymentLog(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeploymentLogs(ctx context.Context, opts ListOptions) ([]domain.DeploymentLog, error) {
	return listDeploymentLogs(ctx, s.db, "", opts)
}

func (s *SQLiteStore) ListDeploymentLogsByConfig(ctx context.Context, configID string, opts ListOptions) ([]domain.DeploymentLog, error) {
	return listDeploymentLogs(ctx, s.db, configID, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error {
	return createDeploymentLog(ctx, s.tx, log)
}

func (s *txSQLiteStore) GetDeploymentLog(ctx context.Context, id string) (*domain.DeploymentLog, error) {
	return getDeploymentLog(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error {
	return updateDeploymentLog(ctx, s.tx, log)
}

func (s *txSQLiteStore) DeleteDeploymentLog(ctx context.Context, id string) error {
	return deleteDeploymentLog(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeploymentLogs(ctx context.Context, opts ListOptions) ([]domain.DeploymentLog, error) {
	return listDeploymentLogs(ctx, s.tx, "", opts)
}

func (s *txSQLiteStore) ListDeploymentLogsByConfig(ctx context.Context, configID string, opts ListOptions) ([]domain.DeploymentLog, error) {
	return listDeploymentLogs(ctx, s.tx, configID, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction
	return fn(s)
}

func (s *txSQLiteStore) Ping(context.Context) error { return nil }

func (s *txSQLiteStore) Close() error {
	return NewStoreError("Close", "", "", "cannot close a transaction store", ErrTxFailed)
}

// =============================================================================
// Deployment Log Operations
// =============================================================================

// deploymentLogRow represents a deployment_logs row in the database.
type deploymentLogRow struct {
	ID                string  `db:"id"`
	ConfigID          string  `db:"config_id"`
	ConfigName        string  `db:"config_name"`
	Platform          string  `db:"platform"`
	Status            string  `db:"status"`
	URL               string  `db:"url"`
	StartTime         string  `db:"start_time"`
	EndTime           *string `db:"end_time"`
	DurationMS        int64   `db:"duration_ms"`
	Steps             *string `db:"steps"`
	Validations       *string `db:"validations"`
	HealthChecks      *string `db:"health_checks"`
	Logs              *string `db:"logs"`
	Error             *string `db:"error"`
	Build             *string `db:"build"`
	RollbackRequested bool    `db:"rollback_requested"`
	CreatedAt         string  `db:"created_at"`
	UpdatedAt         string  `db:"updated_at"`
}

func createDeploymentLog(ctx context.Context, exec executor, log *domain.DeploymentLog) error {
	row, err := deploymentLogToRow("CreateDeploymentLog", log)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployment_logs (
			id, config_id, config_name, platform, status, url,
			start_time, end_time, duration_ms,
			steps, validations, health_checks, logs, error, build,
			rollback_requested, created_at, updated_at
		) VALUES (
			:id, :config_id, :config_name, :platform, :status, :url,
			:start_time, :end_time, :duration_ms,
			:steps, :validations, :health_checks, :logs, :error, :build,
			:rollback_requested, :created_at, :updated_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployment_logs.id") {
			return NewStoreError("CreateDeploymentLog", "deployment_log", log.ID, "deployment log with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeploymentLog", "deployment_log", log.ID, err.Error(), err)
	}

	return nil
}

func getDeploymentLog(ctx context.Context, exec executor, id string) (*domain.DeploymentLog, error) {
	query := `SELECT * FROM deployment_logs WHERE id = ?`

	var row deploymentLogRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeploymentLog", "deployment_log", id, "deployment log not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeploymentLog", "deployment_log", id, err.Error(), err)
	}

	return rowToDeploymentLog(&row)
}

func updateDeploymentLog(ctx context.Context, exec executor, log *domain.DeploymentLog) error {
	row, err := deploymentLogToRow("UpdateDeploymentLog", log)
	if err != nil {
		return err
	}

	// created_at is kept from the original insert.
	query := `
		UPDATE deployment_logs SET
			config_id = :config_id, config_name = :config_name, platform = :platform,
			status = :status, url = :url,
			start_time = :start_time, end_time = :end_time, duration_ms = :duration_ms,
			steps = :steps, validations = :validations, health_checks = :health_checks,
			logs = :logs, error = :error, build = :build,
			rollback_requested = :rollback_requested, updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeploymentLog", "deployment_log", log.ID, err.Error(), err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewStoreError("UpdateDeploymentLog", "deployment_log", log.ID, "deployment log not found", ErrNotFound)
	}

	return nil
}

func deleteDeploymentLog(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM deployment_logs WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteDeploymentLog", "deployment_log", id, err.Error(), err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewStoreError("DeleteDeploymentLog", "deployment_log", id, "deployment log not found", ErrNotFound)
	}

	return nil
}

func listDeploymentLogs(ctx context.Context, exec executor, configID string, opts ListOptions) ([]domain.DeploymentLog, error) {
	opts = opts.Normalize()

	var where []string
	var args []any
	if configID != "" {
		where = append(where, "config_id = ?")
		args = append(args, configID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(opts.Platform))
	}

	query := `SELECT * FROM deployment_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []deploymentLogRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListDeploymentLogs", "deployment_log", "", err.Error(), err)
	}

	logs := make([]domain.DeploymentLog, 0, len(rows))
	for _, row := range rows {
		log, err := rowToDeploymentLog(&row)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}

	return logs, nil
}

// =============================================================================
// Row Mapping
// =============================================================================

func deploymentLogToRow(op string, log *domain.DeploymentLog) (map[string]any, error) {
	columns := map[string]any{
		"steps":         log.Steps,
		"validations":   log.Validations,
		"health_checks": log.HealthChecks,
		"logs":          log.Logs,
		"error":         log.Error,
		"build":         log.Build,
	}
	row := make(map[string]any, len(columns)+12)
	for name, v := range columns {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, NewStoreError(op, "deployment_log", log.ID, "failed to serialize "+name, ErrInvalidData)
		}
		row[name] = string(data)
	}

	var endTime *string
	if log.EndTime != nil {
		s := log.EndTime.UTC().Format(timeLayout)
		endTime = &s
	}

	now := time.Now().UTC().Format(timeLayout)
	row["id"] = log.ID
	row["config_id"] = log.ConfigID
	row["config_name"] = log.ConfigName
	row["platform"] = string(log.Platform)
	row["status"] = string(log.Status)
	row["url"] = log.URL
	row["start_time"] = log.StartTime.UTC().Format(timeLayout)
	row["end_time"] = endTime
	row["duration_ms"] = log.Duration.Milliseconds()
	row["rollback_requested"] = log.RollbackRequested
	row["created_at"] = now
	row["updated_at"] = now
	return row, nil
}

func rowToDeploymentLog(row *deploymentLogRow) (*domain.DeploymentLog, error) {
	startTime, _ := time.Parse(timeLayout, row.StartTime)

	var endTime *time.Time
	if row.EndTime != nil && *row.EndTime != "" {
		t, _ := time.Parse(timeLayout, *row.EndTime)
		endTime = &t
	}

	log := &domain.DeploymentLog{
		ID:                row.ID,
		ConfigID:          row.ConfigID,
		ConfigName:        row.ConfigName,
		Platform:          domain.HostingPlatform(row.Platform),
		Status:            domain.DeploymentStatus(row.Status),
		URL:               row.URL,
		StartTime:         startTime,
		EndTime:           endTime,
		Duration:          time.Duration(row.DurationMS) * time.Millisecond,
		RollbackRequested: row.RollbackRequested,
	}

	fields := []struct {
		name string
		raw  *string
		dest any
	}{
		{"steps", row.Steps, &log.Steps},
		{"validations", row.Validations, &log.Validations},
		{"health_checks", row.HealthChecks, &log.HealthChecks},
		{"logs", row.Logs, &log.Logs},
		{"error", row.Error, &log.Error},
		{"build", row.Build, &log.Build},
	}
	for _, f := range fields {
		if f.raw == nil || *f.raw == "" || *f.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(*f.raw), f.dest); err != nil {
			return nil, NewStoreError("rowToDeploymentLog", "deployment_log", row.ID, "failed to parse "+f.name, ErrInvalidData)
		}
	}

	return log, nil
}
