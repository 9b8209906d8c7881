package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/awsrt/awsrt/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRunConfig persists the parameter record of a new run
func (s *SQLiteStore) CreateRunConfig(ctx context.Context, cfg *engine.RunConfig) error {
	query := `
		INSERT INTO run_configs (
			run_id, env_id, fire_id, run_name, dt_seconds, horizon_steps,
			spread_prob, height, width, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cfg.RunID,
		cfg.EnvID,
		cfg.FireID,
		cfg.Name,
		cfg.StepSeconds,
		cfg.Horizon,
		cfg.SpreadProbability,
		cfg.Height,
		cfg.Width,
		cfg.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run config %s: %w", cfg.RunID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create run config: %w", err)
	}

	return nil
}

// GetRunConfig retrieves a run config by run ID
func (s *SQLiteStore) GetRunConfig(ctx context.Context, runID string) (*engine.RunConfig, error) {
	query := `
		SELECT run_id, env_id, fire_id, run_name, dt_seconds, horizon_steps,
			   spread_prob, height, width, created_at
		FROM run_configs
		WHERE run_id = ?
	`

	cfg, err := scanRunConfig(s.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run config not found: %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run config: %w", err)
	}

	return cfg, nil
}

// ListRunConfigs lists run configs with pagination, ordered by run ID
func (s *SQLiteStore) ListRunConfigs(ctx context.Context, limit, offset int) ([]*engine.RunConfig, error) {
	query := `
		SELECT run_id, env_id, fire_id, run_name, dt_seconds, horizon_steps,
			   spread_prob, height, width, created_at
		FROM run_configs
		ORDER BY run_id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run configs: %w", err)
	}
	defer rows.Close()

	configs := []*engine.RunConfig{}
	for rows.Next() {
		cfg, err := scanRunConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run configs: %w", err)
	}

	return configs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunConfig(row rowScanner) (*engine.RunConfig, error) {
	cfg := &engine.RunConfig{}
	err := row.Scan(
		&cfg.RunID,
		&cfg.EnvID,
		&cfg.FireID,
		&cfg.Name,
		&cfg.StepSeconds,
		&cfg.Horizon,
		&cfg.SpreadProbability,
		&cfg.Height,
		&cfg.Width,
		&cfg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeleteRun removes a run config together with its series and chunks
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64
	for _, query := range []string{
		`DELETE FROM field_series WHERE run_id = ?`,
		`DELETE FROM run_configs WHERE run_id = ?`,
	} {
		result, err := tx.ExecContext(ctx, query, runID)
		if err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		removed += rows
	}

	if removed == 0 {
		return fmt.Errorf("run not found: %s: %w", runID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// EnsureSeries creates the series row if absent and returns the stored row.
// An existing row is returned unchanged; callers compare its shape.
func (s *SQLiteStore) EnsureSeries(ctx context.Context, info *SeriesInfo) (*SeriesInfo, error) {
	query := `
		INSERT INTO field_series (run_id, name, dtype, height, width, tile_size, codec, length, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (run_id, name) DO NOTHING
	`

	createdAt := info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		info.RunID,
		info.Name,
		info.DType,
		info.Height,
		info.Width,
		info.TileSize,
		info.Codec,
		createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create series: %w", err)
	}

	return s.GetSeries(ctx, info.RunID, info.Name)
}

// GetSeries retrieves one series row
func (s *SQLiteStore) GetSeries(ctx context.Context, runID, name string) (*SeriesInfo, error) {
	query := `
		SELECT run_id, name, dtype, height, width, tile_size, codec, length, created_at
		FROM field_series
		WHERE run_id = ? AND name = ?
	`

	info := &SeriesInfo{}
	err := s.db.QueryRowContext(ctx, query, runID, name).Scan(
		&info.RunID,
		&info.Name,
		&info.DType,
		&info.Height,
		&info.Width,
		&info.TileSize,
		&info.Codec,
		&info.Length,
		&info.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("series not found: %s/%s: %w", runID, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series: %w", err)
	}

	return info, nil
}

// AppendSlices commits one slice per write in a single transaction.
// Each write's T must equal the current length of its series, otherwise
// nothing is committed and ErrConflict is returned.
func (s *SQLiteStore) AppendSlices(ctx context.Context, runID string, writes []SliceWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO field_chunks (run_id, series, t, tile_row, tile_col, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer insert.Close()

	for _, w := range writes {
		result, err := tx.ExecContext(ctx,
			`UPDATE field_series SET length = length + 1 WHERE run_id = ? AND name = ? AND length = ?`,
			runID, w.Series, w.T)
		if err != nil {
			return fmt.Errorf("failed to extend series %s: %w", w.Series, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var length int
			err := tx.QueryRowContext(ctx,
				`SELECT length FROM field_series WHERE run_id = ? AND name = ?`,
				runID, w.Series).Scan(&length)
			if err == sql.ErrNoRows {
				return fmt.Errorf("series not found: %s/%s: %w", runID, w.Series, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to read series length: %w", err)
			}
			return fmt.Errorf("series %s/%s has length %d, append expected %d: %w",
				runID, w.Series, length, w.T, ErrConflict)
		}

		for _, c := range w.Chunks {
			if _, err := insert.ExecContext(ctx, runID, w.Series, w.T, c.TileRow, c.TileCol, c.Data); err != nil {
				return fmt.Errorf("failed to write chunk (%d,%d) of %s[%d]: %w", c.TileRow, c.TileCol, w.Series, w.T, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit slices: %w", err)
	}
	return nil
}

// ReadChunks returns the tiles of one time slice ordered by tile position
func (s *SQLiteStore) ReadChunks(ctx context.Context, runID, series string, t int) ([]Chunk, error) {
	query := `
		SELECT tile_row, tile_col, data
		FROM field_chunks
		WHERE run_id = ? AND series = ? AND t = ?
		ORDER BY tile_row ASC, tile_col ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID, series, t)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.TileRow, &c.TileCol, &c.Data); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("slice not found: %s/%s[%d]: %w", runID, series, t, ErrNotFound)
	}

	return chunks, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO run_events (event_id, run_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.RunID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, run_id, type, level, message, details, timestamp
		FROM run_events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.RunID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

var _ Store = (*SQLiteStore)(nil)
