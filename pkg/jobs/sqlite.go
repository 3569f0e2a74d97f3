package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/studio/internal/observability"
	"github.com/harun/studio/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
	// SQLite serializes writers; the mutex keeps read-merge-write atomic
	// without relying on busy retries.
	mu sync.Mutex
}

// Open opens (or creates) the job database at path.
func Open(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "jobs").Logger(),
		now:    time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			kind TEXT NOT NULL,
			project_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, project_id, job_id)
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Update merges fields into the record, creating it when missing.
func (s *SQLiteStore) Update(ctx context.Context, kind, projectID, jobID string, fields Fields) error {
	if kind == "" || projectID == "" || jobID == "" {
		return errors.New("kind, project id and job id are required")
	}

	ctx, span := tracing.StartSpan(ctx, "studio.jobs", "jobs.update",
		attribute.String("job.kind", kind),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	data := Fields{}
	var raw string
	var status string
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		"SELECT data, status, created_at FROM jobs WHERE kind = ? AND project_id = ? AND job_id = ?",
		kind, projectID, jobID,
	).Scan(&raw, &status, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now.UnixMilli()
		data["id"] = jobID
		data["created_at"] = now.Format(time.RFC3339)
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("failed to load job: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", jobID, err)
		}
	}

	for k, v := range fields {
		data[k] = v
	}
	data["updated_at"] = now.Format(time.RFC3339)

	newStatus, _ := fields["status"].(string)
	if newStatus != "" {
		status = newStatus
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (kind, project_id, job_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, project_id, job_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		kind, projectID, jobID, status, string(encoded), createdAt, now.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job update: %w", err)
	}

	observability.RecordJobUpdate(kind, newStatus)
	if newStatus != "" {
		observability.RecordJobAudit(ctx, kind, projectID, jobID, newStatus)
		s.logger.Debug().
			Str("kind", kind).
			Str("project_id", projectID).
			Str("job_id", jobID).
			Str("status", newStatus).
			Msg("Job status changed")
	}

	return nil
}

// Get returns the stored record or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, kind, projectID, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT kind, project_id, job_id, status, data, created_at, updated_at FROM jobs WHERE kind = ? AND project_id = ? AND job_id = ?",
		kind, projectID, jobID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns a project's records of one kind, newest first. An empty kind lists all kinds.
func (s *SQLiteStore) List(ctx context.Context, projectID, kind string) ([]*Record, error) {
	query := "SELECT kind, project_id, job_id, status, data, created_at, updated_at FROM jobs WHERE project_id = ?"
	args := []interface{}{projectID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC, job_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		raw       string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.Kind, &rec.ProjectID, &rec.JobID, &rec.Status, &raw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", rec.JobID, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}
