package runs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore is the single-host ledger. Timestamps are stored as
// RFC 3339 UTC text.
type SQLiteStore struct {
	conn *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return time.Now().UTC().Format(timeLayout) }

func (s *SQLiteStore) Create(ctx context.Context, r *Run) error {
	created := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO render_runs (id, project_id, project_name, bucket, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.ProjectID, r.ProjectName, r.Bucket, string(r.Status), created.Format(timeLayout))
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunExists
	}
	r.CreatedAt = created
	return nil
}

func (s *SQLiteStore) Start(ctx context.Context, r Run) error {
	ts := now()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO render_runs (id, project_id, project_name, bucket, status, created_at, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET status = excluded.status, started_at = excluded.started_at
	`, r.ID, r.ProjectID, r.ProjectName, r.Bucket, string(StatusRunning), ts, ts)
	return err
}

func (s *SQLiteStore) SetRemoteJob(ctx context.Context, id, jobID string) error {
	return s.update(ctx, `UPDATE render_runs SET remote_job_id = ? WHERE id = ?`, jobID, id)
}

func (s *SQLiteStore) SetProgress(ctx context.Context, id string, pct int) error {
	return s.update(ctx, `UPDATE render_runs SET progress = ? WHERE id = ?`, pct, id)
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, status Status, videoKey, errText string) error {
	progress := 0
	if status == StatusSucceeded {
		progress = 100
	}
	return s.update(ctx, `
		UPDATE render_runs
		SET status = ?, video_key = ?, error_text = ?, finished_at = ?,
		    progress = MAX(progress, ?)
		WHERE id = ?
	`, string(status), videoKey, errText, now(), progress, id)
}

func (s *SQLiteStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

const sqliteColumns = `id, project_id, project_name, bucket, status, progress,
	remote_job_id, video_key, error_text, created_at, started_at, finished_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM render_runs WHERE id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListByProject(ctx context.Context, projectID string, limit int) ([]Run, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM render_runs
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

func (s *SQLiteStore) Close() { _ = s.conn.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*Run, error) {
	var (
		r                 Run
		status, created   string
		started, finished sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.ProjectID,
		&r.ProjectName,
		&r.Bucket,
		&status,
		&r.Progress,
		&r.RemoteJobID,
		&r.VideoKey,
		&r.ErrorText,
		&created,
		&started,
		&finished,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.StartedAt, err = parseNullTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &r, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
