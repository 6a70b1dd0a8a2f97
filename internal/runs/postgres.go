package runs

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"mvrender/internal/httpkit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

type PGStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PGStore{db: pool}, nil
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, r *Run) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO render_runs (id, project_id, project_name, bucket, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, r.ID, r.ProjectID, r.ProjectName, r.Bucket, r.Status).Scan(&r.CreatedAt)

	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return ErrRunExists
		}
		return err
	}
	return nil
}

func (s *PGStore) Start(ctx context.Context, r Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO render_runs (id, project_id, project_name, bucket, status, started_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE
		SET status=EXCLUDED.status, started_at=EXCLUDED.started_at
	`, r.ID, r.ProjectID, r.ProjectName, r.Bucket, StatusRunning)
	return err
}

func (s *PGStore) SetRemoteJob(ctx context.Context, id, jobID string) error {
	return s.update(ctx, `UPDATE render_runs SET remote_job_id=$2 WHERE id=$1`, id, jobID)
}

func (s *PGStore) SetProgress(ctx context.Context, id string, pct int) error {
	return s.update(ctx, `UPDATE render_runs SET progress=$2 WHERE id=$1`, id, pct)
}

func (s *PGStore) Finish(ctx context.Context, id string, status Status, videoKey, errText string) error {
	progress := 0
	if status == StatusSucceeded {
		progress = 100
	}
	return s.update(ctx, `
		UPDATE render_runs
		SET status=$2, video_key=$3, error_text=$4, finished_at=now(),
		    progress=GREATEST(progress, $5)
		WHERE id=$1
	`, id, status, videoKey, errText, progress)
}

func (s *PGStore) update(ctx context.Context, sql string, args ...any) error {
	cmd, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

const pgColumns = `id, project_id, project_name, bucket, status, progress,
	remote_job_id, video_key, error_text, created_at, started_at, finished_at`

func (s *PGStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pgColumns+` FROM render_runs WHERE id=$1`, id)
	r, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) ListByProject(ctx context.Context, projectID string, limit int) ([]Run, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+pgColumns+`
		FROM render_runs
		WHERE project_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		r, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PGStore) Close() { s.db.Close() }

func scanPG(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID,
		&r.ProjectID,
		&r.ProjectName,
		&r.Bucket,
		&r.Status,
		&r.Progress,
		&r.RemoteJobID,
		&r.VideoKey,
		&r.ErrorText,
		&r.CreatedAt,
		&r.StartedAt,
		&r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
