// Package runs keeps a ledger of render pipeline executions.
package runs

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
)

type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Bucket      string     `json:"bucket"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	RemoteJobID string     `json:"remote_job_id,omitempty"`
	VideoKey    string     `json:"video_key,omitempty"`
	ErrorText   string     `json:"error_text,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (r *Run) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Recorder is the write side used while a run executes.
type Recorder interface {
	// Start marks the run RUNNING, inserting it first if it was never queued.
	Start(ctx context.Context, r Run) error
	SetRemoteJob(ctx context.Context, id, jobID string) error
	SetProgress(ctx context.Context, id string, pct int) error
	Finish(ctx context.Context, id string, status Status, videoKey, errText string) error
}

type Store interface {
	Recorder
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]Run, error)
	Ping(ctx context.Context) error
	Close()
}

// Nop is used when no ledger database is configured.
type Nop struct{}

func (Nop) Start(context.Context, Run) error                             { return nil }
func (Nop) SetRemoteJob(context.Context, string, string) error           { return nil }
func (Nop) SetProgress(context.Context, string, int) error               { return nil }
func (Nop) Finish(context.Context, string, Status, string, string) error { return nil }
func (Nop) Create(context.Context, *Run) error                           { return nil }
func (Nop) Get(context.Context, string) (*Run, error)                    { return nil, ErrRunNotFound }
func (Nop) ListByProject(context.Context, string, int) ([]Run, error)    { return nil, nil }
func (Nop) Ping(context.Context) error                                   { return nil }
func (Nop) Close()                                                       {}
