// Package deforum is a client for the Deforum extension's batch API and the
// render settings it consumes.
package deforum

// Phase values reported by the API. The list is informational; unknown
// values are passed through untouched.
const (
	PhaseQueued         = "QUEUED"
	PhasePreparing      = "PREPARING"
	PhaseGenerating     = "GENERATING"
	PhasePostProcessing = "POST_PROCESSING"
	PhaseDone           = "DONE"
)

// Status values reported by the API.
const (
	StatusAccepted  = "ACCEPTED"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

type BatchRequest struct {
	DeforumSettings  Settings       `json:"deforum_settings"`
	OptionsOverrides map[string]any `json:"options_overrides"`
	SettingsOverride map[string]any `json:"settings_overrides,omitempty"`
}

type BatchResponse struct {
	Message string   `json:"message,omitempty"`
	BatchID string   `json:"batch_id,omitempty"`
	JobIDs  []string `json:"job_ids"`
}

type JobStatus struct {
	ID            string  `json:"id"`
	Phase         string  `json:"phase"`
	Status        string  `json:"status"`
	ErrorType     string  `json:"error_type,omitempty"`
	PhaseProgress float64 `json:"phase_progress,omitempty"`
	Message       string  `json:"message,omitempty"`
	Outdir        string  `json:"outdir,omitempty"`
	Timestring    string  `json:"timestring,omitempty"`
}

func (j *JobStatus) Done() bool   { return j.Phase == PhaseDone }
func (j *JobStatus) Failed() bool { return j.Status == StatusFailed }
