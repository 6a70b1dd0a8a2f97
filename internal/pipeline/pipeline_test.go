package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mvrender/internal/adapters/storage/localfs"
	"mvrender/internal/deforum"
	"mvrender/internal/pkg/errors"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/ports"
	"mvrender/internal/retry"
	"mvrender/internal/status"
)

const (
	testProjectID = "850b5eb8-9dbf-4ce2-add4-a5087d4d8e86"
	testBucket    = "blob.example.org"
)

// fakeDeforum serves the batch API with a scripted sequence of job states.
type fakeDeforum struct {
	mu        sync.Mutex
	batchCode int
	jobIDs    []string
	jobs      []deforum.JobStatus
	posts     []map[string]any
	gets      int
	deletes   []string
}

func (f *fakeDeforum) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deforum_api/batches":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.posts = append(f.posts, body)
			if f.batchCode != 0 && f.batchCode != http.StatusAccepted {
				w.WriteHeader(f.batchCode)
				_, _ = w.Write([]byte(`{"detail":"busy"}`))
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(deforum.BatchResponse{Message: "ok", BatchID: "batch(1)", JobIDs: f.jobIDs})

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/deforum_api/jobs/"):
			i := f.gets
			if i >= len(f.jobs) {
				i = len(f.jobs) - 1
			}
			f.gets++
			_ = json.NewEncoder(w).Encode(f.jobs[i])

		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/deforum_api/jobs/"):
			f.deletes = append(f.deletes, strings.TrimPrefix(r.URL.Path, "/deforum_api/jobs/"))
			_, _ = w.Write([]byte(`{"id":"j1","message":"Job cancelled."}`))

		default:
			http.NotFound(w, r)
		}
	})
}

type statusCall struct {
	path string
	body map[string]any
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
}

func (f *fakeStatus) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c := statusCall{path: r.URL.Path}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		f.calls = append(f.calls, c)
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fakeStatus) progress() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		if v, ok := c.body["percentage"].(float64); ok {
			out = append(out, int(v))
		}
	}
	return out
}

func (f *fakeStatus) outcome(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no status updates were sent")
	}
	last := f.calls[len(f.calls)-1]
	if _, ok := last.body["success"]; !ok {
		t.Fatalf("last status update is not an outcome: %v", last.body)
	}
	return last.body
}

type harness struct {
	deforum  *fakeDeforum
	status   *fakeStatus
	storage  *localfs.LocalFS
	root     string
	dataDir  string
	sleeps   []time.Duration
	runner   *Runner
	settings string
}

func newHarness(t *testing.T, df *fakeDeforum) *harness {
	t.Helper()

	h := &harness{
		deforum:  df,
		status:   &fakeStatus{},
		root:     t.TempDir(),
		dataDir:  t.TempDir(),
		settings: `{"max_frames": 100, "batch_name": "b1", "prompts": {"0": "a cat"}}`,
	}
	h.storage = localfs.New(h.root)

	dfServer := httptest.NewServer(df.handler())
	t.Cleanup(dfServer.Close)
	stServer := httptest.NewServer(h.status.handler())
	t.Cleanup(stServer.Close)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(100 * time.Second)
		return clock
	}

	h.runner = New(Deps{
		Storage:  h.storage,
		Renderer: deforum.NewHTTPClient(dfServer.URL),
		Status:   status.NewHTTPClient(stServer.URL, "token"),
		Log:      logger.Discard(),
		Options: Options{
			DataDir:       h.dataDir,
			Submit:        retry.Policy{MaxAttempts: 3, Delay: 15 * time.Second},
			PollInterval:  5 * time.Second,
			PerFrame:      5 * time.Second,
			CleanupFrames: true,
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
		Now: now,
	})
	return h
}

func (h *harness) seedAssets(t *testing.T) {
	t.Helper()
	put := func(key, body string) {
		_, err := h.storage.PutObject(context.Background(), ports.PutObjectInput{
			Bucket:    testBucket,
			ObjectKey: key,
			Reader:    strings.NewReader(body),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	put("Project.Audio/"+testProjectID, "ID3-audio")
	put("Project.Finalized.Settings/"+testProjectID, h.settings)
}

func (h *harness) seedProject(t *testing.T, projectID string) {
	t.Helper()
	for key, body := range map[string]string{
		"Project.Audio/" + projectID:              "ID3-audio",
		"Project.Finalized.Settings/" + projectID: h.settings,
	} {
		_, err := h.storage.PutObject(context.Background(), ports.PutObjectInput{
			Bucket:    testBucket,
			ObjectKey: key,
			Reader:    strings.NewReader(body),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

// renderOutput plays the rendering engine: frames plus the final video.
func (h *harness) renderOutput(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(h.dataDir, "outputs", "img2img-images", "b1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"000000001.png", "000000002.png", "000000003.jpg", "b1.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func project() Project {
	return Project{ID: testProjectID, Name: "Project", Bucket: testBucket}
}

func running() deforum.JobStatus {
	return deforum.JobStatus{ID: "j1", Phase: deforum.PhaseGenerating, Status: "RUNNING"}
}

func TestRun_Success(t *testing.T) {
	df := &fakeDeforum{
		jobIDs: []string{"j1"},
		jobs: []deforum.JobStatus{
			running(),
			running(),
			{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded},
		},
	}
	h := newHarness(t, df)
	h.seedAssets(t)
	outDir := h.renderOutput(t)

	res, err := h.runner.Run(context.Background(), project())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.JobID != "j1" || res.VideoFileName != "Project.mp4" {
		t.Errorf("result = %+v", res)
	}
	if res.RunID == "" {
		t.Error("run id should be assigned")
	}

	// Batch carried the original settings plus the local soundtrack.
	if len(df.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(df.posts))
	}
	ds, _ := df.posts[0]["deforum_settings"].(map[string]any)
	soundtrack, _ := ds["soundtrack_path"].(string)
	if !filepath.IsAbs(soundtrack) || filepath.Base(soundtrack) != "audio.mp3" {
		t.Errorf("soundtrack_path = %q", soundtrack)
	}
	if ds["batch_name"] != "b1" || ds["prompts"] == nil {
		t.Errorf("settings not forwarded verbatim: %v", ds)
	}

	// Immediate first poll, then two more separated by the poll interval.
	if df.gets != 3 {
		t.Errorf("gets = %d, want 3", df.gets)
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 5*time.Second {
		t.Errorf("sleeps = %v", h.sleeps)
	}

	pcts := h.status.progress()
	if len(pcts) != 2 {
		t.Fatalf("progress updates = %v, want 2", pcts)
	}
	for i, p := range pcts {
		if p < 0 || p > 99 {
			t.Errorf("progress %d out of range", p)
		}
		if i > 0 && p < pcts[i-1] {
			t.Errorf("progress went backwards: %v", pcts)
		}
	}

	out := h.status.outcome(t)
	if out["success"] != true || out["video_file_name"] != "Project.mp4" {
		t.Errorf("outcome = %v", out)
	}
	if h.status.calls[0].path != "/project/"+testProjectID+"/status" {
		t.Errorf("status path = %q", h.status.calls[0].path)
	}

	uploaded := filepath.Join(h.root, testBucket, "Project.Output", testProjectID, "Project.mp4")
	if b, err := os.ReadFile(uploaded); err != nil || string(b) != "b1.mp4" {
		t.Errorf("uploaded video = %q, %v", b, err)
	}

	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		left, _ := os.ReadDir(outDir)
		t.Errorf("output directory should be gone after upload, still has %v", left)
	}
}

func TestRun_UploadedVideoNotReused(t *testing.T) {
	df := &fakeDeforum{
		jobIDs: []string{"j1"},
		jobs: []deforum.JobStatus{
			{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded},
			{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded},
		},
	}
	h := newHarness(t, df)
	h.seedAssets(t)
	h.renderOutput(t)

	if _, err := h.runner.Run(context.Background(), project()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same batch name, but the engine produced no new video this time.
	other := Project{ID: "11111111-1111-4111-8111-111111111111", Name: "Other", Bucket: testBucket}
	h.seedProject(t, other.ID)

	_, err := h.runner.Run(context.Background(), other)
	if !errors.IsCode(err, errors.CodeUpload) {
		t.Fatalf("second run error = %v, want UPLOAD_FAILED", err)
	}
	if _, err := os.Stat(filepath.Join(h.root, testBucket, other.OutputKey())); !os.IsNotExist(err) {
		t.Errorf("second project received a video: %v", err)
	}
	if out := h.status.outcome(t); out["success"] != false {
		t.Errorf("outcome = %v", out)
	}
}

func TestRun_DownloadFailureSendsNothing(t *testing.T) {
	df := &fakeDeforum{jobIDs: []string{"j1"}, jobs: []deforum.JobStatus{running()}}
	h := newHarness(t, df)

	_, err := h.runner.Run(context.Background(), project())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("code = %s, want NOT_FOUND", errors.GetCode(err))
	}
	if len(df.posts) != 0 || df.gets != 0 {
		t.Errorf("rendering API was called: posts=%d gets=%d", len(df.posts), df.gets)
	}
	if len(h.status.calls) != 0 {
		t.Errorf("status API was called %d times", len(h.status.calls))
	}
}

func TestRun_RemoteFailureStopsPolling(t *testing.T) {
	tests := []struct {
		name string
		job  deforum.JobStatus
	}{
		{"failed while generating", deforum.JobStatus{ID: "j1", Phase: deforum.PhaseGenerating, Status: deforum.StatusFailed, Message: "CUDA out of memory"}},
		{"done but failed", deforum.JobStatus{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusFailed, Message: "CUDA out of memory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df := &fakeDeforum{jobIDs: []string{"j1"}, jobs: []deforum.JobStatus{running(), tt.job, running()}}
			h := newHarness(t, df)
			h.seedAssets(t)
			h.renderOutput(t)

			_, err := h.runner.Run(context.Background(), project())
			if !errors.IsCode(err, errors.CodeRemoteFailed) {
				t.Fatalf("error = %v, want REMOTE_JOB_FAILED", err)
			}
			if df.gets != 2 {
				t.Errorf("gets = %d, polling should stop at FAILED", df.gets)
			}

			out := h.status.outcome(t)
			if out["success"] != false || out["error_message"] != "render job failed: CUDA out of memory" {
				t.Errorf("outcome = %v", out)
			}
			if _, err := os.Stat(filepath.Join(h.root, testBucket, "Project.Output")); !os.IsNotExist(err) {
				t.Error("nothing should be uploaded after a failure")
			}
		})
	}
}

func TestRun_SubmitRetries(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		df := &fakeDeforum{batchCode: http.StatusServiceUnavailable}
		h := newHarness(t, df)
		h.seedAssets(t)

		_, err := h.runner.Run(context.Background(), project())
		if !errors.IsCode(err, errors.CodeExhausted) || !errors.Is(err, retry.ErrExhausted) {
			t.Fatalf("error = %v, want exhaustion", err)
		}
		if len(df.posts) != 3 {
			t.Errorf("posts = %d, want 3", len(df.posts))
		}
		if len(h.sleeps) != 2 || h.sleeps[0] != 15*time.Second {
			t.Errorf("sleeps = %v, want two 15s waits", h.sleeps)
		}
		if df.gets != 0 {
			t.Error("no polling after exhaustion")
		}
		if out := h.status.outcome(t); out["success"] != false {
			t.Errorf("outcome = %v", out)
		}
	})

	t.Run("recovers", func(t *testing.T) {
		df := &fakeDeforum{
			batchCode: http.StatusServiceUnavailable,
			jobIDs:    []string{"j1"},
			jobs:      []deforum.JobStatus{{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded}},
		}
		h := newHarness(t, df)
		h.seedAssets(t)
		h.renderOutput(t)

		h.runner.opts.Submit.MaxAttempts = 3
		calls := 0
		h.runner.sleep = func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			calls++
			if calls == 2 {
				df.mu.Lock()
				df.batchCode = 0
				df.mu.Unlock()
			}
			return nil
		}

		if _, err := h.runner.Run(context.Background(), project()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(df.posts) != 3 || len(h.sleeps) != 2 {
			t.Errorf("posts=%d sleeps=%d, want 3 and 2", len(df.posts), len(h.sleeps))
		}
	})

	t.Run("no job ids is not retried", func(t *testing.T) {
		df := &fakeDeforum{}
		h := newHarness(t, df)
		h.seedAssets(t)

		_, err := h.runner.Run(context.Background(), project())
		if err == nil || errors.Is(err, retry.ErrExhausted) {
			t.Fatalf("error = %v, want permanent failure", err)
		}
		if len(df.posts) != 1 || len(h.sleeps) != 0 {
			t.Errorf("posts=%d sleeps=%d, want 1 and 0", len(df.posts), len(h.sleeps))
		}
	})
}

func TestRun_InvalidSettings(t *testing.T) {
	df := &fakeDeforum{jobIDs: []string{"j1"}}
	h := newHarness(t, df)
	h.settings = `{"max_frames": 0}`
	h.seedAssets(t)

	_, err := h.runner.Run(context.Background(), project())
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("error = %v, want VALIDATION_ERROR", err)
	}
	if len(df.posts) != 0 {
		t.Error("invalid settings must not be submitted")
	}
	if out := h.status.outcome(t); out["error_message"] != "invalid render settings" {
		t.Errorf("outcome = %v", out)
	}
}

func TestRun_MissingVideo(t *testing.T) {
	df := &fakeDeforum{
		jobIDs: []string{"j1"},
		jobs:   []deforum.JobStatus{{ID: "j1", Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded}},
	}
	h := newHarness(t, df)
	h.seedAssets(t)

	_, err := h.runner.Run(context.Background(), project())
	if !errors.IsCode(err, errors.CodeUpload) {
		t.Fatalf("error = %v, want UPLOAD_FAILED", err)
	}
	out := h.status.outcome(t)
	if out["success"] != false || out["error_message"] != "upload of finished video failed" {
		t.Errorf("outcome = %v", out)
	}
}

func TestRun_CanceledWhilePolling(t *testing.T) {
	df := &fakeDeforum{jobIDs: []string{"j1"}, jobs: []deforum.JobStatus{running()}}
	h := newHarness(t, df)
	h.seedAssets(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runner.poller.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.runner.Run(ctx, project())
	if !errors.IsCode(err, errors.CodeCanceled) {
		t.Fatalf("error = %v, want CANCELED", err)
	}
	if len(df.deletes) != 1 || df.deletes[0] != "j1" {
		t.Errorf("deletes = %v, want [j1]", df.deletes)
	}
	if out := h.status.outcome(t); out["error_message"] != "render canceled" {
		t.Errorf("outcome = %v", out)
	}
}

func TestProjectKeys(t *testing.T) {
	p := Project{ID: "p1", Name: " My Song/Live "}

	if got := p.AudioKey(); got != "Project.Audio/p1" {
		t.Errorf("AudioKey() = %q", got)
	}
	if got := p.SettingsKey(); got != "Project.Finalized.Settings/p1" {
		t.Errorf("SettingsKey() = %q", got)
	}
	if got := p.OutputKey(); got != "Project.Output/p1/My Song_Live.mp4" {
		t.Errorf("OutputKey() = %q", got)
	}
	if got := (Project{}).VideoFileName(); got != "Project.mp4" {
		t.Errorf("empty name gives %q", got)
	}
}
