package deforum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateBatch(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deforum_api/batches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Job(s) accepted","batch_id":"batch(1)","job_ids":["batch(1)-0"]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	res, err := c.CreateBatch(context.Background(), BatchRequest{
		DeforumSettings:  Settings{"max_frames": 10, "batch_name": "b1"},
		OptionsOverrides: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(res.JobIDs) != 1 || res.JobIDs[0] != "batch(1)-0" {
		t.Errorf("job ids = %v", res.JobIDs)
	}
	if res.BatchID != "batch(1)" {
		t.Errorf("batch id = %q", res.BatchID)
	}
	if _, ok := got["options_overrides"]; !ok {
		t.Error("options_overrides must always be sent")
	}
	if settings, _ := got["deforum_settings"].(map[string]any); settings["batch_name"] != "b1" {
		t.Errorf("deforum_settings = %v", got["deforum_settings"])
	}
}

func TestGetJobEscapesID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/deforum_api/jobs/batch%281%29-0" && r.URL.Path != "/deforum_api/jobs/batch(1)-0" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte(`{"id":"batch(1)-0","phase":"GENERATING","status":"ACCEPTED","phase_progress":0.25,"outdir":"/out/b1"}`))
	}))
	defer server.Close()

	job, err := NewHTTPClient(server.URL).GetJob(context.Background(), "batch(1)-0")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Phase != PhaseGenerating || job.Done() || job.Failed() {
		t.Errorf("unexpected job state %+v", job)
	}
	if job.Outdir != "/out/b1" || job.PhaseProgress != 0.25 {
		t.Errorf("unexpected job fields %+v", job)
	}
}

func TestNon2xxIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"job not found"}`))
	}))
	defer server.Close()

	err := NewHTTPClient(server.URL).DeleteJob(context.Background(), "nope")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Method != http.MethodDelete {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))

	if err := NewHTTPClient(server.URL).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	server.Close()
	if err := NewHTTPClient(server.URL).Ping(context.Background()); err == nil {
		t.Error("expected error once the server is gone")
	}
}
