package gdrive

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestLookupQuery(t *testing.T) {
	tests := []struct {
		name     string
		folderID string
		bucket   string
		key      string
		want     string
	}{
		{
			name:   "no folder",
			bucket: "blob.example.org",
			key:    "Project.Audio/p1",
			want:   "name = 'Project.Audio/p1' and appProperties has { key='bucket' and value='blob.example.org' } and trashed = false",
		},
		{
			name:     "folder and quoting",
			folderID: "F1",
			bucket:   "b",
			key:      "it's.mp4",
			want:     `name = 'it\'s.mp4' and appProperties has { key='bucket' and value='b' } and trashed = false and 'F1' in parents`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lookupQuery(tt.folderID, tt.bucket, tt.key); got != tt.want {
				t.Errorf("lookupQuery() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestGetObjectNotFound(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"files":[]}`))
	}))
	defer server.Close()

	srv, err := drive.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	c := NewClient(srv, "")

	_, _, _, err = c.GetObject(context.Background(), "b", "Project.Audio/p1")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("GetObject error = %v, want fs.ErrNotExist", err)
	}
	if gotQuery != lookupQuery("", "b", "Project.Audio/p1") {
		t.Errorf("query = %q", gotQuery)
	}
}
