// Package status reports render progress and outcome to the project status API.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Reporter is what the pipeline needs from the status API.
type Reporter interface {
	ReportProgress(ctx context.Context, projectID string, percentage int) error
	ReportSuccess(ctx context.Context, projectID, videoFileName string) error
	ReportFailure(ctx context.Context, projectID, videoFileName, message string) error
}

// APIError is a non-2xx answer from the status API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status update failed: HTTP %d: %s", e.StatusCode, e.Body)
}

type ProgressUpdate struct {
	Percentage int `json:"percentage"`
}

type OutcomeUpdate struct {
	Success       bool   `json:"success"`
	VideoFileName string `json:"video_file_name"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) ReportProgress(ctx context.Context, projectID string, percentage int) error {
	return c.put(ctx, projectID, ProgressUpdate{Percentage: percentage})
}

func (c *HTTPClient) ReportSuccess(ctx context.Context, projectID, videoFileName string) error {
	return c.put(ctx, projectID, OutcomeUpdate{Success: true, VideoFileName: videoFileName})
}

func (c *HTTPClient) ReportFailure(ctx context.Context, projectID, videoFileName, message string) error {
	return c.put(ctx, projectID, OutcomeUpdate{
		Success:       false,
		VideoFileName: videoFileName,
		ErrorMessage:  message,
	})
}

func (c *HTTPClient) put(ctx context.Context, projectID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal status payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/project/%s/status", c.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
}
