package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// TraceSink is the primary telemetry sink. A failure starting a run here
// propagates to the caller; the relational sink never does.
type TraceSink interface {
	StartRun(ctx context.Context, run *TraceRun) error
	EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) error
}

// TraceRun is the payload the tracing backend accepts at run start.
type TraceRun struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Inputs   map[string]any `json:"inputs"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HTTPTraceSink posts run lifecycle events to a tracing service's runs API.
type HTTPTraceSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ TraceSink = (*HTTPTraceSink)(nil)

// NewHTTPTraceSink builds the sink from TRACING_URL and TRACING_API_KEY.
func NewHTTPTraceSink() *HTTPTraceSink {
	baseURL := os.Getenv("TRACING_URL")
	if baseURL == "" {
		baseURL = "https://api.smith.langchain.com"
		slog.Warn("TRACING_URL not set, using default", "url", baseURL)
	}
	return &HTTPTraceSink{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  os.Getenv("TRACING_API_KEY"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StartRun registers a new run with the tracing backend.
func (s *HTTPTraceSink) StartRun(ctx context.Context, run *TraceRun) error {
	payload := map[string]any{
		"id":         run.ID,
		"name":       run.Name,
		"run_type":   "chain",
		"start_time": time.Now().UTC().Format(time.RFC3339Nano),
		"inputs":     run.Inputs,
	}
	if len(run.Metadata) > 0 {
		payload["extra"] = map[string]any{"metadata": run.Metadata}
	}
	return s.post(ctx, http.MethodPost, "/runs", payload)
}

// EndRun finalizes a run. A nil runErr marks it successful.
func (s *HTTPTraceSink) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) error {
	payload := map[string]any{
		"end_time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	} else {
		payload["outputs"] = outputs
	}
	return s.post(ctx, http.MethodPatch, "/runs/"+runID, payload)
}

func (s *HTTPTraceSink) post(ctx context.Context, method, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal trace payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create trace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("trace request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tracing service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NoopTraceSink discards all run events. Used when tracing is not configured
// so the recorder's primary-sink contract still holds.
type NoopTraceSink struct{}

var _ TraceSink = (*NoopTraceSink)(nil)

func (NoopTraceSink) StartRun(ctx context.Context, run *TraceRun) error { return nil }

func (NoopTraceSink) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) error {
	return nil
}
