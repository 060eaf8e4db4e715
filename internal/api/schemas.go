package api

import (
	"encoding/json"
	"time"

	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/progress"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	SessionBusy bool         `json:"session_busy"`
	LastError   string       `json:"last_error,omitempty"`
	ActiveRun   *RunResponse `json:"active_run,omitempty"`
}

type TimelinesResponse struct {
	Timelines []catalog.TimelineSummary `json:"timelines"`
}

// DocumentRequest asks for a PDF report. Selection fields sit at the top level.
type DocumentRequest struct {
	engine.Selection
	OutputDir string `json:"output_dir,omitempty"`
}

// TableRequest asks for a clip table. Format is csv (default), parquet or edl.
type TableRequest struct {
	engine.Selection
	OutputDir string `json:"output_dir,omitempty"`
	Format    string `json:"format,omitempty"`
}

type ThumbnailRequest struct {
	engine.Selection
	OutputDir string `json:"output_dir,omitempty"`
}

type SubmitResponse struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	EventsURL string `json:"events_url"`
}

type RunResponse struct {
	ID           string                   `json:"id"`
	Kind         string                   `json:"kind"`
	Status       string                   `json:"status"`
	Progress     int                      `json:"progress"`
	Units        int                      `json:"units"`
	FilePath     string                   `json:"file_path,omitempty"`
	Error        string                   `json:"error,omitempty"`
	FailureCount int                      `json:"failure_count"`
	Request      json.RawMessage          `json:"request,omitempty"`
	Failures     []progress.FailureRecord `json:"failures,omitempty"`
	CreatedAt    string                   `json:"created_at"`
	UpdatedAt    string                   `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ArtifactListResponse is returned for runs that produced a directory.
type ArtifactListResponse struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *history.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Kind:         r.Kind,
		Status:       r.Status,
		Progress:     r.Progress,
		Units:        r.Units,
		FilePath:     r.FilePath,
		Error:        r.Error,
		FailureCount: r.FailureCount,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339),
	}
	if json.Valid([]byte(r.Selection)) {
		resp.Request = json.RawMessage(r.Selection)
	}
	return resp
}
