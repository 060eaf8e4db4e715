package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/export"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/runner"
	"github.com/ditkit/ditreport/internal/session"
	"github.com/ditkit/ditreport/internal/sse"
)

const eventPingInterval = 15 * time.Second

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/project", projectHandler(cfg))
		r.Get("/timelines", timelinesHandler(cfg))
		r.Post("/reports/document", documentHandler(cfg))
		r.Post("/reports/table", tableHandler(cfg))
		r.Post("/thumbnails", thumbnailsHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Post("/runs/{id}/cancel", cancelRunHandler(cfg))
		r.Get("/runs/{id}/events", runEventsHandler(cfg))
		r.Get("/runs/{id}/artifact", artifactHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg, true))
		r.Post("/runner/resume", pauseHandler(cfg, false))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		state := "idle"
		var activeRun *RunResponse
		switch {
		case cfg.Runner.IsPaused():
			state = "paused"
		case cfg.Runner.Active() != "":
			state = "running"
		case cfg.Runner.Busy():
			state = "queued"
		}
		if id := cfg.Runner.Active(); id != "" {
			if run, err := cfg.Repository.GetRun(ctx, id); err == nil {
				resp := RunToResponse(run)
				activeRun = &resp
			}
		}

		lastError := ""
		runs, _ := cfg.Repository.ListRuns(ctx, 10)
		for _, run := range runs {
			if run.Status == history.StatusFailed {
				lastError = run.Error
				break
			}
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       state,
			SessionBusy: cfg.Engine.Lock().Held(),
			LastError:   lastError,
			ActiveRun:   activeRun,
		})
	}
}

func projectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := cfg.Engine.Project(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, project)
	}
}

func timelinesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timelines, err := cfg.Engine.Timelines(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, TimelinesResponse{Timelines: timelines})
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	if session.IsUnavailable(err) {
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "SESSION_UNAVAILABLE")
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}

func documentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		submit(cfg, w, r, runner.Request{
			Kind:      history.KindDocument,
			Selection: req.Selection,
			OutputDir: req.OutputDir,
		})
	}
}

func tableHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TableRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		run := runner.Request{
			Kind:      history.KindTable,
			Selection: req.Selection,
			OutputDir: req.OutputDir,
			Format:    req.Format,
		}
		if req.Format == history.KindEDL {
			run.Kind, run.Format = history.KindEDL, ""
		}
		submit(cfg, w, r, run)
	}
}

func thumbnailsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ThumbnailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		submit(cfg, w, r, runner.Request{
			Kind:      history.KindThumbnails,
			Selection: req.Selection,
			OutputDir: req.OutputDir,
		})
	}
}

func submit(cfg ServerConfig, w http.ResponseWriter, r *http.Request, req runner.Request) {
	if err := normalizeSelection(&req.Selection); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if req.OutputDir != "" {
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
	}

	run, err := cfg.Runner.Submit(r.Context(), req)
	if errors.Is(err, session.ErrBusy) {
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}

	WriteJSON(w, http.StatusAccepted, SubmitResponse{
		RunID:     run.ID,
		Status:    run.Status,
		EventsURL: "/runs/" + run.ID + "/events",
	})
}

func normalizeSelection(sel *engine.Selection) error {
	if sel.Mode != "" {
		mode, err := capture.ParseMode(string(sel.Mode))
		if err != nil {
			return err
		}
		sel.Mode = mode
	}
	if sel.Rule != "" {
		rule, err := capture.ParseFrameRule(string(sel.Rule))
		if err != nil {
			return err
		}
		sel.Rule = rule
	}
	return nil
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}

		runs, err := cfg.Repository.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		resp := RunToResponse(run)
		if run.FailureCount > 0 {
			failures, err := cfg.Repository.ListFailures(r.Context(), run.ID)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			resp.Failures = failures
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*history.Run, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
		return nil, false
	}
	run, err := cfg.Repository.GetRun(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return run, true
}

func cancelRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		if err := cfg.Runner.Cancel(r.Context(), run.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func pauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// runEventsHandler streams a run's events. Clients that reconnect with
// Last-Event-ID receive only what they missed.
func runEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}

		last := 0
		if v := r.Header.Get("Last-Event-ID"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				last = n
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		rc := http.NewResponseController(w)

		// Finished before this process started: nothing is left in the hub.
		if run.Done() && !cfg.Hub.Has(run.ID) {
			w.WriteHeader(http.StatusOK)
			if last == 0 {
				_ = terminalEvent(cfg, r, run).Write(w)
			}
			_ = rc.Flush()
			return
		}

		replay, ch, unsub := cfg.Hub.Subscribe(run.ID)
		defer unsub()
		w.WriteHeader(http.StatusOK)

		write := func(events []sse.Event) error {
			for _, e := range events {
				if e.Seq <= last {
					continue
				}
				if err := e.Write(w); err != nil {
					return err
				}
				last = e.Seq
			}
			return rc.Flush()
		}
		if err := write(replay); err != nil {
			return
		}

		ping := time.NewTicker(eventPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case _, open := <-ch:
				// Since also picks up events a full channel dropped.
				if err := write(cfg.Hub.Since(run.ID, last)); err != nil || !open {
					return
				}
			case <-ping.C:
				if _, err := w.Write([]byte(": ping\n\n")); err != nil {
					return
				}
				_ = rc.Flush()
			}
		}
	}
}

func terminalEvent(cfg ServerConfig, r *http.Request, run *history.Run) sse.Event {
	ev := progress.Event{Type: progress.EventError, Error: run.Error}
	if run.Status == history.StatusCompleted {
		ev = progress.Event{Type: progress.EventComplete, Progress: 100, FilePath: run.FilePath, Units: run.Units}
		if run.FailureCount > 0 {
			failures, _ := cfg.Repository.ListFailures(r.Context(), run.ID)
			ev.Failures = progress.Head(failures, progress.DisplayLimit)
		}
	}
	data, _ := json.Marshal(ev)
	return sse.Event{Seq: 1, Type: string(ev.Type), Data: string(data)}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		if run.Status != history.StatusCompleted {
			WriteError(w, http.StatusConflict, "run has not completed", "NOT_READY")
			return
		}
		if run.FilePath == "" {
			WriteError(w, http.StatusNotFound, "run produced no artifact", "NOT_FOUND")
			return
		}

		info, err := os.Stat(run.FilePath)
		if err != nil {
			WriteError(w, http.StatusGone, "artifact no longer exists", "ARTIFACT_MISSING")
			return
		}

		if info.IsDir() {
			entries, err := os.ReadDir(run.FilePath)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			resp := ArtifactListResponse{Path: run.FilePath, Files: []string{}}
			for _, e := range entries {
				if e.Type().IsRegular() {
					resp.Files = append(resp.Files, e.Name())
				}
			}
			WriteJSON(w, http.StatusOK, resp)
			return
		}

		f, err := os.Open(run.FilePath)
		if err != nil {
			WriteError(w, http.StatusGone, "artifact no longer exists", "ARTIFACT_MISSING")
			return
		}
		defer f.Close()
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(run.FilePath)+`"`)
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
