// Package runner executes report runs in the background for the HTTP API:
// it queues requests in the run history, drives the engine one run at a
// time, writes artifacts and publishes progress to the SSE hub.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/logging"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/session"
	"github.com/ditkit/ditreport/internal/sse"
)

// Table formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Request is a queued run. It is stored as JSON in the run history.
type Request struct {
	Kind      string           `json:"kind"`
	Selection engine.Selection `json:"selection"`
	OutputDir string           `json:"output_dir,omitempty"`
	Format    string           `json:"format,omitempty"`
}

// Validate checks the fields the runner depends on.
func (r Request) Validate() error {
	switch r.Kind {
	case history.KindDocument, history.KindThumbnails, history.KindEDL:
	case history.KindTable:
		switch r.Format {
		case "", FormatCSV, FormatParquet:
		default:
			return fmt.Errorf("unknown table format %q", r.Format)
		}
	default:
		return fmt.Errorf("unknown run kind %q", r.Kind)
	}
	return nil
}

type Runner struct {
	engine       *engine.Engine
	repo         history.Repository
	hub          *sse.Hub
	logger       *slog.Logger
	outputDir    string
	pollInterval time.Duration
	now          func() time.Time

	running atomic.Bool
	paused  atomic.Bool
	busy    atomic.Bool
	wake    chan struct{}

	mu     sync.Mutex
	active string
	queued string
	cancel context.CancelFunc
}

// New creates a runner writing artifacts under outputDir unless a request
// names its own directory.
func New(eng *engine.Engine, repo history.Repository, hub *sse.Hub, outputDir string, logger *slog.Logger) *Runner {
	return &Runner{
		engine:       eng,
		repo:         repo,
		hub:          hub,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "runner"),
		outputDir:    outputDir,
		pollInterval: 5 * time.Second,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
}

// Start processes pending runs until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.processNextRun(ctx)
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run runner resumed")
	r.notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Busy reports whether a run is queued or in progress.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Active returns the id of the run in progress, or "".
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Submit queues a run. Only one run may be queued or active at a time;
// session.ErrBusy is returned otherwise.
func (r *Runner) Submit(ctx context.Context, req Request) (*history.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return nil, session.ErrBusy
	}

	sel, err := json.Marshal(req)
	if err != nil {
		r.busy.Store(false)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	run := &history.Run{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    history.StatusPending,
		Selection: string(sel),
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.CreateRun(ctx, run); err != nil {
		r.busy.Store(false)
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	r.mu.Lock()
	r.queued = run.ID
	r.mu.Unlock()

	r.logger.Info("run queued", "run_id", run.ID, "kind", run.Kind)
	r.notify()
	return run, nil
}

// Cancel stops the active run. Cancelling a queued run marks it cancelled.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.active == id && r.cancel != nil {
		r.cancel()
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	run, err := r.repo.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Done() {
		r.releaseQueued(ctx, id)
		return nil
	}
	if err := r.repo.UpdateRunStatus(ctx, id, history.StatusCancelled, "cancelled before start"); err != nil {
		return err
	}
	r.publish(id, progress.Event{Type: progress.EventError, Error: "cancelled"})
	r.hub.Close(id)
	r.mu.Lock()
	if r.queued == id {
		r.queued = ""
	}
	r.mu.Unlock()
	r.busy.Store(false)
	return nil
}

// releaseQueued frees the busy slot when the queued run (id, or any when id
// is empty) reached a final status without this runner picking it up.
func (r *Runner) releaseQueued(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queued == "" || r.active != "" || (id != "" && r.queued != id) {
		return
	}
	run, err := r.repo.GetRun(ctx, r.queued)
	if err != nil || !run.Done() {
		return
	}
	r.logger.Warn("queued run finished outside the runner", "run_id", run.ID, "status", run.Status, "error", run.Error)
	r.hub.Close(run.ID)
	r.queued = ""
	r.busy.Store(false)
}

func (r *Runner) processNextRun(ctx context.Context) {
	runs, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return
	}
	if len(runs) == 0 {
		r.releaseQueued(ctx, "")
		return
	}

	run := runs[0]
	log := logging.WithRunID(r.logger, run.ID)
	log.Info("processing run", "kind", run.Kind)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active, r.cancel = run.ID, cancel
	if r.queued == run.ID {
		r.queued = ""
	}
	r.mu.Unlock()
	// Subscribers see the topic close only once a new run can be submitted.
	defer func() {
		cancel()
		r.mu.Lock()
		r.active, r.cancel = "", nil
		r.mu.Unlock()
		r.busy.Store(false)
		r.hub.Close(run.ID)
	}()

	var req Request
	if err := json.Unmarshal([]byte(run.Selection), &req); err != nil {
		r.fail(ctx, log, run.ID, fmt.Errorf("invalid request: %w", err))
		return
	}

	if err := r.repo.UpdateRunStatus(ctx, run.ID, history.StatusRunning, ""); err != nil {
		r.fail(ctx, log, run.ID, fmt.Errorf("failed to mark run running: %w", err))
		return
	}

	r.execute(runCtx, ctx, log, run.ID, req)
}

// execute streams the run's events into the hub and the history. ctx is the
// run's cancellable context; storeCtx outlives it so the final status is
// always written.
func (r *Runner) execute(ctx, storeCtx context.Context, log *slog.Logger, id string, req Request) {
	storeCtx = context.WithoutCancel(storeCtx)
	lastPct := -1
	for ev := range engine.Stream(ctx, r.job(req)) {
		switch ev.Type {
		case progress.EventProgress:
			r.publish(id, ev)
			if pct := int(ev.Progress); pct != lastPct {
				lastPct = pct
				if err := r.repo.UpdateRunProgress(storeCtx, id, pct); err != nil {
					log.Warn("failed to store progress", "error", err)
				}
			}
		case progress.EventComplete:
			if err := r.repo.CompleteRun(storeCtx, id, ev.FilePath, ev.Units, ev.Failures); err != nil {
				log.Error("failed to store completed run", "error", err)
			}
			log.Info("run completed", "file", logging.SanitizePath(ev.FilePath), "failures", len(ev.Failures))
			ev.Failures = progress.Head(ev.Failures, progress.DisplayLimit)
			r.publish(id, ev)
		case progress.EventError:
			status := history.StatusFailed
			if ctx.Err() != nil {
				status = history.StatusCancelled
			}
			if err := r.repo.UpdateRunStatus(storeCtx, id, status, ev.Error); err != nil {
				log.Error("failed to store run failure", "error", err)
			}
			r.publish(id, ev)
			log.Warn("run failed", "status", status, "error", ev.Error)
		}
	}
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, id string, err error) {
	if uerr := r.repo.UpdateRunStatus(ctx, id, history.StatusFailed, err.Error()); uerr != nil {
		log.Error("failed to store run failure", "error", uerr)
	}
	r.publish(id, progress.Event{Type: progress.EventError, Error: err.Error()})
	log.Warn("run failed", "error", err)
}

func (r *Runner) publish(id string, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.hub.Publish(id, string(ev.Type), string(data))
}
