package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/runner"
)

// execute runs req in the foreground with a live progress bar and records
// it in the run history when the history database is reachable.
func (a *app) execute(cmd *cobra.Command, req runner.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	eng, err := a.engine(false)
	if err != nil {
		return err
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		if outputDir, err = os.Getwd(); err != nil {
			return err
		}
	}

	rec := a.record(ctx, req)
	defer rec.close()

	view := newProgressView(cmd.ErrOrStderr(), req.Kind)
	var final progress.Event
	for ev := range engine.Stream(ctx, runner.Job(eng, req, outputDir, nil)) {
		view.Observe(ev)
		if ev.Terminal() {
			final = ev
		}
	}
	view.Done()

	if final.Type != progress.EventComplete {
		rec.fail(ctx, final.Error)
		return errors.New(final.Error)
	}
	rec.complete(ctx, final)
	return summarize(cmd.OutOrStdout(), final)
}

func summarize(w io.Writer, ev progress.Event) error {
	if _, err := fmt.Fprintln(w, okStyle.Render("wrote "+ev.FilePath)); err != nil {
		return err
	}
	if len(ev.Failures) == 0 {
		fmt.Fprintln(w, kv("units", fmt.Sprint(ev.Units)))
		return nil
	}

	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("completed with %d failures", len(ev.Failures))))
	for _, f := range progress.Head(ev.Failures, progress.DisplayLimit) {
		fmt.Fprintf(w, "  %s %s %s %s\n", f.Timeline, f.Clip, mutedStyle.Render(f.Timecode), errorStyle.Render(f.Reason))
	}
	if extra := len(ev.Failures) - progress.DisplayLimit; extra > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  ... and %d more", extra)))
	}
	return nil
}

// recorder mirrors a foreground run into the history. Every method is a
// no-op when the database could not be opened.
type recorder struct {
	repo   history.Repository
	id     string
	logger *slog.Logger
	close  func()
}

func (a *app) record(ctx context.Context, req runner.Request) *recorder {
	rec := &recorder{logger: a.logger, close: func() {}}
	database, repo, err := openHistory(a.cfg, a.logger)
	if err != nil {
		a.logger.Warn("run history unavailable", "error", err)
		return rec
	}
	rec.close = func() { database.Close() }

	sel, _ := json.Marshal(req)
	run := &history.Run{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    history.StatusPending,
		Selection: string(sel),
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		a.logger.Warn("failed to record run", "error", err)
		return rec
	}
	if err := repo.UpdateRunStatus(ctx, run.ID, history.StatusRunning, ""); err != nil {
		a.logger.Warn("failed to record run", "error", err)
	}
	rec.repo, rec.id = repo, run.ID
	return rec
}

func (r *recorder) complete(ctx context.Context, ev progress.Event) {
	if r.repo == nil {
		return
	}
	if err := r.repo.CompleteRun(context.WithoutCancel(ctx), r.id, ev.FilePath, ev.Units, ev.Failures); err != nil {
		r.logger.Warn("failed to record run", "error", err)
	}
}

func (r *recorder) fail(ctx context.Context, msg string) {
	if r.repo == nil {
		return
	}
	status := history.StatusFailed
	if ctx.Err() != nil {
		status = history.StatusCancelled
	}
	if err := r.repo.UpdateRunStatus(context.WithoutCancel(ctx), r.id, status, msg); err != nil {
		r.logger.Warn("failed to record run", "error", err)
	}
}
