// Package capture positions the session playhead and exports still frames,
// with a best-effort settle wait and bounded retries. Failures are returned
// as results, never as errors.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/config"
	"github.com/ditkit/ditreport/internal/logging"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/session"
	"github.com/ditkit/ditreport/internal/timecode"
)

// Options tunes the capture protocol.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	RetryCount   int
	Backoff      []time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval: config.DefaultCapturePollMillis * time.Millisecond,
		MaxWait:      config.DefaultCaptureMaxWaitMillis * time.Millisecond,
		RetryCount:   config.DefaultCaptureRetries,
		Backoff:      append([]time.Duration(nil), config.DefaultCaptureBackoff...),
	}
}

// OptionsFrom reads capture settings from cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		PollInterval: cfg.CapturePollInterval(),
		MaxWait:      cfg.CaptureMaxWait(),
		RetryCount:   cfg.CaptureRetries(),
		Backoff:      cfg.CaptureBackoff(),
	}
}

// BackoffFor returns the sleep after the attempt at index i (0-based),
// reusing the last interval once the list runs out.
func (o Options) BackoffFor(i int) time.Duration {
	if len(o.Backoff) == 0 {
		return 0
	}
	if i >= len(o.Backoff) {
		return o.Backoff[len(o.Backoff)-1]
	}
	return o.Backoff[i]
}

// Result of one capture. Path is set only when OK.
type Result struct {
	OK       bool
	Path     string
	Reason   string
	Attempts int
	Settled  bool
	Err      error
}

type Service struct {
	sess   session.Session
	opts   Options
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewService(sess session.Session, opts Options, logger *slog.Logger) *Service {
	if opts.RetryCount < 1 {
		opts.RetryCount = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultCapturePollMillis * time.Millisecond
	}
	return &Service{
		sess:   sess,
		opts:   opts,
		logger: logging.OrDiscard(logger),
		sleep:  sleepCtx,
	}
}

func (s *Service) Options() Options { return s.opts }

// Capture grabs frame of tl into outPath.
func (s *Service) Capture(ctx context.Context, tl *catalog.Timeline, frame int64, outPath string) Result {
	tc := timecode.FromFrames(frame, tl.FrameRate)
	log := s.logger.With("timeline", tl.Name, "timecode", tc)

	if err := ctx.Err(); err != nil {
		return Result{Reason: progress.ReasonCancelled, Err: err}
	}
	if err := s.sess.SetCurrentTimecode(ctx, tl.ID, tc); err != nil {
		return s.failed(ctx, err, 0)
	}

	settled, err := s.waitForPosition(ctx, tl.ID, tc)
	if err != nil {
		return s.failed(ctx, err, 0)
	}
	if !settled {
		log.Debug("playhead did not settle, exporting anyway", "max_wait", s.opts.MaxWait)
	}

	res := Result{Reason: progress.ReasonExportFailed, Settled: settled}
	for attempt := 1; attempt <= s.opts.RetryCount; attempt++ {
		res.Attempts = attempt
		_ = os.Remove(outPath)

		ok, err := s.sess.ExportCurrentFrame(ctx, outPath)
		switch {
		case err != nil:
			if ctx.Err() != nil || session.IsUnavailable(err) {
				r := s.failed(ctx, err, attempt)
				r.Settled = settled
				return r
			}
			res.Reason = progress.ReasonSession
			res.Err = err
		case !ok:
			res.Reason = progress.ReasonExportFailed
		default:
			if info, statErr := os.Stat(outPath); statErr == nil && info.Size() > 0 {
				return Result{OK: true, Path: outPath, Attempts: attempt, Settled: settled}
			}
			res.Reason = progress.ReasonEmptyOutput
		}

		log.Debug("export attempt failed", "attempt", attempt, "reason", res.Reason)
		if attempt == s.opts.RetryCount {
			break
		}
		if err := s.sleep(ctx, s.opts.BackoffFor(attempt-1)); err != nil {
			return Result{Reason: progress.ReasonCancelled, Attempts: attempt, Settled: settled, Err: err}
		}
	}

	log.Warn("capture failed", "attempts", res.Attempts, "reason", res.Reason)
	return res
}

// waitForPosition polls the reported timecode until it matches tc or MaxWait
// elapses. A timeout is not an error.
func (s *Service) waitForPosition(ctx context.Context, timelineID, tc string) (bool, error) {
	if s.opts.MaxWait <= 0 {
		return false, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.MaxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
		cur, err := s.sess.CurrentTimecode(waitCtx, timelineID)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if session.IsUnavailable(err) {
				return false, err
			}
			if waitCtx.Err() != nil {
				return false, nil
			}
			continue
		}
		if cur == tc {
			return true, nil
		}
	}
}

func (s *Service) failed(ctx context.Context, err error, attempts int) Result {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Result{Reason: progress.ReasonCancelled, Attempts: attempts, Err: err}
	}
	return Result{Reason: progress.ReasonSession, Attempts: attempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
