package engine

import (
	"context"
	"log/slog"

	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/session"
)

// stateGuard records the session's page, current timeline and per-timeline
// playhead so a run can put everything back on the way out.
type stateGuard struct {
	sess   session.Session
	logger *slog.Logger

	page       string
	switched   bool
	timeline   session.TimelineRef
	hasCurrent bool

	active   *catalog.Timeline
	playhead string
}

func newStateGuard(ctx context.Context, sess session.Session, logger *slog.Logger) (*stateGuard, error) {
	g := &stateGuard{sess: sess, logger: logger}
	cur, err := sess.CurrentTimeline(ctx)
	if err != nil {
		if session.IsUnavailable(err) {
			return nil, err
		}
		logger.Debug("no current timeline to restore", "error", err)
	} else {
		g.timeline = cur
		g.hasCurrent = true
	}
	return g, nil
}

// ensureCapturePage opens the default capture page when the current one
// cannot export stills.
func (g *stateGuard) ensureCapturePage(ctx context.Context) error {
	page, err := g.sess.CurrentPage(ctx)
	if err != nil {
		return err
	}
	g.page = page
	if session.CanCaptureOn(page) {
		return nil
	}
	g.logger.Info("switching page for capture", "from", page, "to", session.DefaultCapturePage)
	if err := g.sess.OpenPage(ctx, session.DefaultCapturePage); err != nil {
		return err
	}
	g.switched = true
	return nil
}

// enter makes tl current, restoring the previous timeline's playhead first.
func (g *stateGuard) enter(ctx context.Context, tl *catalog.Timeline) error {
	if g.active == tl {
		return nil
	}
	g.leave()
	if err := g.sess.SetCurrentTimeline(ctx, tl.ID); err != nil {
		return err
	}
	tc, err := g.sess.CurrentTimecode(ctx, tl.ID)
	if err != nil {
		return err
	}
	g.active = tl
	g.playhead = tc
	return nil
}

// leave puts the active timeline's playhead back where it was.
func (g *stateGuard) leave() {
	if g.active == nil {
		return
	}
	ctx := context.WithoutCancel(context.Background())
	if err := g.sess.SetCurrentTimecode(ctx, g.active.ID, g.playhead); err != nil {
		g.logger.Warn("failed to restore playhead", "timeline", g.active.Name, "timecode", g.playhead, "error", err)
	}
	g.active = nil
}

// restore undoes everything the run changed. It ignores cancellation.
func (g *stateGuard) restore(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	g.leave()
	if g.hasCurrent {
		if err := g.sess.SetCurrentTimeline(ctx, g.timeline.ID); err != nil {
			g.logger.Warn("failed to restore current timeline", "timeline", g.timeline.Name, "error", err)
		}
	}
	if g.switched {
		if err := g.sess.OpenPage(ctx, g.page); err != nil {
			g.logger.Warn("failed to restore page", "page", g.page, "error", err)
		}
	}
}
