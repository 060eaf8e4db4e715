// Package engine runs report jobs against an editing session: it resolves the
// selection, plans capture units in a pre-pass, drives the capture service one
// unit at a time and hands the results to the assembler or exporter.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/export"
	"github.com/ditkit/ditreport/internal/logging"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/report"
	"github.com/ditkit/ditreport/internal/session"
)

// ErrNoTimelines is returned when a selection resolves to nothing.
var ErrNoTimelines = errors.New("no timelines selected")

// Config wires an Engine.
type Config struct {
	Session session.Session
	// Lock serializes runs. A fresh lock is used when nil.
	Lock    *session.Lock
	Capture capture.Options
	// ScratchDir holds in-flight captures. Defaults to os.TempDir().
	ScratchDir string
	Font       report.FontConfig
	Footer     string
	Operator   string
	Rule       capture.FrameRule
	// NoWait makes a run fail with session.ErrBusy instead of queueing
	// behind the one in progress.
	NoWait bool
	Logger *slog.Logger
}

// CoverRequest asks for a cover page.
type CoverRequest struct {
	Title    string         `json:"title,omitempty"`
	Subtitle string         `json:"subtitle,omitempty"`
	Operator string         `json:"operator,omitempty"`
	Fields   []report.Field `json:"fields,omitempty"`
	Stats    bool           `json:"stats,omitempty"`
	Branding []byte         `json:"-"`
}

// Selection describes what a run covers. Timelines holds ids or names; empty
// means the session's current timeline.
type Selection struct {
	Timelines []string          `json:"timelines,omitempty"`
	Mode      capture.Mode      `json:"mode,omitempty"`
	Rule      capture.FrameRule `json:"rule,omitempty"`
	Title     string            `json:"title,omitempty"`
	Footer    string            `json:"footer,omitempty"`
	Cover     *CoverRequest     `json:"cover,omitempty"`
}

type DocumentResult struct {
	Bytes    []byte
	Pages    int
	Units    int
	Failures []progress.FailureRecord
}

type TableResult struct {
	Text      string
	Rows      []export.Row
	Headers   []string
	Timelines []*catalog.Timeline
	Failures  []progress.FailureRecord
}

type BatchResult struct {
	OutputDir string
	Files     []string
	Failures  []progress.FailureRecord
}

type Engine struct {
	sess     session.Session
	lock     *session.Lock
	cat      *catalog.Catalog
	capture  *capture.Service
	measure  report.Measurer
	font     report.FontConfig
	scratch  string
	footer   string
	operator string
	rule     capture.FrameRule
	noWait   bool
	logger   *slog.Logger
	now      func() time.Time
}

// New builds an engine. It fails only when the configured font cannot be
// loaded.
func New(cfg Config) (*Engine, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("engine: session is required")
	}
	logger := logging.OrDiscard(cfg.Logger)
	m, err := report.NewMeasurer(cfg.Font)
	if err != nil {
		return nil, err
	}
	lock := cfg.Lock
	if lock == nil {
		lock = session.NewLock()
	}
	rule := cfg.Rule
	if rule == "" {
		rule = capture.RuleMiddle
	}
	return &Engine{
		sess:     cfg.Session,
		lock:     lock,
		cat:      catalog.NewCatalog(cfg.Session, logging.WithComponent(logger, "catalog")),
		capture:  capture.NewService(cfg.Session, cfg.Capture, logging.WithComponent(logger, "capture")),
		measure:  m,
		font:     cfg.Font,
		scratch:  cfg.ScratchDir,
		footer:   cfg.Footer,
		operator: cfg.Operator,
		rule:     rule,
		noWait:   cfg.NoWait,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Catalog exposes the engine's catalog for read-only queries.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Lock returns the run-lock shared by every run of this engine.
func (e *Engine) Lock() *session.Lock { return e.lock }

// Project scans the media pool. It does not take the run-lock.
func (e *Engine) Project(ctx context.Context) (*catalog.Project, error) {
	return e.cat.Scan(ctx)
}

// Timelines lists timeline summaries.
func (e *Engine) Timelines(ctx context.Context) ([]catalog.TimelineSummary, error) {
	return e.cat.ListTimelines(ctx)
}

func (e *Engine) acquire(ctx context.Context) error {
	err := e.lock.TryAcquire()
	if e.noWait || !errors.Is(err, session.ErrBusy) {
		return err
	}
	e.logger.Info("waiting for another run to release the session")
	return e.lock.Acquire(ctx)
}

// plan is the pre-pass result: loaded timelines, their units and the total.
type plan struct {
	timelines []*catalog.Timeline
	units     [][]capture.Unit
	total     int
	ledger    *progress.Ledger
}

func (e *Engine) plan(ctx context.Context, sel Selection, mode capture.Mode, rule capture.FrameRule) (*plan, error) {
	found, missing, err := e.cat.Resolve(ctx, sel.Timelines)
	if err != nil {
		return nil, err
	}

	p := &plan{ledger: progress.NewLedger()}
	for _, name := range missing {
		e.logger.Warn("timeline not found", "timeline", name)
		p.ledger.Append(progress.FailureRecord{Timeline: name, Reason: progress.ReasonTimelineNotFound})
	}

	cache := make(catalog.ClipCache)
	for _, ref := range found {
		tl, err := e.cat.LoadTimeline(ctx, ref, cache)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				e.logger.Warn("timeline disappeared", "timeline", ref.Name)
				p.ledger.Append(progress.FailureRecord{Timeline: ref.Name, Reason: progress.ReasonTimelineNotFound})
				continue
			}
			return nil, err
		}
		units := capture.PlanTimeline(tl, mode, rule, p.total)
		p.timelines = append(p.timelines, tl)
		p.units = append(p.units, units)
		p.total += len(units)
	}

	if len(p.timelines) == 0 {
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: not found: %s", ErrNoTimelines, strings.Join(missing, ", "))
		}
		return nil, ErrNoTimelines
	}
	return p, nil
}

func (e *Engine) frameRule(sel Selection) capture.FrameRule {
	if sel.Rule != "" {
		return sel.Rule
	}
	return e.rule
}

// GenerateDocumentReport captures one still per unit and lays out the PDF.
// Capture failures become placeholders and ledger entries. A session that
// goes away mid-run is terminal and nothing is returned.
func (e *Engine) GenerateDocumentReport(ctx context.Context, sel Selection, obs progress.Observer) (*DocumentResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.lock.Release()

	guard, err := newStateGuard(ctx, e.sess, e.logger)
	if err != nil {
		return nil, err
	}
	defer guard.restore(ctx)

	mode := sel.Mode
	if mode == "" {
		mode = capture.ModeClip
	}
	p, err := e.plan(ctx, sel, mode, e.frameRule(sel))
	if err != nil {
		return nil, err
	}
	e.logger.Info("document report planned", "timelines", len(p.timelines), "units", p.total, "mode", mode)

	opts := report.Options{Title: sel.Title, Footer: e.footerText(sel)}
	if sel.Cover != nil {
		cover, err := e.cover(ctx, sel)
		if err != nil {
			return nil, err
		}
		opts.Cover = cover
	}

	if p.total > 0 {
		if err := guard.ensureCapturePage(ctx); err != nil {
			return nil, err
		}
	}

	if e.scratch != "" {
		if err := os.MkdirAll(e.scratch, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create scratch dir: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(e.scratch, "ditreport-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	tracker := progress.NewTracker(p.total, obs)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalErr error
	captureFn := func(ctx context.Context, u capture.Unit) report.Capture {
		defer tracker.Advance()
		if err := guard.enter(ctx, u.Timeline); err != nil {
			return e.unitFailed(ctx, u, err, p.ledger, &fatalErr, cancel)
		}
		res := e.capture.Capture(ctx, u.Timeline, u.Frame, filepath.Join(scratch, u.TempName()))
		if !res.OK {
			if res.Err != nil && (session.IsUnavailable(res.Err) || ctx.Err() != nil) {
				return e.unitFailed(ctx, u, res.Err, p.ledger, &fatalErr, cancel)
			}
			p.ledger.Append(failure(u, res.Reason))
			return report.Capture{Reason: res.Reason}
		}
		data, err := os.ReadFile(res.Path)
		_ = os.Remove(res.Path)
		if err != nil {
			p.ledger.Append(failure(u, progress.ReasonEmptyOutput))
			return report.Capture{Reason: progress.ReasonEmptyOutput}
		}
		return report.Capture{Data: data}
	}

	sections := make([]report.Section, len(p.timelines))
	for i, tl := range p.timelines {
		sections[i] = report.Section{Timeline: tl, Units: p.units[i]}
	}

	doc, err := report.NewAssembler(opts, e.measure).Build(runCtx, sections, captureFn, p.ledger)
	if fatalErr != nil {
		return nil, fatalErr
	}
	if err != nil {
		return nil, err
	}
	if lost := report.Unprintable(doc, e.font); len(lost) > 0 {
		e.logger.Warn("report font cannot show some text; set DITREPORT_FONT_PATH to a UTF-8 TrueType font",
			"texts", len(lost), "first", lost[0])
	}
	data, err := report.RenderPDF(doc, e.font)
	if err != nil {
		return nil, err
	}
	tracker.Finish()

	e.logger.Info("document report generated", "pages", len(doc.Pages), "failures", p.ledger.Len())
	return &DocumentResult{
		Bytes:    data,
		Pages:    len(doc.Pages),
		Units:    p.total,
		Failures: p.ledger.Records(),
	}, nil
}

// unitFailed records a failure that ends the run and stops the assembler.
func (e *Engine) unitFailed(ctx context.Context, u capture.Unit, err error, ledger *progress.Ledger, fatalErr *error, cancel context.CancelFunc) report.Capture {
	reason := progress.ReasonSession
	if ctx.Err() != nil {
		reason = progress.ReasonCancelled
	}
	ledger.Append(failure(u, reason))
	if *fatalErr == nil && (session.IsUnavailable(err) || ctx.Err() != nil) {
		if ctx.Err() != nil {
			*fatalErr = ctx.Err()
		} else {
			*fatalErr = err
		}
		cancel()
	}
	return report.Capture{Reason: reason}
}

// GenerateTableReport flattens every item with media into one row and formats
// the result as CSV. It does not touch the playhead.
func (e *Engine) GenerateTableReport(ctx context.Context, sel Selection, obs progress.Observer) (*TableResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.lock.Release()

	p, err := e.plan(ctx, sel, capture.ModeClip, capture.RuleFirst)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker(p.total, obs)
	var rows []export.Row
	for _, tl := range p.timelines {
		for _, r := range export.BuildRows([]*catalog.Timeline{tl}) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows = append(rows, r)
			tracker.Advance()
		}
	}
	tracker.Finish()

	e.logger.Info("table report generated", "rows", len(rows), "failures", p.ledger.Len())
	return &TableResult{
		Text:      export.FormatCSV(rows),
		Rows:      rows,
		Headers:   export.Headers(rows),
		Timelines: p.timelines,
		Failures:  p.ledger.Records(),
	}, nil
}

// CaptureThumbnailBatch writes one still per unit straight into outputDir.
func (e *Engine) CaptureThumbnailBatch(ctx context.Context, sel Selection, outputDir string, obs progress.Observer) (*BatchResult, error) {
	if err := export.ValidateOutputDir(outputDir); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.lock.Release()

	guard, err := newStateGuard(ctx, e.sess, e.logger)
	if err != nil {
		return nil, err
	}
	defer guard.restore(ctx)

	mode := sel.Mode
	if mode == "" {
		mode = capture.ModeClip
	}
	p, err := e.plan(ctx, sel, mode, e.frameRule(sel))
	if err != nil {
		return nil, err
	}
	if p.total > 0 {
		if err := guard.ensureCapturePage(ctx); err != nil {
			return nil, err
		}
	}

	tracker := progress.NewTracker(p.total, obs)
	out := &BatchResult{OutputDir: outputDir}
	for i, tl := range p.timelines {
		for _, u := range p.units[i] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := guard.enter(ctx, tl); err != nil {
				return nil, err
			}
			path := filepath.Join(outputDir, export.StillName(u.Seq, tl.Name, u.Label(), u.Timecode()))
			res := e.capture.Capture(ctx, tl, u.Frame, path)
			switch {
			case res.OK:
				out.Files = append(out.Files, res.Path)
			case res.Err != nil && (session.IsUnavailable(res.Err) || ctx.Err() != nil):
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, res.Err
			default:
				p.ledger.Append(failure(u, res.Reason))
			}
			tracker.Advance()
		}
	}
	tracker.Finish()

	out.Failures = p.ledger.Records()
	e.logger.Info("thumbnail batch captured", "files", len(out.Files), "failures", len(out.Failures), "dir", logging.SanitizePath(outputDir))
	return out, nil
}

func (e *Engine) footerText(sel Selection) string {
	if sel.Footer != "" {
		return sel.Footer
	}
	return e.footer
}

func (e *Engine) cover(ctx context.Context, sel Selection) (*report.Cover, error) {
	req := sel.Cover
	c := &report.Cover{
		Branding: req.Branding,
		Title:    req.Title,
		Subtitle: req.Subtitle,
		Operator: req.Operator,
		Fields:   req.Fields,
	}
	if c.Title == "" {
		c.Title = sel.Title
	}
	if c.Operator == "" {
		c.Operator = e.operator
	}
	if c.Subtitle == "" || req.Stats {
		proj, err := e.cat.Scan(ctx)
		if err != nil {
			return nil, err
		}
		if c.Subtitle == "" {
			c.Subtitle = proj.Name
		}
		if req.Stats {
			stats := proj.Stats
			c.Stats = &stats
		}
	}
	return c, nil
}

func failure(u capture.Unit, reason string) progress.FailureRecord {
	return progress.FailureRecord{
		Timeline: u.Timeline.Name,
		Clip:     u.Label(),
		Timecode: u.Timecode(),
		Reason:   reason,
	}
}
