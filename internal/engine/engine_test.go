package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/session"
)

func writeSized(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{1}, size), 0o644))
	return p
}

// scenarioFixture is timeline "A" with two video clips of 1000 and 2000
// bytes and one audio clip, all on the first video track.
func scenarioFixture(t *testing.T) *session.Fixture {
	t.Helper()
	dir := t.TempDir()
	p := session.FixtureProject{
		Name:        "Shoot Day 1",
		CurrentPage: "media",
		Current:     "t2",
		Root: session.FixtureFolder{
			Name: "Master",
			Clips: []session.FixtureClip{
				{ID: "v1", Name: "A001", Properties: map[string]string{
					"Type": "Video", "File Path": writeSized(t, dir, "A001.mov", 1000), "Resolution": "1920x1080",
				}},
				{ID: "v2", Name: "A002", Properties: map[string]string{
					"Type": "Video", "File Path": writeSized(t, dir, "A002.mov", 2000),
				}, Metadata: map[string]string{"Scene": "4", "Take": "2"}},
				{ID: "a1", Name: "Boom", Properties: map[string]string{
					"Type": "Audio", "File Path": writeSized(t, dir, "boom.wav", 500),
				}},
			},
		},
		Timelines: []session.FixtureTimeline{
			{
				ID: "t1", Name: "A", FrameRate: 24, StartFrame: 86400, EndFrame: 86700,
				Playhead: "01:00:05:00",
				VideoTracks: [][]session.FixtureItem{{
					{Name: "A001", Start: 86400, End: 86448, MediaID: "v1"},
					{Name: "Gap"},
					{Name: "A002", Start: 86448, End: 86520, MediaID: "v2"},
					{Name: "Boom", Start: 86520, End: 86600, MediaID: "a1"},
				}},
				Markers: map[int64]session.Marker{
					10: {Name: "Slate", Color: "Blue"},
					1:  {Name: "Head", Color: "Red"},
				},
			},
			{ID: "t2", Name: "B", FrameRate: 24},
		},
	}
	f, err := session.NewFixture(p)
	require.NoError(t, err)
	return f
}

func newEngine(t *testing.T, f *session.Fixture, mod ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Session: f,
		Capture: capture.Options{
			PollInterval: time.Millisecond,
			MaxWait:      20 * time.Millisecond,
			RetryCount:   2,
			Backoff:      []time.Duration{time.Millisecond},
		},
		ScratchDir: t.TempDir(),
		Footer:     "test footer",
	}
	for _, m := range mod {
		m(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

type recorder struct {
	events []progress.Event
}

func (r *recorder) Observe(e progress.Event) { r.events = append(r.events, e) }

func (r *recorder) percents() []float64 {
	var out []float64
	for _, e := range r.events {
		if e.Type == progress.EventProgress {
			out = append(out, e.Progress)
		}
	}
	return out
}

func assertMonotonicTo100(t *testing.T, p []float64) {
	t.Helper()
	require.NotEmpty(t, p)
	for i := 1; i < len(p); i++ {
		assert.GreaterOrEqual(t, p[i], p[i-1], "progress went backwards at %d", i)
	}
	assert.Equal(t, 100.0, p[len(p)-1])
}

func TestGenerateTableReport_Scenario(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)
	rec := &recorder{}

	res, err := e.GenerateTableReport(context.Background(), Selection{Timelines: []string{"A"}}, rec)
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	for _, r := range res.Rows {
		assert.Equal(t, "A", r["Timeline Name"])
	}
	assert.Empty(t, res.Failures)
	assert.Equal(t, 0, f.ExportCount(), "table reports never capture")

	records, err := csv.NewReader(strings.NewReader(res.Text)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"Clip Name", "File Path", "Resolution", "Scene", "Take", "Timeline Name", "Type"}, records[0])

	p := rec.percents()
	assert.Len(t, p, 3, "one advance per row")
	assertMonotonicTo100(t, p)
}

func TestGenerateDocumentReport_Success(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)
	rec := &recorder{}

	res, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"A"}}, rec)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(res.Bytes, []byte("%PDF")))
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 3, res.Units)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 3, f.ExportCount())
	assert.Len(t, rec.percents(), res.Units, "pre-pass total equals advance calls")
	assertMonotonicTo100(t, rec.percents())
}

func TestGenerateDocumentReport_AlwaysFails(t *testing.T) {
	f := scenarioFixture(t)
	f.Export = func(int, string) (bool, error) { return false, nil }
	e := newEngine(t, f)
	rec := &recorder{}

	res, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"A"}}, rec)
	require.NoError(t, err)

	require.Len(t, res.Failures, 3, "one ledger entry per clip")
	for _, fr := range res.Failures {
		assert.Equal(t, "A", fr.Timeline)
		assert.Equal(t, progress.ReasonExportFailed, fr.Reason)
	}
	assert.Equal(t, 6, f.ExportCount(), "two attempts per unit")
	assert.True(t, bytes.HasPrefix(res.Bytes, []byte("%PDF")))
	assertMonotonicTo100(t, rec.percents())
}

func TestGenerateDocumentReport_RestoresSessionState(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)

	_, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"A"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "media", f.Page())
	assert.Equal(t, "01:00:05:00", f.Playhead("t1"))
	cur, err := f.CurrentTimeline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t2", cur.ID)

	calls := f.Calls()
	assert.Contains(t, calls, "page edit")
	assert.Equal(t, "page media", calls[len(calls)-1])
}

func TestGenerateDocumentReport_MarkerMode(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)

	res, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"t1"}, Mode: capture.ModeMarker}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Units)

	var targets []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, "timecode t1 ") && !strings.HasSuffix(c, "01:00:05:00") {
			targets = append(targets, strings.TrimPrefix(c, "timecode t1 "))
		}
	}
	// Offsets 1 and 10 are frames 86400 and 86409, in ascending order.
	assert.Equal(t, []string{"01:00:00:00", "01:00:00:09"}, targets)
}

func TestGenerateDocumentReport_MissingTimeline(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)

	res, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"Nope", "A"}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, progress.ReasonTimelineNotFound, res.Failures[0].Reason)
	assert.Equal(t, "Nope", res.Failures[0].Timeline)
	assert.Equal(t, 3, res.Units)
}

func TestGenerateDocumentReport_NothingResolves(t *testing.T) {
	e := newEngine(t, scenarioFixture(t))
	_, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"Nope"}}, nil)
	require.ErrorIs(t, err, ErrNoTimelines)
}

func TestGenerateDocumentReport_ZeroUnitsStillFinishes(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f)
	rec := &recorder{}

	// Empty selection means the current timeline, which has no clips.
	res, err := e.GenerateDocumentReport(context.Background(), Selection{}, rec)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Units)
	assert.Equal(t, []float64{100}, rec.percents())
	assert.Equal(t, "media", f.Page(), "no capture means no page switch")
}

func TestGenerateDocumentReport_SessionLostIsTerminal(t *testing.T) {
	f := scenarioFixture(t)
	f.Export = func(call int, path string) (bool, error) {
		if call == 2 {
			f.Unavailable = true
			return false, &session.Error{Op: "export_frame", Err: session.ErrUnavailable}
		}
		return true, f.WriteStill(path)
	}
	e := newEngine(t, f)

	res, err := e.GenerateDocumentReport(context.Background(), Selection{Timelines: []string{"A"}}, nil)
	require.Error(t, err)
	assert.True(t, session.IsUnavailable(err))
	assert.Nil(t, res)
	assert.False(t, e.Lock().Held(), "lock released after a terminal error")
}

func TestGenerateDocumentReport_Cancelled(t *testing.T) {
	f := scenarioFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.Export = func(call int, path string) (bool, error) {
		cancel()
		return true, f.WriteStill(path)
	}
	e := newEngine(t, f)

	_, err := e.GenerateDocumentReport(ctx, Selection{Timelines: []string{"A"}}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "01:00:05:00", f.Playhead("t1"), "playhead restored after cancellation")
	assert.Equal(t, "media", f.Page())
}

func TestCaptureThumbnailBatch(t *testing.T) {
	f := scenarioFixture(t)
	f.Export = func(call int, path string) (bool, error) {
		if call == 1 {
			return false, nil
		}
		return true, f.WriteStill(path)
	}
	e := newEngine(t, f, func(c *Config) { c.Capture.RetryCount = 1 })
	out := t.TempDir()
	rec := &recorder{}

	res, err := e.CaptureThumbnailBatch(context.Background(), Selection{Timelines: []string{"A"}, Rule: capture.RuleFirst}, out, rec)
	require.NoError(t, err)

	assert.Len(t, res.Files, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "A001", res.Failures[0].Clip)
	for _, p := range res.Files {
		assert.Equal(t, out, filepath.Dir(p))
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.True(t, strings.HasPrefix(filepath.Base(res.Files[0]), "0002_A_A002_"))
	assertMonotonicTo100(t, rec.percents())
}

func TestCaptureThumbnailBatch_BadOutputDir(t *testing.T) {
	e := newEngine(t, scenarioFixture(t))
	_, err := e.CaptureThumbnailBatch(context.Background(), Selection{}, filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
}

func TestNoWaitRejectsConcurrentRun(t *testing.T) {
	f := scenarioFixture(t)
	e := newEngine(t, f, func(c *Config) { c.NoWait = true })
	require.NoError(t, e.Lock().TryAcquire())
	defer e.Lock().Release()

	_, err := e.GenerateTableReport(context.Background(), Selection{}, nil)
	require.ErrorIs(t, err, session.ErrBusy)
}

func TestUnavailableBeforeStart(t *testing.T) {
	f := scenarioFixture(t)
	f.Unavailable = true
	e := newEngine(t, f)

	_, err := e.GenerateTableReport(context.Background(), Selection{Timelines: []string{"A"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrUnavailable))
}
