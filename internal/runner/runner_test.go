package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/db"
	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/progress"
	"github.com/ditkit/ditreport/internal/session"
	"github.com/ditkit/ditreport/internal/sse"
)

const projectYAML = `
name: Runner Test
current_page: edit
root:
  clips:
    - id: m1
      name: A001
      properties:
        Type: Video
        File Path: /media/A001.mov
        Start TC: "01:00:00:00"
    - id: m2
      name: A002
      properties:
        Type: Video
        File Path: /media/A002.mov
timelines:
  - id: t1
    name: Day 1
    frame_rate: 24
    start_frame: 86400
    end_frame: 86600
    video_tracks:
      - - name: A001
          start: 86400
          end: 86448
          media_id: m1
        - name: A002
          start: 86448
          end: 86496
          media_id: m2
`

type harness struct {
	runner *Runner
	repo   *history.SQLiteRepository
	hub    *sse.Hub
	fix    *session.Fixture
	out    string
	dbPath string
}

func setupRunner(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	repo := history.NewRepository(database.Conn())

	fix, err := session.ParseFixture([]byte(projectYAML))
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{
		Session: fix,
		Capture: capture.Options{
			PollInterval: time.Millisecond,
			MaxWait:      20 * time.Millisecond,
			RetryCount:   1,
		},
		ScratchDir: t.TempDir(),
		NoWait:     true,
	})
	require.NoError(t, err)

	hub := sse.New()
	out := filepath.Join(t.TempDir(), "reports")
	r := New(eng, repo, hub, out, nil)
	r.pollInterval = 10 * time.Millisecond
	return &harness{runner: r, repo: repo, hub: hub, fix: fix, out: out, dbPath: dbPath}
}

func (h *harness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.runner.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) wait(t *testing.T, id string) *history.Run {
	t.Helper()
	require.Eventually(t, func() bool { return h.hub.Closed(id) }, 5*time.Second, 5*time.Millisecond)
	run, err := h.repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run
}

func lastEvent(t *testing.T, hub *sse.Hub, id string) progress.Event {
	t.Helper()
	events := hub.Since(id, 0)
	require.NotEmpty(t, events)
	var ev progress.Event
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &ev))
	return ev
}

func TestRunner_TableRun(t *testing.T) {
	h := setupRunner(t)
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{Kind: history.KindTable})
	require.NoError(t, err)
	assert.Equal(t, history.StatusPending, run.Status)

	got := h.wait(t, run.ID)
	assert.Equal(t, history.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, got.Units)
	assert.Equal(t, h.out, filepath.Dir(got.FilePath))
	assert.True(t, strings.HasSuffix(got.FilePath, ".csv"))

	data, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Clip Name,"))

	ev := lastEvent(t, h.hub, run.ID)
	assert.Equal(t, progress.EventComplete, ev.Type)
	assert.Equal(t, got.FilePath, ev.FilePath)
	assert.False(t, h.runner.Busy())
}

func TestRunner_DocumentRun(t *testing.T) {
	h := setupRunner(t)
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{
		Kind:      history.KindDocument,
		Selection: engine.Selection{Timelines: []string{"Day 1"}, Title: "Day 1 Dailies"},
	})
	require.NoError(t, err)

	got := h.wait(t, run.ID)
	require.Equal(t, history.StatusCompleted, got.Status, got.Error)
	assert.Contains(t, filepath.Base(got.FilePath), "Day_1_Dailies_")
	data, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
	assert.Equal(t, 2, h.fix.ExportCount())
}

func TestRunner_ParquetAndEDL(t *testing.T) {
	h := setupRunner(t)
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{Kind: history.KindTable, Format: FormatParquet})
	require.NoError(t, err)
	got := h.wait(t, run.ID)
	require.Equal(t, history.StatusCompleted, got.Status, got.Error)
	assert.True(t, strings.HasSuffix(got.FilePath, ".parquet"))

	run, err = h.runner.Submit(context.Background(), Request{Kind: history.KindEDL})
	require.NoError(t, err)
	got = h.wait(t, run.ID)
	require.Equal(t, history.StatusCompleted, got.Status, got.Error)
	data, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "TITLE: Day 1")
	assert.Contains(t, string(data), "001  A001")
}

func TestRunner_ThumbnailRun(t *testing.T) {
	h := setupRunner(t)
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{Kind: history.KindThumbnails})
	require.NoError(t, err)
	got := h.wait(t, run.ID)
	require.Equal(t, history.StatusCompleted, got.Status, got.Error)

	entries, err := os.ReadDir(got.FilePath)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunner_FailedRun(t *testing.T) {
	h := setupRunner(t)
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{
		Kind:      history.KindDocument,
		Selection: engine.Selection{Timelines: []string{"Missing"}},
	})
	require.NoError(t, err)

	got := h.wait(t, run.ID)
	assert.Equal(t, history.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no timelines selected")

	ev := lastEvent(t, h.hub, run.ID)
	assert.Equal(t, progress.EventError, ev.Type)
	entries, _ := os.ReadDir(h.out)
	assert.Empty(t, entries, "nothing written for a failed run")
}

func TestRunner_SubmitWhileBusy(t *testing.T) {
	h := setupRunner(t)
	h.runner.Pause()
	h.start(t)

	first, err := h.runner.Submit(context.Background(), Request{Kind: history.KindTable})
	require.NoError(t, err)

	_, err = h.runner.Submit(context.Background(), Request{Kind: history.KindTable})
	require.ErrorIs(t, err, session.ErrBusy)

	require.NoError(t, h.runner.Cancel(context.Background(), first.ID))
	got, err := h.repo.GetRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCancelled, got.Status)
	assert.False(t, h.runner.Busy())

	h.runner.Resume()
	second, err := h.runner.Submit(context.Background(), Request{Kind: history.KindTable})
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, h.wait(t, second.ID).Status)
}

func TestRunner_QueuedRunSurvivesSecondOpen(t *testing.T) {
	h := setupRunner(t)
	h.runner.Pause()
	h.start(t)

	run, err := h.runner.Submit(context.Background(), Request{Kind: history.KindTable})
	require.NoError(t, err)

	other, err := db.New(h.dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, other.Close())

	got, err := h.repo.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusPending, got.Status)

	h.runner.Resume()
	assert.Equal(t, history.StatusCompleted, h.wait(t, run.ID).Status)
	assert.False(t, h.runner.Busy())
}

func TestRunner_ReleasesQueuedRunFinishedElsewhere(t *testing.T) {
	ctx := context.Background()

	t.Run("next poll", func(t *testing.T) {
		h := setupRunner(t)
		run, err := h.runner.Submit(ctx, Request{Kind: history.KindTable})
		require.NoError(t, err)
		require.NoError(t, h.repo.UpdateRunStatus(ctx, run.ID, history.StatusFailed, db.InterruptedError))

		h.runner.processNextRun(ctx)
		assert.False(t, h.runner.Busy())
		assert.True(t, h.hub.Closed(run.ID))

		_, err = h.runner.Submit(ctx, Request{Kind: history.KindTable})
		assert.NoError(t, err)
	})

	t.Run("cancel", func(t *testing.T) {
		h := setupRunner(t)
		run, err := h.runner.Submit(ctx, Request{Kind: history.KindTable})
		require.NoError(t, err)
		require.NoError(t, h.repo.UpdateRunStatus(ctx, run.ID, history.StatusFailed, db.InterruptedError))

		require.NoError(t, h.runner.Cancel(ctx, run.ID))
		assert.False(t, h.runner.Busy())
	})

	t.Run("pending run keeps the slot", func(t *testing.T) {
		h := setupRunner(t)
		_, err := h.runner.Submit(ctx, Request{Kind: history.KindTable})
		require.NoError(t, err)

		h.runner.releaseQueued(ctx, "")
		assert.True(t, h.runner.Busy())
	})
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, Request{Kind: history.KindTable, Format: FormatCSV}.Validate())
	assert.Error(t, Request{Kind: history.KindTable, Format: "xlsx"}.Validate())
	assert.Error(t, Request{Kind: "video"}.Validate())
}
