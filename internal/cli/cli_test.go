package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ditkit/ditreport/internal/session"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fixtureArgs(args ...string) []string {
	return append(args, "--session", SessionFixture, "--fixture", filepath.Join("testdata", "project.yaml"))
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("DITREPORT_DATA_DIR", dataDir)
	t.Setenv("DITREPORT_CAPTURE_POLL_MS", "1")
	t.Setenv("DITREPORT_LOG_LEVEL", "error")
	return dataDir
}

func TestTimelinesJSON(t *testing.T) {
	setupEnv(t)
	out, err := runCLI(t, fixtureArgs("timelines", "--json")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Day 1"`)
	assert.Contains(t, out, `"clip_count": 2`)
}

func TestStats(t *testing.T) {
	setupEnv(t)
	out, err := runCLI(t, fixtureArgs("stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "CLI Test")
	assert.Contains(t, out, "Video clips")
}

func TestReportTableAndHistory(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()

	out, err := runCLI(t, fixtureArgs("report", "table", "-t", "Day 1", "-o", dir, "--title", "Day One")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote ")

	matches, err := filepath.Glob(filepath.Join(dir, "Day_One_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "A001_C002")

	out, err = runCLI(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "table")
	assert.Contains(t, out, "completed")
}

func TestReportWaitsForSessionLock(t *testing.T) {
	dataDir := setupEnv(t)
	dir := t.TempDir()

	held, err := session.NewFileLock(filepath.Join(dataDir, session.LockFileName))
	require.NoError(t, err)
	require.NoError(t, held.TryAcquire())
	released := false
	t.Cleanup(func() {
		if !released {
			held.Release()
		}
	})

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runCLI(t, fixtureArgs("report", "table", "-t", "Day 1", "-o", dir)...)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("report finished while another process held the session: %v %s", r.err, r.out)
	case <-time.After(300 * time.Millisecond):
	}
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)

	held.Release()
	released = true
	select {
	case r := <-done:
		require.NoError(t, r.err, r.out)
	case <-time.After(5 * time.Second):
		t.Fatal("report did not start after the lock was released")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	assert.Len(t, matches, 1)
}

func TestReportPDF(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()

	out, err := runCLI(t, fixtureArgs("report", "pdf", "-o", dir, "--cover", "--field", "Camera=A")...)
	require.NoError(t, err, out)

	matches, _ := filepath.Glob(filepath.Join(dir, "*.pdf"))
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestThumbnailsMarkerMode(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()

	out, err := runCLI(t, fixtureArgs("thumbnails", "--mode", "marker", "-o", dir)...)
	require.NoError(t, err, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".jpg"))
}

func TestRunErrors(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "timelines", "--session", SessionFixture)
	assert.ErrorContains(t, err, "--fixture is required")

	_, err = runCLI(t, "timelines", "--session", "carrier-pigeon")
	assert.ErrorContains(t, err, "unknown session")

	_, err = runCLI(t, fixtureArgs("report", "table", "--format", "xlsx")...)
	assert.ErrorContains(t, err, "unknown table format")

	_, err = runCLI(t, fixtureArgs("report", "pdf", "--field", "=oops")...)
	assert.ErrorContains(t, err, "invalid --field")

	_, err = runCLI(t, fixtureArgs("report", "table", "-t", "Nope")...)
	assert.ErrorContains(t, err, "no timelines selected")

	_, err = runCLI(t, "runs", "missing-id")
	assert.ErrorContains(t, err, "no run with id")
}

func TestCoverRequest(t *testing.T) {
	c, err := coverRequest("Dailies", "", "Sam", true, []string{"Camera=A", "Lens=35mm=wide"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Dailies", c.Title)
	require.Len(t, c.Fields, 2)
	assert.Equal(t, "35mm=wide", c.Fields[1].Value)

	_, err = coverRequest("", "", "", false, nil, filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab...", truncateRunes("abcdefgh", 5))
	assert.Equal(t, "", truncateRunes("abc", 0))
}
