package engine

import (
	"context"

	"github.com/ditkit/ditreport/internal/progress"
)

// Outcome is what a streamed run reports in its terminal event.
type Outcome struct {
	FilePath string
	Units    int
	Failures []progress.FailureRecord
}

// RunFunc is one engine operation bound to its arguments.
type RunFunc func(ctx context.Context, obs progress.Observer) (Outcome, error)

// Stream runs fn in the background and returns its events: zero or more
// progress events followed by exactly one complete or error event. The
// channel is closed after the terminal event.
func Stream(ctx context.Context, fn RunFunc) <-chan progress.Event {
	ch := progress.NewChannel(64)
	go func() {
		defer ch.Close()
		out, err := fn(ctx, ch)
		if err != nil {
			ch.Observe(progress.Event{Type: progress.EventError, Error: err.Error()})
			return
		}
		ch.Observe(progress.Event{
			Type:     progress.EventComplete,
			Progress: 100,
			FilePath: out.FilePath,
			Units:    out.Units,
			Failures: out.Failures,
		})
	}()
	return ch.Events()
}
