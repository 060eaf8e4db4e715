package cli

import (
	"fmt"
	"io"
	"os"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"

	"github.com/ditkit/ditreport/internal/progress"
)

// progressView renders run progress. On a terminal it redraws one bar in
// place; otherwise it prints a line every ten percent.
type progressView struct {
	w     io.Writer
	bar   bprogress.Model
	label string
	tty   bool
	step  int
	drawn bool
}

func newProgressView(w io.Writer, label string) *progressView {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressView{
		w:     w,
		bar:   bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40), bprogress.WithoutPercentage()),
		label: label,
		tty:   tty,
		step:  -1,
	}
}

var _ progress.Observer = (*progressView)(nil)

func (v *progressView) Observe(ev progress.Event) {
	pct := ev.Progress
	switch ev.Type {
	case progress.EventProgress:
	case progress.EventComplete:
		pct = 100
	default:
		return
	}

	if v.tty {
		fmt.Fprintf(v.w, "\r%s %s %3.0f%%", mutedStyle.Render(v.label), v.bar.ViewAs(pct/100), pct)
		v.drawn = true
		return
	}
	if step := int(pct) / 10; step != v.step {
		v.step = step
		fmt.Fprintf(v.w, "%s %3.0f%%\n", v.label, pct)
	}
}

// Done ends the in-place bar line.
func (v *progressView) Done() {
	if v.tty && v.drawn {
		fmt.Fprintln(v.w)
	}
}
