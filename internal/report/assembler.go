package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/progress"
)

// NA stands in for any missing field.
const NA = "N/A"

const (
	DefaultTitle       = "DIT Report"
	DefaultMargin      = 40.0
	DefaultBlockHeight = 100.0
	DefaultThumbWidth  = 120.0
	DefaultThumbHeight = 80.0

	headerHeight   = 78.0
	metaGap        = 15.0
	lineGap        = 11.0
	coverSpacing   = 10.0
	placeholderBg  = 0.9
	placeholderInk = 0.5
	footerSize     = 8.0
)

// Field is a free-form label/value pair shown on the cover page.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Cover configures the optional first page.
type Cover struct {
	Branding []byte
	Title    string
	Subtitle string
	Operator string
	Stats    *catalog.Stats
	Fields   []Field
}

type Options struct {
	Title       string
	PageWidth   float64
	PageHeight  float64
	Margin      float64
	BlockHeight float64
	ThumbWidth  float64
	ThumbHeight float64
	Footer      string
	Cover       *Cover
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.PageWidth <= 0 {
		o.PageWidth = LetterWidth
	}
	if o.PageHeight <= 0 {
		o.PageHeight = LetterHeight
	}
	if o.Margin <= 0 {
		o.Margin = DefaultMargin
	}
	if o.BlockHeight <= 0 {
		o.BlockHeight = DefaultBlockHeight
	}
	if o.ThumbWidth <= 0 {
		o.ThumbWidth = DefaultThumbWidth
	}
	if o.ThumbHeight <= 0 {
		o.ThumbHeight = DefaultThumbHeight
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Section is one timeline and its units in processing order.
type Section struct {
	Timeline *catalog.Timeline
	Units    []capture.Unit
}

// Capture is what a CaptureFunc hands back. Data is nil on failure.
type Capture struct {
	Data   []byte
	Reason string
}

// CaptureFunc produces the still for a unit. It is called exactly once per
// unit, in layout order.
type CaptureFunc func(ctx context.Context, u capture.Unit) Capture

type Assembler struct {
	opts    Options
	measure Measurer
}

func NewAssembler(opts Options, m Measurer) *Assembler {
	return &Assembler{opts: opts.withDefaults(), measure: m}
}

// Options returns the effective options.
func (a *Assembler) Options() Options { return a.opts }

// UsableHeight is the vertical space between the top and bottom margins.
func (a *Assembler) UsableHeight() float64 {
	return a.opts.PageHeight - 2*a.opts.Margin
}

type layout struct {
	a    *Assembler
	doc  *Document
	page *Page
	y    float64
}

func (l *layout) newPage() {
	l.page = l.doc.newPage(l.a.opts.PageWidth, l.a.opts.PageHeight)
	l.y = l.a.opts.Margin
}

// fits reports whether h more points fit above the bottom margin.
func (l *layout) fits(h float64) bool {
	return l.y+h <= l.a.opts.PageHeight-l.a.opts.Margin
}

// Build lays out the cover, then every section on a fresh page, then stamps
// footers. Decode failures become placeholders and ledger entries.
func (a *Assembler) Build(ctx context.Context, sections []Section, fn CaptureFunc, ledger *progress.Ledger) (*Document, error) {
	l := &layout{a: a, doc: &Document{}}
	if a.opts.Cover != nil {
		l.newPage()
		a.drawCover(l, a.opts.Cover)
	}

	for _, sec := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.newPage()
		a.drawHeader(l, sec)

		for i, u := range sec.Units {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !l.fits(a.opts.BlockHeight) {
				l.newPage()
			}
			c := fn(ctx, u)
			if c.Data != nil {
				if _, _, err := image.DecodeConfig(bytes.NewReader(c.Data)); err != nil && ledger != nil {
					ledger.Append(progress.FailureRecord{
						Timeline: sec.Timeline.Name,
						Clip:     u.Label(),
						Timecode: u.Timecode(),
						Reason:   progress.ReasonImageDecode,
					})
				}
			}
			a.drawBlock(l, i+1, u, c.Data)
		}
	}

	if len(l.doc.Pages) == 0 {
		l.newPage()
	}
	a.stampFooters(l.doc)
	return l.doc, nil
}

func (a *Assembler) centered(l *layout, text string, size float64, bold bool, gray float64) {
	w := a.measure.TextWidth(text, size, bold)
	l.y += size
	l.page.add(TextOp{X: (a.opts.PageWidth - w) / 2, Y: l.y, Text: text, Size: size, Bold: bold, Gray: gray})
	l.y += coverSpacing
}

func (a *Assembler) drawCover(l *layout, c *Cover) {
	o := a.opts
	l.y = o.PageHeight / 5

	if len(c.Branding) > 0 {
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(c.Branding)); err == nil {
			w, h := fit(float64(cfg.Width), float64(cfg.Height), 200, 80)
			l.page.add(ImageOp{X: (o.PageWidth - w) / 2, Y: l.y, W: w, H: h, Data: c.Branding, Format: format})
			l.y += h + coverSpacing*2
		}
	}

	title := c.Title
	if title == "" {
		title = o.Title
	}
	a.centered(l, title, 26, true, 0)
	if c.Subtitle != "" {
		a.centered(l, c.Subtitle, 16, false, 0.2)
	}
	a.centered(l, o.Now().Format("January 2, 2006"), 12, false, 0.3)
	if c.Operator != "" {
		a.centered(l, "Operator: "+c.Operator, 12, false, 0.3)
	}

	if c.Stats != nil {
		l.y += coverSpacing * 2
		s := c.Stats
		a.centered(l, "Project Statistics", 14, true, 0)
		a.centered(l, fmt.Sprintf("Video Clips: %d", s.Video), 11, false, 0)
		a.centered(l, fmt.Sprintf("Audio Clips: %d", s.Audio), 11, false, 0)
		a.centered(l, fmt.Sprintf("Other Clips: %d", s.Other), 11, false, 0)
		a.centered(l, fmt.Sprintf("Timelines: %d", s.Timelines), 11, false, 0)
		a.centered(l, "Total Size: "+FormatSize(s.TotalSize, true), 11, false, 0)
	}

	if len(c.Fields) > 0 {
		l.y += coverSpacing * 2
		for _, f := range c.Fields {
			a.centered(l, f.Label+": "+orNA(f.Value), 11, false, 0)
		}
	}
}

func (a *Assembler) drawHeader(l *layout, sec Section) {
	o := a.opts
	x := o.Margin
	top := l.y
	tl := sec.Timeline
	sum := tl.Summary()

	l.page.add(TextOp{X: x, Y: top + 18, Text: o.Title, Size: 18, Bold: true})
	l.page.add(TextOp{X: x, Y: top + 36, Text: "Timeline: " + tl.Name, Size: 13})
	info := fmt.Sprintf("Clips: %d  |  Total Size: %s  |  Frame Rate: %s fps  |  Generated: %s",
		sum.ClipCount, FormatSize(sum.TotalSize, true), formatRate(tl.FrameRate), o.Now().Format("2006-01-02 15:04"))
	l.page.add(TextOp{X: x, Y: top + 52, Text: info, Size: 9, Gray: 0.3})
	l.page.add(RectOp{X: x, Y: top + 62, W: o.PageWidth - 2*o.Margin, H: 0.75, Gray: 0.6})
	l.y = top + headerHeight
}

func (a *Assembler) drawBlock(l *layout, n int, u capture.Unit, data []byte) {
	o := a.opts
	top := l.y
	tx, ty := o.Margin, top

	placed := false
	if data != nil {
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width > 0 && cfg.Height > 0 {
			w, h := fit(float64(cfg.Width), float64(cfg.Height), o.ThumbWidth, o.ThumbHeight)
			l.page.add(ImageOp{
				X: tx + (o.ThumbWidth-w)/2, Y: ty + (o.ThumbHeight-h)/2, W: w, H: h,
				Data: data, Format: format,
			})
			placed = true
		}
	}
	if !placed {
		l.page.add(RectOp{X: tx, Y: ty, W: o.ThumbWidth, H: o.ThumbHeight, Gray: placeholderBg})
		label := "No Thumbnail"
		w := a.measure.TextWidth(label, 8, false)
		l.page.add(TextOp{X: tx + (o.ThumbWidth-w)/2, Y: ty + o.ThumbHeight/2 + 3, Text: label, Size: 8, Gray: placeholderInk})
	}

	mx := tx + o.ThumbWidth + metaGap
	colW := (o.PageWidth - o.Margin - mx) / 2
	lines := blockLines(u)
	l.page.add(TextOp{X: mx, Y: top + 10, Text: a.truncate(fmt.Sprintf("%d. %s", n, orNA(lines.title)), 2*colW, 11, true), Size: 11, Bold: true})

	y := top + 24
	for _, s := range lines.left {
		l.page.add(TextOp{X: mx, Y: y, Text: a.truncate(s, colW-6, 8.5, false), Size: 8.5})
		y += lineGap
	}
	y = top + 24
	for _, s := range lines.right {
		l.page.add(TextOp{X: mx + colW, Y: y, Text: a.truncate(s, colW, 8.5, false), Size: 8.5})
		y += lineGap
	}
	y = top + 24 + 6*lineGap
	for _, s := range lines.paths {
		l.page.add(TextOp{X: mx, Y: y, Text: a.truncate(s, 2*colW, 7, false), Size: 7, Gray: 0.25})
		y += 8
	}

	l.page.Blocks++
	l.y = top + o.BlockHeight
}

type block struct {
	title string
	left  []string
	right []string
	paths []string
}

func blockLines(u capture.Unit) block {
	var clip *catalog.Clip
	if u.Item != nil {
		clip = u.Item.Clip
	}
	field := func(key string) string { return orNA(clip.Property(key)) }
	meta := func(key string) string { return orNA(clip.Meta(key)) }

	size := NA
	if clip != nil && clip.SizeKnown {
		size = FormatSize(clip.FileSize, false)
	}
	clipLines := []string{
		fmt.Sprintf("Source TC: %s - %s", field(catalog.PropStartTC), field(catalog.PropEndTC)),
		"Duration: " + field(catalog.PropDuration),
		fmt.Sprintf("Frame Rate: %s fps", field(catalog.PropFPS)),
		"File Size: " + size,
		"Resolution: " + field(catalog.PropResolution),
		"Date Created: " + field(catalog.PropDateCreated),
	}
	right := []string{
		fmt.Sprintf("Scene / Shot / Take: %s / %s / %s", meta(catalog.MetaScene), meta(catalog.MetaShot), meta(catalog.MetaTake)),
		fmt.Sprintf("Angle / Move / Day-Night: %s / %s / %s", meta(catalog.MetaAngle), meta(catalog.MetaMove), meta(catalog.MetaDayNight)),
		"Good Take: " + goodTake(clip.Meta(catalog.MetaGoodTake)),
		"File Name: " + orNA(clip.FileName()),
	}
	paths := []string{
		"File Path: " + field(catalog.PropFilePath),
		"Proxy Path: " + field(catalog.PropProxyPath),
	}

	if u.Marker != nil {
		m := u.Marker
		return block{
			title: u.Label(),
			left: []string{
				"Timecode: " + u.Timecode(),
				"Color: " + orNA(m.Color),
				"Note: " + orNA(m.Note),
				"Clip: " + orNA(u.ClipName()),
				"Duration: " + fmt.Sprintf("%d frames", max(m.Duration, 1)),
				"File Size: " + size,
			},
			right: right,
			paths: paths,
		}
	}
	return block{title: u.ClipName(), left: clipLines, right: right, paths: paths}
}

func (a *Assembler) stampFooters(doc *Document) {
	o := a.opts
	total := len(doc.Pages)
	for i, p := range doc.Pages {
		y := p.Height - o.Margin/2
		if o.Footer != "" {
			w := a.measure.TextWidth(o.Footer, footerSize, false)
			p.add(TextOp{X: (p.Width - w) / 2, Y: y, Text: o.Footer, Size: footerSize, Gray: placeholderInk})
		}
		num := fmt.Sprintf("Page %d of %d", i+1, total)
		w := a.measure.TextWidth(num, footerSize, false)
		p.add(TextOp{X: p.Width - o.Margin - w, Y: y, Text: num, Size: footerSize, Gray: placeholderInk})
	}
}

// truncate shortens s with a trailing "..." until it fits width.
func (a *Assembler) truncate(s string, width, size float64, bold bool) string {
	if width <= 0 || a.measure.TextWidth(s, size, bold) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		t := strings.TrimRight(string(r), " ") + "..."
		if a.measure.TextWidth(t, size, bold) <= width {
			return t
		}
	}
	return "..."
}

// fit scales w×h to the largest size inside bw×bh keeping aspect ratio.
func fit(w, h, bw, bh float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return bw, bh
	}
	scale := bw / w
	if s := bh / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}

// FormatSize renders bytes in base-1024 units. Non-positive sizes render as
// N/A unless zeroOK is set.
func FormatSize(n int64, zeroOK bool) string {
	if n <= 0 {
		if zeroOK {
			return "0 B"
		}
		return NA
	}
	return humanize.IBytes(uint64(n))
}

func formatRate(r float64) string {
	if r <= 0 {
		return NA
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", r), "0"), ".")
}

func goodTake(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return NA
	case "1", "true", "yes", "y":
		return "Yes"
	case "0", "false", "no", "n":
		return "No"
	default:
		return v
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NA
	}
	return s
}
