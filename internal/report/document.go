// Package report lays out paginated DIT reports as a device-independent list
// of draw operations and renders them to PDF.
package report

// Default page geometry in points.
const (
	LetterWidth  = 612.0
	LetterHeight = 792.0
)

// Op is a draw primitive positioned in points from the top-left corner.
type Op interface {
	op()
}

// TextOp draws a single line. Y is the baseline.
type TextOp struct {
	X, Y float64
	Text string
	Size float64
	Bold bool
	Gray float64
}

// ImageOp places encoded image bytes (JPEG or PNG) in a box.
type ImageOp struct {
	X, Y, W, H float64
	Data       []byte
	Format     string
}

// RectOp is a filled rectangle.
type RectOp struct {
	X, Y, W, H float64
	Gray       float64
}

func (TextOp) op()  {}
func (ImageOp) op() {}
func (RectOp) op()  {}

// Page is a fixed-size canvas. Blocks counts the clip or marker blocks laid
// out on it.
type Page struct {
	Width, Height float64
	Ops           []Op
	Blocks        int
}

func (p *Page) add(op Op) {
	p.Ops = append(p.Ops, op)
}

// Texts returns the text of every TextOp on the page, in draw order.
func (p *Page) Texts() []string {
	var out []string
	for _, op := range p.Ops {
		if t, ok := op.(TextOp); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

// Document is an ordered list of pages. Only the last page is written to.
type Document struct {
	Pages []*Page
}

func (d *Document) newPage(w, h float64) *Page {
	p := &Page{Width: w, Height: h}
	d.Pages = append(d.Pages, p)
	return p
}

// Blocks sums blocks across pages.
func (d *Document) Blocks() int {
	n := 0
	for _, p := range d.Pages {
		n += p.Blocks
	}
	return n
}
