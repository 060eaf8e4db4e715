package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	coreFamily = "Helvetica"
	utf8Family = "ReportSans"
)

// FontConfig selects the text face. An empty Path uses core Helvetica with
// text translated to cp1252; otherwise Path names a UTF-8 TrueType font.
type FontConfig struct {
	Path string
}

type face struct {
	family string
	tr     func(string) string
}

func setupFont(pdf *fpdf.Fpdf, font FontConfig) face {
	if font.Path != "" {
		pdf.AddUTF8Font(utf8Family, "", font.Path)
		pdf.AddUTF8Font(utf8Family, "B", font.Path)
		return face{family: utf8Family, tr: func(s string) string { return s }}
	}
	return face{family: coreFamily, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

// Unprintable returns the distinct texts in doc that font cannot show. Core
// Helvetica covers cp1252 only and prints other runes as ".".
func Unprintable(doc *Document, font FontConfig) []string {
	if doc == nil || font.Path != "" {
		return nil
	}
	tr := newPDF(LetterWidth, LetterHeight).UnicodeTranslatorFromDescriptor("")
	seen := make(map[string]bool)
	var out []string
	for _, page := range doc.Pages {
		for _, text := range page.Texts() {
			if seen[text] {
				continue
			}
			seen[text] = true
			if strings.Count(tr(text), ".") > strings.Count(text, ".") {
				out = append(out, text)
			}
		}
	}
	return out
}

func style(bold bool) string {
	if bold {
		return "B"
	}
	return ""
}

func newPDF(w, h float64) *fpdf.Fpdf {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "pt",
		Size:    fpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	return pdf
}

// Measurer reports rendered text width in points.
type Measurer interface {
	TextWidth(s string, size float64, bold bool) float64
}

// FPDFMeasurer measures with the same font metrics RenderPDF uses.
type FPDFMeasurer struct {
	pdf  *fpdf.Fpdf
	face face
}

func NewMeasurer(font FontConfig) (*FPDFMeasurer, error) {
	pdf := newPDF(LetterWidth, LetterHeight)
	f := setupFont(pdf, font)
	pdf.AddPage()
	pdf.SetFont(f.family, "", 10)
	if pdf.Err() {
		return nil, fmt.Errorf("failed to load font: %w", pdf.Error())
	}
	return &FPDFMeasurer{pdf: pdf, face: f}, nil
}

func (m *FPDFMeasurer) TextWidth(s string, size float64, bold bool) float64 {
	m.pdf.SetFont(m.face.family, style(bold), size)
	return m.pdf.GetStringWidth(m.face.tr(s))
}

// RenderPDF draws doc into PDF bytes.
func RenderPDF(doc *Document, font FontConfig) ([]byte, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	first := doc.Pages[0]
	pdf := newPDF(first.Width, first.Height)
	f := setupFont(pdf, font)

	images := 0
	for _, page := range doc.Pages {
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: page.Width, Ht: page.Height})
		for _, op := range page.Ops {
			switch o := op.(type) {
			case TextOp:
				g := grayLevel(o.Gray)
				pdf.SetTextColor(g, g, g)
				pdf.SetFont(f.family, style(o.Bold), o.Size)
				pdf.Text(o.X, o.Y, f.tr(o.Text))
			case RectOp:
				g := grayLevel(o.Gray)
				pdf.SetFillColor(g, g, g)
				pdf.Rect(o.X, o.Y, o.W, o.H, "F")
			case ImageOp:
				images++
				name := fmt.Sprintf("img%d", images)
				opts := fpdf.ImageOptions{ImageType: imageType(o.Format)}
				pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(o.Data))
				pdf.ImageOptions(name, o.X, o.Y, o.W, o.H, false, opts, 0, "")
			}
		}
		if pdf.Err() {
			return nil, fmt.Errorf("failed to render page: %w", pdf.Error())
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func grayLevel(g float64) int {
	if g < 0 {
		g = 0
	}
	if g > 1 {
		g = 1
	}
	return int(g*255 + 0.5)
}

func imageType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "PNG"
	case "gif":
		return "GIF"
	default:
		return "JPG"
	}
}
