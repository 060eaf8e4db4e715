package report

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ditkit/ditreport/internal/capture"
)

func TestRenderPDF(t *testing.T) {
	m, err := NewMeasurer(FontConfig{})
	require.NoError(t, err)

	img := jpegBytes(t, 32, 18)
	a := NewAssembler(Options{Footer: "Généré par ditreport", Now: fixedNow}, m)
	doc, err := a.Build(context.Background(), []Section{sectionFor(timelineWith(9))}, func(_ context.Context, u capture.Unit) Capture {
		if u.Seq%2 == 0 {
			return Capture{}
		}
		return Capture{Data: img}
	}, nil)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)

	out, err := RenderPDF(doc, FontConfig{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Greater(t, len(out), 1000)
}

func TestRenderPDF_Empty(t *testing.T) {
	_, err := RenderPDF(&Document{}, FontConfig{})
	assert.Error(t, err)
}

func TestMeasurer(t *testing.T) {
	m, err := NewMeasurer(FontConfig{})
	require.NoError(t, err)

	short := m.TextWidth("abc", 10, false)
	long := m.TextWidth("abcabc", 10, false)
	assert.Positive(t, short)
	assert.InDelta(t, 2*short, long, 0.01)
	assert.Greater(t, m.TextWidth("abc", 20, false), short)
	assert.GreaterOrEqual(t, m.TextWidth("abc", 10, true), short)

	_, err = NewMeasurer(FontConfig{Path: "/does/not/exist.ttf"})
	assert.Error(t, err)
}

func TestUnprintable(t *testing.T) {
	doc := &Document{Pages: []*Page{{
		Width: LetterWidth, Height: LetterHeight,
		Ops: []Op{
			TextOp{Text: "Día 1. Exterior"},
			TextOp{Text: "撮影 2日目"},
			TextOp{Text: "撮影 2日目"},
			RectOp{W: 10, H: 10},
		},
	}}}

	assert.Equal(t, []string{"撮影 2日目"}, Unprintable(doc, FontConfig{}))
	assert.Nil(t, Unprintable(doc, FontConfig{Path: "/fonts/NotoSansCJK.ttf"}), "a UTF-8 font shows everything")
}
