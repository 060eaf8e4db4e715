package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ditkit/ditreport/internal/catalog"
)

func testTimeline() *catalog.Timeline {
	clip := &catalog.Clip{MediaID: "m1", Name: "A001"}
	return &catalog.Timeline{
		ID: "t1", Name: "A", FrameRate: 24, StartFrame: 1000,
		Items: []catalog.TrackItem{
			{Name: "A001", Track: 1, Start: 1000, End: 1048, Duration: 48, Clip: clip},
			{Name: "Gen", Track: 1, Start: 1048, End: 1060, Duration: 12},
			{Name: "A001", Track: 2, Start: 1060, End: 1061, Duration: 1, Clip: clip},
		},
		Markers: []catalog.Marker{{Offset: 1, Name: "head"}, {Offset: 70, Name: "tail"}},
	}
}

func TestClipFrame(t *testing.T) {
	it := &catalog.TrackItem{Start: 100, End: 148, Duration: 48}
	assert.Equal(t, int64(100), ClipFrame(it, RuleFirst))
	assert.Equal(t, int64(124), ClipFrame(it, RuleMiddle))
	assert.Equal(t, int64(147), ClipFrame(it, RuleLast))

	zero := &catalog.TrackItem{Start: 10, End: 20}
	assert.Equal(t, int64(19), ClipFrame(zero, RuleLast))
	assert.Equal(t, int64(10), ClipFrame(zero, RuleMiddle))
}

func TestPlan_ClipMode(t *testing.T) {
	tl := testTimeline()
	units := Plan([]*catalog.Timeline{tl, tl}, ModeClip, RuleMiddle)

	require.Len(t, units, 4, "generator items are skipped")
	assert.Equal(t, Count([]*catalog.Timeline{tl, tl}, ModeClip, RuleMiddle), len(units))
	assert.Equal(t, int64(1024), units[0].Frame)
	assert.Equal(t, int64(1060), units[1].Frame)
	for i, u := range units {
		assert.Equal(t, i+1, u.Seq)
	}
	assert.Equal(t, "A001", units[0].Label())
	assert.Equal(t, "unit_00001.jpg", units[0].TempName())
}

func TestPlan_MarkerMode(t *testing.T) {
	tl := testTimeline()
	units := Plan([]*catalog.Timeline{tl}, ModeMarker, RuleFirst)

	require.Len(t, units, 2)
	assert.Equal(t, Count([]*catalog.Timeline{tl}, ModeMarker, RuleFirst), len(units))
	assert.Equal(t, int64(1000), units[0].Frame)
	assert.Equal(t, "A001", units[0].ClipName(), "marker over a clip resolves it")
	assert.Equal(t, int64(1069), units[1].Frame)
	assert.Nil(t, units[1].Item, "marker past the last clip")
	assert.Equal(t, "tail", units[1].Label())
	assert.Equal(t, "00:00:41:16", units[0].Timecode())
}

func TestParse(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeClip, m)
	_, err = ParseMode("scene")
	assert.Error(t, err)

	r, err := ParseFrameRule("LAST")
	require.NoError(t, err)
	assert.Equal(t, RuleLast, r)
	_, err = ParseFrameRule("random")
	assert.Error(t, err)
}
