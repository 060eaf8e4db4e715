package capture

import (
	"fmt"
	"strings"

	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/timecode"
)

// Mode selects how units are generated from a timeline.
type Mode string

const (
	ModeClip   Mode = "clip"
	ModeMarker Mode = "marker"
)

// FrameRule picks the frame captured for a clip.
type FrameRule string

const (
	RuleFirst  FrameRule = "first"
	RuleMiddle FrameRule = "middle"
	RuleLast   FrameRule = "last"
)

// ParseMode accepts "clip" or "marker"; empty means clip.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeClip:
		return ModeClip, nil
	case ModeMarker:
		return ModeMarker, nil
	default:
		return "", fmt.Errorf("unknown capture mode %q", s)
	}
}

// ParseFrameRule accepts first, middle or last; empty means middle.
func ParseFrameRule(s string) (FrameRule, error) {
	switch FrameRule(strings.ToLower(strings.TrimSpace(s))) {
	case "", RuleMiddle:
		return RuleMiddle, nil
	case RuleFirst:
		return RuleFirst, nil
	case RuleLast:
		return RuleLast, nil
	default:
		return "", fmt.Errorf("unknown thumbnail rule %q", s)
	}
}

// Unit is one scheduled frame grab. Item is the clip under the frame and is
// nil for markers that sit over no clip.
type Unit struct {
	Timeline *catalog.Timeline
	Item     *catalog.TrackItem
	Marker   *catalog.Marker
	Frame    int64
	Seq      int
}

// Timecode formats the unit's target frame.
func (u Unit) Timecode() string {
	return timecode.FromFrames(u.Frame, u.Timeline.FrameRate)
}

// ClipName is the clip under the unit, or "".
func (u Unit) ClipName() string {
	if u.Item == nil {
		return ""
	}
	if u.Item.Clip != nil && u.Item.Clip.Name != "" {
		return u.Item.Clip.Name
	}
	return u.Item.Name
}

// Label names the unit for logs and file names.
func (u Unit) Label() string {
	if u.Marker != nil {
		if u.Marker.Name != "" {
			return u.Marker.Name
		}
		return fmt.Sprintf("marker %d", u.Marker.Offset)
	}
	return u.ClipName()
}

// TempName is the scratch file name for the unit's capture.
func (u Unit) TempName() string {
	return fmt.Sprintf("unit_%05d.jpg", u.Seq)
}

// ClipFrame applies rule to an item's placed range.
func ClipFrame(it *catalog.TrackItem, rule FrameRule) int64 {
	switch rule {
	case RuleFirst:
		return it.Start
	case RuleLast:
		if it.Duration > 0 {
			return it.Start + it.Duration - 1
		}
		if it.End > it.Start {
			return it.End - 1
		}
		return it.Start
	default:
		return it.Start + it.Duration/2
	}
}

// MarkerFrame converts a 1-based marker offset to an absolute frame.
func MarkerFrame(tl *catalog.Timeline, m *catalog.Marker) int64 {
	return tl.StartFrame + m.Offset - 1
}

// PlanTimeline lists a timeline's units in processing order: track then item
// for clips, ascending offset for markers. Items without media are skipped.
// Seq continues from seq.
func PlanTimeline(tl *catalog.Timeline, mode Mode, rule FrameRule, seq int) []Unit {
	var units []Unit
	switch mode {
	case ModeMarker:
		for i := range tl.Markers {
			m := &tl.Markers[i]
			frame := MarkerFrame(tl, m)
			seq++
			units = append(units, Unit{Timeline: tl, Item: tl.ItemAt(frame), Marker: m, Frame: frame, Seq: seq})
		}
	default:
		for _, it := range tl.MediaItems() {
			seq++
			units = append(units, Unit{Timeline: tl, Item: it, Frame: ClipFrame(it, rule), Seq: seq})
		}
	}
	return units
}

// Plan lists units for every timeline in selection order.
func Plan(tls []*catalog.Timeline, mode Mode, rule FrameRule) []Unit {
	var units []Unit
	for _, tl := range tls {
		units = append(units, PlanTimeline(tl, mode, rule, len(units))...)
	}
	return units
}

// Count is the pre-pass total used as the progress denominator.
func Count(tls []*catalog.Timeline, mode Mode, rule FrameRule) int {
	n := 0
	for _, tl := range tls {
		if mode == ModeMarker {
			n += len(tl.Markers)
		} else {
			n += len(tl.MediaItems())
		}
	}
	return n
}
