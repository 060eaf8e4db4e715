package export

import (
	"fmt"
	"strings"

	"github.com/ditkit/ditreport/internal/catalog"
	"github.com/ditkit/ditreport/internal/timecode"
)

// GenerateEDL writes a CMX3600-style list of the timeline's video items with
// backing media. Source in comes from the clip's Start TC when it parses at
// the timeline rate; otherwise the record range is repeated. 29.97 and 59.94
// timelines are written in drop-frame timecode.
func GenerateEDL(title string, tl *catalog.Timeline) string {
	rate := tl.FrameRate
	if timecode.Cadence(rate) <= 0 {
		rate = 30
	}
	tc := timecode.FromFrames

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if timecode.IsDropFrameRate(rate) {
		tc = timecode.FromFramesDrop
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, it := range tl.MediaItems() {
		dur := it.Duration
		if dur <= 0 {
			dur = it.End - it.Start
		}
		srcIn := it.Start
		if f, err := sourceFrames(it.Clip.Property(catalog.PropStartTC), rate); err == nil {
			srcIn = f
		}

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s",
				i+1, reelName(it), "V",
				tc(srcIn, rate), tc(srcIn+dur, rate),
				tc(it.Start, rate), tc(it.Start+dur, rate)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", it.Clip.Name),
		)
		if p := it.Clip.FilePath(); p != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", p))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// sourceFrames reads a clip's Start TC. A ";" marks drop-frame notation.
func sourceFrames(start string, rate float64) (int64, error) {
	if strings.Contains(start, ";") {
		return timecode.ToFramesDrop(start, rate)
	}
	return timecode.ToFrames(start, rate)
}

// reelName is the first eight name characters, upper-cased, or AX.
func reelName(it *catalog.TrackItem) string {
	name := strings.ReplaceAll(SanitizeName(it.Clip.Name, 8), " ", "_")
	if name == "" {
		return "AX"
	}
	return strings.ToUpper(name)
}
