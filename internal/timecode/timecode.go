// Package timecode converts between frame counts and HH:MM:SS:FF strings.
//
// The frame cadence is the frame rate rounded to the nearest integer, so
// 23.976 counts as 24 and 29.97 as 30. Non-drop timecodes for fractional
// rates therefore drift slightly from wall-clock time. FromFramesDrop and
// ToFramesDrop implement drop-frame counting for 29.97 and 59.94 where a
// consumer (an EDL) needs it.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Zero is the timecode returned for a zero or invalid frame rate.
const Zero = "00:00:00:00"

// Cadence returns the integer frames-per-second used for timecode math.
func Cadence(frameRate float64) int64 {
	return int64(math.Round(frameRate))
}

// FromFrames formats an absolute frame count as HH:MM:SS:FF.
func FromFrames(frames int64, frameRate float64) string {
	fps := Cadence(frameRate)
	if fps <= 0 {
		return Zero
	}
	if frames < 0 {
		frames = 0
	}
	return format(frames, fps, ":")
}

func format(frames, fps int64, frameSep string) string {
	f := frames % fps
	totalSeconds := frames / fps
	s := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	m := totalMinutes % 60
	h := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", h, m, s, frameSep, f)
}

// dropCount is the frame numbers skipped at each minute not divisible by ten.
func dropCount(fps int64) int64 {
	return fps / 15
}

// FromFramesDrop formats a frame count as drop-frame HH:MM:SS;FF. Rates that
// are not drop-frame rates fall back to FromFrames.
func FromFramesDrop(frames int64, frameRate float64) string {
	if !IsDropFrameRate(frameRate) {
		return FromFrames(frames, frameRate)
	}
	fps := Cadence(frameRate)
	if frames < 0 {
		frames = 0
	}
	drop := dropCount(fps)
	perMinute := fps*60 - drop
	perTenMinutes := fps*600 - drop*9

	tens := frames / perTenMinutes
	rem := frames % perTenMinutes
	frames += drop * 9 * tens
	if rem > drop {
		frames += drop * ((rem - drop) / perMinute)
	}
	return format(frames, fps, ";")
}

// ToFramesDrop parses a drop-frame timecode into a frame count. Rates that
// are not drop-frame rates parse as ToFrames.
func ToFramesDrop(tc string, frameRate float64) (int64, error) {
	nominal, err := ToFrames(tc, frameRate)
	if err != nil || !IsDropFrameRate(frameRate) {
		return nominal, err
	}
	fps := Cadence(frameRate)
	totalMinutes := nominal / (fps * 60)
	return nominal - dropCount(fps)*(totalMinutes-totalMinutes/10), nil
}

// ToFrames parses HH:MM:SS:FF (";" accepted as the frame separator) into an
// absolute frame count.
func ToFrames(tc string, frameRate float64) (int64, error) {
	fps := Cadence(frameRate)
	if fps <= 0 {
		return 0, fmt.Errorf("invalid frame rate %v", frameRate)
	}
	parts := strings.Split(strings.ReplaceAll(strings.TrimSpace(tc), ";", ":"), ":")
	if len(parts) != 4 {
		return 0, fmt.Errorf("invalid timecode %q", tc)
	}
	var vals [4]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timecode %q", tc)
		}
		vals[i] = n
	}
	if vals[1] > 59 || vals[2] > 59 || vals[3] >= fps {
		return 0, fmt.Errorf("timecode %q out of range at %d fps", tc, fps)
	}
	return ((vals[0]*60+vals[1])*60+vals[2])*fps + vals[3], nil
}

// IsDropFrameRate reports whether the rate is a conventional drop-frame rate.
func IsDropFrameRate(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}
