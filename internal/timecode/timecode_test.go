package timecode

import "testing"

func TestFromFrames(t *testing.T) {
	tests := []struct {
		name   string
		frames int64
		rate   float64
		want   string
	}{
		{name: "zero", frames: 0, rate: 24, want: "00:00:00:00"},
		{name: "one second", frames: 24, rate: 24, want: "00:00:01:00"},
		{name: "frames", frames: 37, rate: 24, want: "00:00:01:13"},
		{name: "one hour", frames: 86400, rate: 24, want: "01:00:00:00"},
		{name: "fractional rate rounds cadence", frames: 24, rate: 23.976, want: "00:00:01:00"},
		{name: "ntsc", frames: 30*60 + 5, rate: 29.97, want: "00:01:00:05"},
		{name: "zero rate", frames: 100, rate: 0, want: Zero},
		{name: "negative frames clamp", frames: -5, rate: 25, want: Zero},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromFrames(tc.frames, tc.rate); got != tc.want {
				t.Fatalf("FromFrames(%d, %v) = %q, want %q", tc.frames, tc.rate, got, tc.want)
			}
		})
	}
}

func TestToFrames_RoundTrip(t *testing.T) {
	for _, frames := range []int64{0, 1, 23, 24, 1439, 86400, 86400 + 1234} {
		tc := FromFrames(frames, 24)
		got, err := ToFrames(tc, 24)
		if err != nil {
			t.Fatalf("ToFrames(%q) error = %v", tc, err)
		}
		if got != frames {
			t.Errorf("ToFrames(FromFrames(%d)) = %d", frames, got)
		}
	}
}

func TestToFrames_Invalid(t *testing.T) {
	for _, tc := range []string{"", "01:00:00", "aa:00:00:00", "00:61:00:00", "00:00:00:30"} {
		if _, err := ToFrames(tc, 24); err == nil {
			t.Errorf("ToFrames(%q) expected error", tc)
		}
	}
	if _, err := ToFrames("00:00:00:00", 0); err == nil {
		t.Error("ToFrames with zero rate expected error")
	}
}

func TestToFrames_DropFrameSeparator(t *testing.T) {
	got, err := ToFrames("00:00:01;02", 29.97)
	if err != nil {
		t.Fatalf("ToFrames error = %v", err)
	}
	if got != 32 {
		t.Errorf("ToFrames = %d, want 32", got)
	}
}

func TestIsDropFrameRate(t *testing.T) {
	if !IsDropFrameRate(29.97) || !IsDropFrameRate(59.94) {
		t.Error("29.97 and 59.94 should be drop-frame rates")
	}
	if IsDropFrameRate(25) || IsDropFrameRate(23.976) {
		t.Error("25 and 23.976 should not be drop-frame rates")
	}
}

func TestFromFramesDrop(t *testing.T) {
	tests := []struct {
		frames int64
		rate   float64
		want   string
	}{
		{1799, 29.97, "00:00:59;29"},
		{1800, 29.97, "00:01:00;02"},
		{17982, 29.97, "00:10:00;00"},
		{107892, 29.97, "01:00:00;00"},
		{3600, 59.94, "00:01:00;04"},
		{48, 24, "00:00:02:00"},
	}
	for _, tt := range tests {
		if got := FromFramesDrop(tt.frames, tt.rate); got != tt.want {
			t.Errorf("FromFramesDrop(%d, %v) = %q, want %q", tt.frames, tt.rate, got, tt.want)
		}
	}
}

func TestToFramesDrop_RoundTrip(t *testing.T) {
	for _, frames := range []int64{0, 1799, 1800, 17981, 17982, 107892, 1078920} {
		tc := FromFramesDrop(frames, 29.97)
		got, err := ToFramesDrop(tc, 29.97)
		if err != nil {
			t.Fatalf("ToFramesDrop(%q) error = %v", tc, err)
		}
		if got != frames {
			t.Errorf("ToFramesDrop(%q) = %d, want %d", tc, got, frames)
		}
	}
}
