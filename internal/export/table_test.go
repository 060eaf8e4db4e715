package export

import (
	"encoding/csv"
	"reflect"
	"strings"
	"testing"

	"github.com/ditkit/ditreport/internal/catalog"
)

func scenarioTimeline() *catalog.Timeline {
	v1 := &catalog.Clip{MediaID: "m1", Name: "A001", Kind: catalog.KindVideo,
		Properties: map[string]string{"Type": "Video", "File Path": "/m/A001.mov", "Resolution": "1920x1080"},
		Metadata:   map[string]string{"Scene": "12"}}
	v2 := &catalog.Clip{MediaID: "m2", Name: "A002", Kind: catalog.KindVideo,
		Properties: map[string]string{"Type": "Video", "File Path": "/m/A002.mov"},
		Metadata:   map[string]string{"Take": "3", "Type": "Video Override"}}
	a1 := &catalog.Clip{MediaID: "m3", Name: "Boom", Kind: catalog.KindAudio,
		Properties: map[string]string{"Type": "Audio", "File Path": "/m/boom.wav"}}
	return &catalog.Timeline{Name: "A", Items: []catalog.TrackItem{
		{Name: "A001", Clip: v1},
		{Name: "Gen"},
		{Name: "A002", Clip: v2},
		{Name: "Boom", Clip: a1},
	}}
}

func TestBuildRows_Scenario(t *testing.T) {
	rows := BuildRows([]*catalog.Timeline{scenarioTimeline()})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (every item with media, audio included), got %d", len(rows))
	}
	for i, r := range rows {
		if r[ColTimelineName] != "A" {
			t.Errorf("row %d Timeline Name = %q", i, r[ColTimelineName])
		}
	}
	if rows[1]["Type"] != "Video Override" {
		t.Errorf("metadata should win on key clash, got %q", rows[1]["Type"])
	}

	want := []string{"Clip Name", "File Path", "Resolution", "Scene", "Take", "Timeline Name", "Type"}
	if got := Headers(rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("Headers() = %v, want %v", got, want)
	}
}

func TestHeaders_AlwaysInjected(t *testing.T) {
	got := Headers(nil)
	if !reflect.DeepEqual(got, []string{ColClipName, ColTimelineName}) {
		t.Fatalf("Headers(nil) = %v", got)
	}
}

func TestEscapeCell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a,b", `"a,b"`},
		{`say "hi"`, `"say ""hi"""`},
		{"line\nbreak", "\"line\nbreak\""},
		{"cr\rhere", "\"cr\rhere\""},
		{"a,\"b\"\nc", "\"a,\"\"b\"\"\nc\""},
	}
	for _, tc := range tests {
		if got := EscapeCell(tc.in); got != tc.want {
			t.Errorf("EscapeCell(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatCSV_RoundTrip(t *testing.T) {
	tricky := "a,\"b\"\nc"
	rows := []Row{
		{ColTimelineName: "A", ColClipName: "one", "Notes": tricky},
		{ColTimelineName: "A", ColClipName: "two"},
	}
	text := FormatCSV(rows)
	if strings.HasSuffix(text, "\n") {
		t.Fatalf("FormatCSV should not end with a newline: %q", text)
	}

	records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		t.Fatalf("csv parse error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if !reflect.DeepEqual(records[0], []string{"Clip Name", "Notes", "Timeline Name"}) {
		t.Fatalf("header = %v", records[0])
	}
	if records[1][1] != tricky {
		t.Fatalf("round trip = %q, want %q", records[1][1], tricky)
	}
	if records[2][1] != "" {
		t.Fatalf("missing value should be empty, got %q", records[2][1])
	}
}
