// Package export turns timeline clip records into flat artifacts: CSV text,
// parquet files and CMX3600 edit decision lists.
package export

import (
	"sort"
	"strings"

	"github.com/ditkit/ditreport/internal/catalog"
)

// Injected columns present on every row.
const (
	ColTimelineName = "Timeline Name"
	ColClipName     = "Clip Name"
)

// Row is one clip's merged properties and metadata.
type Row map[string]string

// BuildRows emits one row per video-track item with backing media, in
// timeline then placement order. Metadata overrides properties on key clash.
func BuildRows(timelines []*catalog.Timeline) []Row {
	var rows []Row
	for _, tl := range timelines {
		for _, it := range tl.MediaItems() {
			row := Row(it.Clip.Fields())
			row[ColTimelineName] = tl.Name
			name := it.Clip.Name
			if name == "" {
				name = it.Name
			}
			row[ColClipName] = name
			rows = append(rows, row)
		}
	}
	return rows
}

// Headers returns the sorted union of row keys, always including the
// injected columns.
func Headers(rows []Row) []string {
	set := map[string]bool{ColTimelineName: true, ColClipName: true}
	for _, r := range rows {
		for k := range r {
			set[k] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EscapeCell quotes a value containing a comma, quote or line break and
// doubles its quotes.
func EscapeCell(v string) string {
	if !strings.ContainsAny(v, ",\"\n\r") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// FormatCSV renders the header line and one line per row, joined by "\n"
// with no trailing newline. Missing values are empty.
func FormatCSV(rows []Row) string {
	headers := Headers(rows)
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, joinCells(headers))

	cells := make([]string, len(headers))
	for _, r := range rows {
		for i, h := range headers {
			cells[i] = r[h]
		}
		lines = append(lines, joinCells(cells))
	}
	return strings.Join(lines, "\n")
}

func joinCells(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = EscapeCell(c)
	}
	return strings.Join(escaped, ",")
}
