package export

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes rows with one required string column per header.
// Missing values are written as empty strings.
func WriteParquet(w io.Writer, rows []Row) error {
	headers := Headers(rows)
	group := make(parquet.Group, len(headers))
	for _, h := range headers {
		group[h] = parquet.String()
	}
	schema := parquet.NewSchema("clips", group)

	index := make(map[string]int, len(headers))
	for _, h := range headers {
		leaf, ok := schema.Lookup(h)
		if !ok {
			return fmt.Errorf("parquet column %q missing from schema", h)
		}
		index[h] = leaf.ColumnIndex
	}

	pw := parquet.NewWriter(w, schema)
	batch := make([]parquet.Row, 0, len(rows))
	for _, r := range rows {
		row := make(parquet.Row, len(headers))
		for _, h := range headers {
			col := index[h]
			row[col] = parquet.ValueOf(r[h]).Level(0, 0, col)
		}
		batch = append(batch, row)
	}
	if _, err := pw.WriteRows(batch); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}
