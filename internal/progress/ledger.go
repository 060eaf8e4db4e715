package progress

import "sync"

// DisplayLimit caps how many failures user-facing summaries list.
const DisplayLimit = 50

// Reason values recorded in the ledger.
const (
	ReasonExportFailed     = "export_failed"
	ReasonEmptyOutput      = "empty_output"
	ReasonImageDecode      = "image_decode"
	ReasonTimelineNotFound = "timeline_not_found"
	ReasonSession          = "session"
	ReasonCancelled        = "cancelled"
)

// FailureRecord describes one unit that could not be captured or rendered.
type FailureRecord struct {
	Timeline string `json:"timeline"`
	Clip     string `json:"clip"`
	Timecode string `json:"timecode"`
	Reason   string `json:"reason"`
}

// Ledger is an append-only list of failures for a single run.
type Ledger struct {
	mu      sync.Mutex
	records []FailureRecord
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(r FailureRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// Records returns a copy of every failure in append order.
func (l *Ledger) Records() []FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FailureRecord(nil), l.records...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Head returns up to the first n records.
func (l *Ledger) Head(n int) []FailureRecord {
	return Head(l.Records(), n)
}

// Head truncates records to n entries for display.
func Head(records []FailureRecord, n int) []FailureRecord {
	if n < 0 || len(records) <= n {
		return records
	}
	return records[:n]
}
