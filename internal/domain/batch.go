package domain

import "time"

// TimestampLayout is how capture times are written into archive rows.
const TimestampLayout = "2006-01-02 15:04:05"

// Header is the ordered list of field names a batch (or an archive) carries.
type Header []string

// Index returns the position of name in h, or -1.
func (h Header) Index(name string) int {
	for i, f := range h {
		if f == name {
			return i
		}
	}
	return -1
}

// Row is one record, positionally aligned to a Header.
type Row []string

// Batch is the result of one API call. Every row shares Header and the single
// CapturedAt time, which is assigned when the fetch completes (not per row).
type Batch struct {
	Header     Header
	Rows       []Row
	CapturedAt time.Time
}

// Len reports the number of data rows.
func (b Batch) Len() int { return len(b.Rows) }

// Stamp renders CapturedAt the way archive rows carry it (UTC).
func (b Batch) Stamp() string {
	return b.CapturedAt.UTC().Format(TimestampLayout)
}

// Table returns the header followed by the rows, the shape spreadsheets and
// snapshot files want.
func (b Batch) Table() [][]string {
	out := make([][]string, 0, len(b.Rows)+1)
	if len(b.Header) > 0 {
		out = append(out, []string(b.Header))
	}
	for _, r := range b.Rows {
		out = append(out, []string(r))
	}
	return out
}
