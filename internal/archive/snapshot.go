package archive

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"engagement-sync/internal/domain"
)

// snapshotLayout is the timestamp token inside snapshot file names.
const snapshotLayout = "2006-01-02_15.04.05"

// SnapshotNameError means a snapshot file name has no parseable timestamp
// token at the expected offset.
type SnapshotNameError struct {
	Name string
	Err  error
}

func (e *SnapshotNameError) Error() string {
	return fmt.Sprintf("archive: snapshot %q: %v", e.Name, e.Err)
}

func (e *SnapshotNameError) Unwrap() error { return e.Err }

// SnapshotName is the per-run file name for a batch captured at t, e.g.
// SYS_engagement_2018-02-16_14.30.00_UTC.csv.
func (w *Writer) SnapshotName(course domain.CourseCode, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s_UTC.csv", course, w.FieldSet, t.UTC().Format(snapshotLayout))
}

// snapshotOffset is where the timestamp token starts: right after
// "<COURSE>_<fieldset>_" (15 for a three letter course and "engagement").
func (w *Writer) snapshotOffset(course domain.CourseCode) int {
	return len(course) + 1 + len(w.FieldSet) + 1
}

// ParseSnapshotTime reads the 19 character token at offset in name and
// renders it as an archive timestamp ("2018-02-16 14:30:00").
func ParseSnapshotTime(name string, offset int) (string, error) {
	end := offset + len(snapshotLayout)
	if offset < 0 || len(name) < end {
		return "", &SnapshotNameError{Name: name, Err: fmt.Errorf("too short for a timestamp at offset %d", offset)}
	}
	t, err := time.Parse(snapshotLayout, name[offset:end])
	if err != nil {
		return "", &SnapshotNameError{Name: name, Err: err}
	}
	return t.Format(domain.TimestampLayout), nil
}

// WriteSnapshot stores b as its own timestamped file next to the master, the
// way each run was kept before master files existed. Existing files are never
// overwritten.
func (w *Writer) WriteSnapshot(course domain.CourseCode, b domain.Batch) (string, error) {
	if err := os.MkdirAll(w.Dir(course), 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	path := filepath.Join(w.Dir(course), w.SnapshotName(course, b.CapturedAt))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("archive: create snapshot: %w", err)
	}
	if err := writeRows(f, b.Table()); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("archive: write snapshot: %w", err)
	}
	return path, f.Close()
}

// snapshotFiles lists the non-hidden regular files of dir in name order,
// leaving out master files.
func snapshotFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(name, "_master.csv") {
			continue
		}
		out = append(out, name)
	}
	// os.ReadDir already sorts by file name
	return out, nil
}

// readSnapshot returns the header and data rows of one snapshot file.
func readSnapshot(path string) (domain.Header, []domain.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open snapshot: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var header domain.Header
	var rows []domain.Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return header, rows, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("archive: read snapshot %s: %w", filepath.Base(path), err)
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
}
