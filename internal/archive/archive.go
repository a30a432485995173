// Package archive maintains the per-course master files: append-only CSV
// tables holding every engagement row ever fetched, each tagged with the
// time its batch was captured.
package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"engagement-sync/internal/domain"
)

// TimestampColumn is the trailing column every archived row carries.
const TimestampColumn = "download_datetime_UTC"

// Writer owns the master files under Root. Fields is the fixed data header;
// the on-disk header is Fields plus TimestampColumn.
type Writer struct {
	Root     string
	FieldSet string
	Fields   []string
}

func NewWriter(root, fieldSet string, fields []string) *Writer {
	return &Writer{
		Root:     root,
		FieldSet: fieldSet,
		Fields:   append([]string(nil), fields...),
	}
}

// Handle identifies an archive that is known to exist with the right header.
type Handle struct {
	Course domain.CourseCode
	Path   string
	Header domain.Header
}

// HeaderMismatchError means a file or batch does not carry the archive's
// fields. The archive is never rewritten to fit.
type HeaderMismatchError struct {
	Path string
	Want []string
	Got  []string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("archive: header mismatch in %s: want %v, got %v", e.Path, e.Want, e.Got)
}

// Header is the on-disk header row.
func (w *Writer) Header() domain.Header {
	h := make(domain.Header, 0, len(w.Fields)+1)
	h = append(h, w.Fields...)
	return append(h, TimestampColumn)
}

// Dir is where a course's master and snapshot files live.
func (w *Writer) Dir(course domain.CourseCode) string {
	return filepath.Join(w.Root, string(course))
}

func (w *Writer) Path(course domain.CourseCode) string {
	return filepath.Join(w.Dir(course), w.masterName(course))
}

func (w *Writer) masterName(course domain.CourseCode) string {
	return fmt.Sprintf("%s_%s_master.csv", course, w.FieldSet)
}

// EnsureArchive creates the course's master file with its header row when it
// does not exist yet. Calling it again never adds a second header; an existing
// file with a different header is rejected.
func (w *Writer) EnsureArchive(course domain.CourseCode) (Handle, error) {
	if course == "" {
		return Handle{}, errors.New("archive: empty course code")
	}
	if len(w.Fields) == 0 {
		return Handle{}, errors.New("archive: writer has no fields")
	}

	h := Handle{Course: course, Path: w.Path(course), Header: w.Header()}

	if err := os.MkdirAll(w.Dir(course), 0o755); err != nil {
		return Handle{}, fmt.Errorf("archive: create dir: %w", err)
	}

	f, err := os.OpenFile(h.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		if err := writeRows(f, [][]string{h.Header}); err != nil {
			f.Close()
			os.Remove(h.Path)
			return Handle{}, fmt.Errorf("archive: write header: %w", err)
		}
		if err := f.Close(); err != nil {
			return Handle{}, fmt.Errorf("archive: close %s: %w", h.Path, err)
		}
		return h, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return Handle{}, fmt.Errorf("archive: create %s: %w", h.Path, err)
	}

	got, err := readHeader(h.Path)
	if err != nil {
		return Handle{}, err
	}
	if got == nil {
		// left empty by an interrupted create
		f, err := os.OpenFile(h.Path, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return Handle{}, fmt.Errorf("archive: open %s: %w", h.Path, err)
		}
		if err := writeRows(f, [][]string{h.Header}); err != nil {
			f.Close()
			return Handle{}, fmt.Errorf("archive: write header: %w", err)
		}
		return h, f.Close()
	}
	if !equalFields(got, h.Header) {
		return Handle{}, &HeaderMismatchError{Path: h.Path, Want: h.Header, Got: got}
	}
	return h, nil
}

// AppendBatch appends every row of b, in order, with b's capture time as the
// trailing field, and returns how many rows were written. Zero means there
// was no new data: the batch was empty, or a batch with the same capture time
// is already archived. Either way the file is left byte-identical.
//
// The batch is validated before the file is touched, and a failed write is
// truncated away, so the archive only ever grows by whole batches.
func (w *Writer) AppendBatch(h Handle, b domain.Batch) (int, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}

	rows, err := w.project(h.Path, b.Header, b.Rows, b.Stamp())
	if err != nil {
		return 0, err
	}

	seen, err := archivedStamps(h.Path)
	if err != nil {
		return 0, err
	}
	if seen[b.Stamp()] {
		return 0, nil
	}

	return len(rows), appendRows(h.Path, rows)
}

// project maps batch rows onto the archive fields by name and appends stamp.
// Any row whose length differs from header fails the whole set.
func (w *Writer) project(source string, header domain.Header, in []domain.Row, stamp string) ([][]string, error) {
	idx := make([]int, len(w.Fields))
	for i, f := range w.Fields {
		j := header.Index(f)
		if j < 0 {
			return nil, &HeaderMismatchError{Path: source, Want: w.Fields, Got: header}
		}
		idx[i] = j
	}

	out := make([][]string, 0, len(in))
	for i, r := range in {
		if len(r) != len(header) {
			return nil, &domain.MalformedRowError{Row: i + 1, Got: len(r), Want: len(header)}
		}
		row := make([]string, 0, len(idx)+1)
		for _, j := range idx {
			row = append(row, r[j])
		}
		out = append(out, append(row, stamp))
	}
	return out, nil
}

func appendRows(path string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("archive: stat %s: %w", path, err)
	}
	size := info.Size()

	var prefix []byte
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return fmt.Errorf("archive: read %s: %w", path, err)
		}
		if last[0] != '\n' {
			prefix = []byte("\r\n")
		}
	}

	if err := writeOrRollback(f, size, prefix, rows); err != nil {
		f.Close()
		return fmt.Errorf("archive: append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", path, err)
	}
	return nil
}

type appendFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
}

// writeOrRollback writes prefix and rows to f, cutting f back to size when
// any write fails. A failed truncate is reported next to the write error:
// the file then holds a partial batch.
func writeOrRollback(f appendFile, size int64, prefix []byte, rows [][]string) error {
	werr := func() error {
		if len(prefix) > 0 {
			if _, err := f.Write(prefix); err != nil {
				return err
			}
		}
		if err := writeRows(f, rows); err != nil {
			return err
		}
		return f.Sync()
	}()
	if werr == nil {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return errors.Join(werr, fmt.Errorf("rollback to %d bytes: %w", size, err))
	}
	return werr
}

func writeRows(wr io.Writer, rows [][]string) error {
	cw := csv.NewWriter(wr)
	// master files have always been written with CRLF
	cw.UseCRLF = true
	return cw.WriteAll(rows)
}

// readHeader returns the first record of path, nil for an empty file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read header of %s: %w", path, err)
	}
	return rec, nil
}

// archivedStamps collects the capture times already present in path.
func archivedStamps(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	seen := map[string]bool{}
	for line := 0; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return seen, nil
		}
		if err != nil {
			return nil, fmt.Errorf("archive: scan %s: %w", path, err)
		}
		if line == 0 || len(rec) == 0 {
			continue
		}
		seen[rec[len(rec)-1]] = true
	}
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}
