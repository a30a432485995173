package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"engagement-sync/internal/domain"
)

// MigrateHistory rebuilds a course's master file from a directory of per-run
// snapshot files. Files are replayed in name order, each one's header dropped
// and its rows stamped with the time encoded in its name. It is a one-time
// backfill: whatever master file exists is replaced, but only once the new
// one is complete.
func (w *Writer) MigrateHistory(course domain.CourseCode, snapshotDir string) (Handle, error) {
	if course == "" {
		return Handle{}, errors.New("archive: empty course code")
	}

	names, err := snapshotFiles(snapshotDir)
	if err != nil {
		return Handle{}, err
	}

	// every name must parse before anything is written
	stamps := make([]string, len(names))
	for i, name := range names {
		stamps[i], err = ParseSnapshotTime(name, w.snapshotOffset(course))
		if err != nil {
			return Handle{}, err
		}
	}

	h := Handle{Course: course, Path: w.Path(course), Header: w.Header()}
	if err := os.MkdirAll(w.Dir(course), 0o755); err != nil {
		return Handle{}, fmt.Errorf("archive: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(w.Dir(course), "."+w.masterName(course)+".migrate-*")
	if err != nil {
		return Handle{}, fmt.Errorf("archive: create temp master: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (Handle, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return Handle{}, err
	}

	if err := writeRows(tmp, [][]string{h.Header}); err != nil {
		return fail(fmt.Errorf("archive: write header: %w", err))
	}

	for i, name := range names {
		path := filepath.Join(snapshotDir, name)
		header, rows, err := readSnapshot(path)
		if err != nil {
			return fail(err)
		}
		if len(rows) == 0 {
			continue
		}
		out, err := w.project(path, header, rows, stamps[i])
		if err != nil {
			var mr *domain.MalformedRowError
			if errors.As(err, &mr) {
				mr.Source = name
			}
			return fail(err)
		}
		if err := writeRows(tmp, out); err != nil {
			return fail(fmt.Errorf("archive: replay %s: %w", name, err))
		}
	}

	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("archive: sync temp master: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Handle{}, fmt.Errorf("archive: close temp master: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return Handle{}, fmt.Errorf("archive: chmod temp master: %w", err)
	}
	if err := os.Rename(tmpPath, h.Path); err != nil {
		os.Remove(tmpPath)
		return Handle{}, fmt.Errorf("archive: install master: %w", err)
	}
	return h, nil
}
