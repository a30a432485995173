// Package pipeline runs archive and dashboard jobs course by course: tunnel,
// fetch, then write to each destination. One course failing never stops the
// others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"time"

	"engagement-sync/internal/analytics"
	"engagement-sync/internal/archive"
	"engagement-sync/internal/config"
	"engagement-sync/internal/domain"
	"engagement-sync/internal/ledger"
	"engagement-sync/internal/sheets"
)

type Tunnel interface {
	Open(ctx context.Context) error
}

type Fetcher interface {
	FetchLearners(ctx context.Context, courseID string, fields []string, f analytics.Filters) (domain.Batch, error)
	FetchProblemResponses(ctx context.Context, courseID string) (domain.Batch, error)
}

type Archiver interface {
	EnsureArchive(course domain.CourseCode) (archive.Handle, error)
	AppendBatch(h archive.Handle, b domain.Batch) (int, error)
	WriteSnapshot(course domain.CourseCode, b domain.Batch) (string, error)
}

// ArchiverFor returns the archive writer for a field set.
type ArchiverFor func(fieldSet string, fields []string) Archiver

type Publisher interface {
	Publish(ctx context.Context, spreadsheetID string, updates []sheets.RangeUpdate) error
}

type Mirror interface {
	Upload(ctx context.Context, localPath, remoteName string) error
}

type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Runner wires the collaborators of a run. Publisher, Mirror and Ledger are
// optional; jobs that need a missing one fail validation.
type Runner struct {
	Catalog        *config.Catalog
	Tunnel         Tunnel
	Fetcher        Fetcher
	Archives       ArchiverFor
	Publisher      Publisher
	Mirror         Mirror
	Ledger         Recorder
	WriteSnapshots bool

	Now func() time.Time
}

const statusSkipped = "skipped"

// Outcome is the result of one destination of one job.
type Outcome struct {
	Course      domain.CourseCode
	Destination Destination
	Partner     string
	Status      string
	Rows        int
	Err         error
	StartedAt   time.Time
	Elapsed     time.Duration
}

type Summary struct {
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Failed counts outcomes that ended in an error.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == ledger.StatusFailed {
			n++
		}
	}
	return n
}

// AllFailed is true when there was work and none of it succeeded.
func (s Summary) AllFailed() bool {
	for _, o := range s.Outcomes {
		if o.Status == ledger.StatusOK || o.Status == ledger.StatusNoData {
			return false
		}
	}
	return len(s.Outcomes) > 0
}

// Validate checks every job against the catalog and the configured
// collaborators. It does no I/O.
func (r *Runner) Validate(jobs []Job) error {
	var errs []error
	for _, j := range jobs {
		if err := r.validate(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) validate(j Job) error {
	if _, err := r.Catalog.Course(j.Course); err != nil {
		return err
	}
	if len(j.Destinations) == 0 {
		return &domain.ConfigurationError{Key: string(j.Course), Reason: "no destinations"}
	}
	for _, d := range j.Destinations {
		switch d {
		case DestArchive:
			if r.Archives == nil {
				return &domain.ConfigurationError{Key: "archive", Reason: "no archive root configured"}
			}
			p, err := r.Catalog.ArchivePolicy(j.Course)
			if err != nil {
				return err
			}
			if _, err := r.Catalog.Fields(p.FieldSet); err != nil {
				return err
			}
		case DestMirror:
			if r.Mirror == nil {
				return &domain.ConfigurationError{Key: "SFTP_HOST", Reason: "mirror requested but no SFTP drop configured"}
			}
			if !j.has(DestArchive) {
				return &domain.ConfigurationError{Key: string(j.Course), Reason: "mirror needs the archive destination in the same job"}
			}
		case DestSheets:
			if r.Publisher == nil {
				return &domain.ConfigurationError{Key: "sheets", Reason: "no sheets credentials configured"}
			}
			if _, err := r.Catalog.SpreadsheetID(j.Course, j.Partner); err != nil {
				return err
			}
			switch j.Data {
			case DataBoth, DataProfiles, DataProblems:
			default:
				return &domain.ConfigurationError{Key: string(j.Course), Reason: fmt.Sprintf("unknown data selection %q", j.Data)}
			}
			if j.Data.profiles() {
				if _, err := r.Catalog.Fields("profiles"); err != nil {
					return err
				}
				if r.Catalog.Ranges.Profiles == "" {
					return &domain.ConfigurationError{Key: "ranges.profiles", Reason: "not set"}
				}
			}
			if j.Data.problems() && r.Catalog.Ranges.Problems == "" {
				return &domain.ConfigurationError{Key: "ranges.problems", Reason: "not set"}
			}
		default:
			return &domain.ConfigurationError{Key: string(d), Reason: "unknown destination"}
		}
	}
	return nil
}

// Run validates all jobs, then executes them one after another. The returned
// error is a ConfigurationError from validation or the context's error; job
// failures only show up in the Summary.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	start := r.now()
	if err := r.Validate(jobs); err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			s.Elapsed = r.now().Sub(start)
			return s, err
		}
		s.Outcomes = append(s.Outcomes, r.runJob(ctx, j)...)
	}
	s.Elapsed = r.now().Sub(start)
	return s, nil
}

// jobState carries what one destination leaves for the next.
type jobState struct {
	handle *archive.Handle
}

func (r *Runner) runJob(ctx context.Context, j Job) []Outcome {
	dests := append([]Destination(nil), j.Destinations...)
	sort.SliceStable(dests, func(a, b int) bool { return order[dests[a]] < order[dests[b]] })

	var (
		out    []Outcome
		state  jobState
		failed bool
	)
	for _, d := range dests {
		o := Outcome{Course: j.Course, Destination: d, StartedAt: r.now()}
		if d == DestSheets {
			o.Partner = j.Partner
		}
		if failed {
			o.Status = statusSkipped
			out = append(out, o)
			continue
		}

		var err error
		switch d {
		case DestArchive:
			o.Rows, err = r.runArchive(ctx, j, &state)
		case DestMirror:
			err = r.runMirror(ctx, j, &state)
		case DestSheets:
			o.Rows, err = r.runSheets(ctx, j)
		}
		o.Elapsed = r.now().Sub(o.StartedAt)

		switch {
		case err != nil:
			o.Status, o.Err = ledger.StatusFailed, err
			failed = true
			slog.ErrorContext(ctx, "course failed",
				"course", j.Course, "destination", d, "partner", o.Partner, "err", err)
		case o.Rows == 0 && d != DestMirror:
			o.Status = ledger.StatusNoData
			slog.InfoContext(ctx, "no new data",
				"course", j.Course, "destination", d, "partner", o.Partner)
		default:
			o.Status = ledger.StatusOK
			slog.InfoContext(ctx, "course done",
				"course", j.Course, "destination", d, "partner", o.Partner,
				"rows", o.Rows, "elapsed", o.Elapsed.Round(time.Millisecond))
		}
		r.record(ctx, o)
		out = append(out, o)
	}
	return out
}

func (r *Runner) runArchive(ctx context.Context, j Job, state *jobState) (int, error) {
	p, err := r.Catalog.ArchivePolicy(j.Course)
	if err != nil {
		return 0, err
	}
	fields, err := r.Catalog.Fields(p.FieldSet)
	if err != nil {
		return 0, err
	}
	w := r.Archives(p.FieldSet, fields)

	// local and cheap; a header mismatch should fail before any network call
	h, err := w.EnsureArchive(j.Course)
	if err != nil {
		return 0, err
	}

	if err := r.Tunnel.Open(ctx); err != nil {
		return 0, err
	}
	b, err := r.Fetcher.FetchLearners(ctx, r.Catalog.CourseID(j.Course), fields, analytics.Filters{
		Segments:       p.Segments,
		IgnoreSegments: p.IgnoreSegments,
	})
	if err != nil {
		return 0, err
	}

	if r.WriteSnapshots && b.Len() > 0 {
		if snap, err := w.WriteSnapshot(j.Course, b); err != nil {
			slog.WarnContext(ctx, "snapshot not written", "course", j.Course, "err", err)
		} else {
			slog.DebugContext(ctx, "snapshot written", "course", j.Course, "path", snap)
		}
	}

	n, err := w.AppendBatch(h, b)
	if err != nil {
		return 0, err
	}
	state.handle = &h
	return n, nil
}

func (r *Runner) runMirror(ctx context.Context, j Job, state *jobState) error {
	if state.handle == nil {
		return fmt.Errorf("mirror %s: archive did not run", j.Course)
	}
	remote := path.Join(string(j.Course), filepath.Base(state.handle.Path))
	return r.Mirror.Upload(ctx, state.handle.Path, remote)
}

func (r *Runner) runSheets(ctx context.Context, j Job) (int, error) {
	id, err := r.Catalog.SpreadsheetID(j.Course, j.Partner)
	if err != nil {
		return 0, err
	}
	courseID := r.Catalog.CourseID(j.Course)

	var (
		updates []sheets.RangeUpdate
		rows    int
	)
	// A header-only table is still published so the range stops showing
	// rows the API no longer returns.
	if j.Data.profiles() {
		fields, err := r.Catalog.Fields("profiles")
		if err != nil {
			return 0, err
		}
		if err := r.Tunnel.Open(ctx); err != nil {
			return 0, err
		}
		b, err := r.Fetcher.FetchLearners(ctx, courseID, fields, analytics.Filters{})
		if err != nil {
			return 0, fmt.Errorf("profiles: %w", err)
		}
		if len(b.Header) > 0 {
			updates = append(updates, sheets.RangeUpdate{Range: r.Catalog.Ranges.Profiles, Rows: b.Table()})
			rows += b.Len()
		}
	}
	if j.Data.problems() {
		if err := r.Tunnel.Open(ctx); err != nil {
			return 0, err
		}
		b, err := r.Fetcher.FetchProblemResponses(ctx, courseID)
		if err != nil {
			return 0, fmt.Errorf("problem responses: %w", err)
		}
		if len(b.Header) > 0 {
			updates = append(updates, sheets.RangeUpdate{Range: r.Catalog.Ranges.Problems, Rows: b.Table()})
			rows += b.Len()
		}
	}

	if err := r.Publisher.Publish(ctx, id, updates); err != nil {
		return 0, err
	}
	return rows, nil
}

func (r *Runner) record(ctx context.Context, o Outcome) {
	if r.Ledger == nil {
		return
	}
	e := ledger.Entry{
		Course:      string(o.Course),
		Destination: string(o.Destination),
		Partner:     o.Partner,
		Status:      o.Status,
		Rows:        o.Rows,
		StartedAt:   o.StartedAt,
		Elapsed:     o.Elapsed,
	}
	if o.Err != nil {
		e.Detail = o.Err.Error()
	}
	if err := r.Ledger.Record(ctx, e); err != nil {
		slog.WarnContext(ctx, "ledger write failed", "course", o.Course, "err", err)
	}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
