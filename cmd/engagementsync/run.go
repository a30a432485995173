package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"engagement-sync/internal/pipeline"
)

var errAllFailed = errors.New("every job failed")

func newArchiveCmd(a *app) *cobra.Command {
	var noMirror, snapshots bool

	cmd := &cobra.Command{
		Use:   "archive [COURSE...]",
		Short: "Append the latest engagement rows to each course's master file.",
		Long: "Fetches learner engagement for each course and appends it to the course's\n" +
			"master CSV. Without arguments the catalog's archive run list is used, or\n" +
			"every catalog course when that list is empty.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("snapshots") {
				a.cfg.WriteSnapshots = snapshots
			}
			jobs := archiveJobs(args, a.catalog.ArchiveRun(), a.cfg.MirrorEnabled() && !noMirror)
			return a.run(cmd, jobs, false)
		},
	}
	cmd.Flags().BoolVar(&noMirror, "no-mirror", false, "do not upload master files even when SFTP is configured")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "also keep a per-run snapshot file next to each master")
	return cmd
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard [COURSE:PARTNER[:DATA]...]",
		Short: "Replace learner profiles and problem responses in partner spreadsheets.",
		Long: "DATA is one of both (default), profiles or problems. Without arguments the\n" +
			"catalog's dashboard run list is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := dashboardJobs(args, a.catalog.Runs.Dashboards)
			if err != nil {
				return err
			}
			return a.run(cmd, jobs, true)
		},
	}
}

func archiveJobs(args, defaults []string, mirror bool) []pipeline.Job {
	if len(args) == 0 {
		args = defaults
	}
	jobs := make([]pipeline.Job, 0, len(args))
	for _, c := range args {
		jobs = append(jobs, pipeline.ArchiveJob(c, mirror))
	}
	return jobs
}

func dashboardJobs(args, defaults []string) ([]pipeline.Job, error) {
	if len(args) == 0 {
		args = defaults
	}
	var jobs []pipeline.Job
	var errs []error
	for _, s := range args {
		j, err := pipeline.ParseDashboard(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Join(errs...)
}

func (a *app) run(cmd *cobra.Command, jobs []pipeline.Job, withSheets bool) error {
	if len(jobs) == 0 {
		return fmt.Errorf("nothing to do: no jobs given and the catalog run list is empty")
	}
	ctx := cmd.Context()

	r, cleanup, err := a.runner(ctx, withSheets)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := r.Run(ctx, jobs)
	if len(s.Outcomes) > 0 {
		pipeline.WriteSummary(cmd.OutOrStdout(), s)
	}
	if err != nil {
		return err
	}
	if s.AllFailed() {
		return errAllFailed
	}
	if n := s.Failed(); n > 0 {
		slog.WarnContext(ctx, "run finished with failures", "failed", n, "outcomes", len(s.Outcomes))
	}
	return nil
}
