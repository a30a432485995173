package main

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"engagement-sync/internal/archive"
	"engagement-sync/internal/domain"
)

func newMigrateCmd(a *app) *cobra.Command {
	var snapshotDir string
	var mirror bool

	cmd := &cobra.Command{
		Use:   "migrate COURSE --snapshots DIR",
		Short: "Rebuild a course's master file from a directory of per-run snapshots.",
		Long: "One-time conversion of the old snapshot-per-run layout. The master file is\n" +
			"rebuilt from scratch; an existing master is replaced only when every\n" +
			"snapshot was read successfully.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			course := domain.NormalizeCourse(args[0])

			p, err := a.catalog.ArchivePolicy(course)
			if err != nil {
				return err
			}
			fields, err := a.catalog.Fields(p.FieldSet)
			if err != nil {
				return err
			}
			if mirror && !a.cfg.MirrorEnabled() {
				return &domain.ConfigurationError{Key: "SFTP_HOST", Reason: "--mirror needs an SFTP drop"}
			}

			w := archive.NewWriter(a.cfg.ArchiveRoot, p.FieldSet, fields)
			h, err := w.MigrateHistory(course, snapshotDir)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", course, err)
			}
			slog.InfoContext(ctx, "master rebuilt", "course", course, "path", h.Path, "snapshots", snapshotDir)

			if mirror {
				remote := path.Join(string(course), filepath.Base(h.Path))
				if err := a.mirror().Upload(ctx, h.Path, remote); err != nil {
					return err
				}
				slog.InfoContext(ctx, "master mirrored", "course", course, "remote", remote)
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshots", "", "directory holding the snapshot CSV files")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "upload the rebuilt master to the SFTP drop")
	cmd.MarkFlagRequired("snapshots")
	return cmd
}
