package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"engagement-sync/internal/domain"
	"engagement-sync/internal/ledger"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [COURSE]",
		Short: "Show recent run outcomes from the ledger.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			course := ""
			if len(args) == 1 {
				code := domain.NormalizeCourse(args[0])
				if _, err := a.catalog.Course(code); err != nil {
					return err
				}
				course = string(code)
			}

			led, err := a.openLedger()
			if err != nil {
				return err
			}
			if led == nil {
				return &domain.ConfigurationError{Key: "LEDGER_PATH", Reason: "ledger disabled"}
			}
			defer led.Close()

			entries, err := led.Recent(cmd.Context(), course, limit)
			if err != nil {
				return err
			}
			writeHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func writeHistory(w io.Writer, entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started (UTC)", "Course", "Destination", "Partner", "Status", "Rows", "Elapsed", "Detail"})
	table.SetAutoWrapText(false)
	for _, e := range entries {
		table.Append([]string{
			e.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			e.Course,
			e.Destination,
			e.Partner,
			e.Status,
			strconv.Itoa(e.Rows),
			e.Elapsed.Round(time.Millisecond).String(),
			e.Detail,
		})
	}
	table.Render()
}
