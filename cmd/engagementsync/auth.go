package main

import (
	"github.com/spf13/cobra"
)

func newAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to the dashboard spreadsheets and store the token.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.store().Authorize(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			return err
		},
	}
}
