package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"engagement-sync/internal/config"
)

// app is what every command shares once the environment is loaded.
type app struct {
	cfg     config.Config
	catalog *config.Catalog
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFile string

	root := &cobra.Command{
		Use:           "engagementsync",
		Short:         "Archive learner engagement and publish partner dashboards.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newArchiveCmd(a),
		newDashboardCmd(a),
		newMigrateCmd(a),
		newAuthCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) load(envFile string) error {
	// Real environment variables win over the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	a.cfg = config.Load()
	setupLogging(a.cfg.LogLevel)

	cat, err := config.LoadCatalog(a.cfg.CatalogPath)
	if err != nil {
		return err
	}
	a.catalog = cat
	return nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func setupLogging(level string) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
}
