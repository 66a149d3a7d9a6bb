package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	dbPath   string
	logLevel string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := &globalOptions{
		dbPath:   "dupeplan.sqlite",
		logLevel: "warn",
	}

	root := &cobra.Command{
		Use:     "dupeplan",
		Short:   "Find duplicate files and plan their deduplication",
		Version: version + " (" + commit + ")",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			logrus.SetOutput(os.Stderr)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the metadata database")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newReportCmd(opts))
	root.AddCommand(newApplyCmd(opts))
	root.AddCommand(newPruneCmd(opts))

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
