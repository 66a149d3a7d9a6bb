package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dupeplan/internal/store"
)

// newPruneCmd creates the prune subcommand.
func newPruneCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop database records for files that no longer exist",
		Long: `Removes metadata records whose paths are gone from the filesystem. Neither
scan nor report ever deletes records, so the database only shrinks when this
command is run explicitly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(global.dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			removed, err := st.Prune(func(path string) bool {
				_, statErr := os.Lstat(path)
				return os.IsNotExist(statErr)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stale records\n", removed)
			return nil
		},
	}
}
