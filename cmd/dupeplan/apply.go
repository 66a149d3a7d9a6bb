package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dupeplan/internal/checksum"
	"dupeplan/internal/linker"
	"dupeplan/internal/plan"
	"dupeplan/internal/policy"
	"dupeplan/internal/store"
)

// applyOptions holds CLI flags for the apply command.
type applyOptions struct {
	compareOptions
	dryRun bool
}

// newApplyCmd creates the apply subcommand.
func newApplyCmd(global *globalOptions) *cobra.Command {
	opts := &applyOptions{
		compareOptions: compareOptions{
			minSizeStr: "1",
			styleStr:   plan.DefaultStyle,
			policyStr:  policy.DefaultChain,
			hashAlgo:   checksum.DefaultAlgorithm,
		},
	}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Find duplicates and replace copies with links in-process",
		Long: `Runs the same comparison as report, then replaces each genuine copy with a
link to its set's original, carrying the full safety contract per copy:
content is verified first, the copy is renamed aside as a backup, and the
backup is deleted only after the new link verifies against it.

Interrupting with Ctrl-C stops between copies; a copy already being replaced
is always finished or rolled back first.

Use --dry-run to preview without making changes.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runApply(global, opts)
		},
	}

	addCompareFlags(cmd, &opts.compareOptions)
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Preview changes without executing")

	return cmd
}

func runApply(global *globalOptions, opts *applyOptions) error {
	v, err := opts.validate()
	if err != nil {
		return err
	}

	st, err := store.Open(global.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	organized, err := organizedGroups(st, v, !opts.noProgress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = linker.New(v.style, opts.dryRun, !opts.noProgress).Apply(ctx, organized)
	return err
}
