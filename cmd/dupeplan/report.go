package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dupeplan/internal/checksum"
	"dupeplan/internal/plan"
	"dupeplan/internal/policy"
	"dupeplan/internal/store"
	"dupeplan/internal/types"
)

// reportOptions holds CLI flags for the report command.
type reportOptions struct {
	compareOptions
	output string
	cached bool
}

// newReportCmd creates the report subcommand.
func newReportCmd(global *globalOptions) *cobra.Command {
	opts := &reportOptions{
		compareOptions: compareOptions{
			minSizeStr: "1",
			styleStr:   plan.DefaultStyle,
			policyStr:  policy.DefaultChain,
			hashAlgo:   checksum.DefaultAlgorithm,
		},
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Find duplicates and emit a deduplication script",
		Long: `Compares previously scanned files lazily (head checksum, then tail, then
full content) and writes an executable deduplication plan for every set of
genuine copies. Checksums computed along the way are cached in the database.

The emitted script is idempotent and verifies content before every link
operation; running it twice is safe. Members already hard-linked or reflinked
to their set's original produce no instructions.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runReport(global, opts)
		},
	}

	addCompareFlags(cmd, &opts.compareOptions)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the plan to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.cached, "cached", false,
		"Report from cached checksums only, reading no file data (files not yet compared are omitted)")

	return cmd
}

// addCompareFlags binds the flags shared by report and apply.
func addCompareFlags(cmd *cobra.Command, opts *compareOptions) {
	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringVarP(&opts.maxSizeStr, "max-size", "M", opts.maxSizeStr, "Maximum file size (unbounded if empty)")
	cmd.Flags().StringVarP(&opts.styleStr, "dedup", "d", opts.styleStr,
		"Link style: "+strings.Join(plan.KnownStyles(), ", ")+", or a command template with {orig} and {dup}")
	cmd.Flags().StringVar(&opts.policyStr, "policy", opts.policyStr,
		"Original selection keys, comma-separated, \"-\" prefix for descending (known: "+strings.Join(policy.KnownKeys(), ", ")+")")
	cmd.Flags().StringSliceVar(&opts.prefer, "prefer", nil,
		"Path prefixes whose files are preferred as originals by the \"root\" policy key")
	cmd.Flags().StringVar(&opts.hashAlgo, "hash", opts.hashAlgo,
		"Content hash algorithm: "+strings.Join(checksum.Algorithms(), ", "))
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
}

func runReport(global *globalOptions, opts *reportOptions) error {
	v, err := opts.validate()
	if err != nil {
		return err
	}

	st, err := store.Open(global.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var organized []types.OrganizedGroup
	if opts.cached {
		organized, err = cachedGroups(st, v)
	} else {
		organized, err = organizedGroups(st, v, !opts.noProgress)
	}
	if err != nil {
		return err
	}

	out := os.Stdout
	if opts.output != "" {
		f, err := os.OpenFile(opts.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("create plan file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	return plan.NewEmitter(v.style, v.engine.Algorithm()).Emit(out, organized)
}
