package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"dupeplan/internal/scanner"
	"dupeplan/internal/store"
	"dupeplan/internal/types"
)

// scanOptions holds CLI flags for the scan command.
type scanOptions struct {
	minSizeStr string
	maxSizeStr string
	prunes     []string
	excludes   []string
	workers    int
	noProgress bool
}

// newScanCmd creates the scan subcommand.
func newScanCmd(global *globalOptions) *cobra.Command {
	opts := &scanOptions{
		minSizeStr: "1",
		workers:    runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Record file metadata into the database",
		Long: `Walks the given paths and records (size, mtime, inode) for every regular
file into the metadata database. Files whose identity changed since the last
scan have their cached checksums invalidated; unchanged files keep them, which
is what makes repeated runs cheap.

Scanning never computes checksums and never modifies any scanned file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(global, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringVarP(&opts.maxSizeStr, "max-size", "M", opts.maxSizeStr, "Maximum file size (unbounded if empty)")
	cmd.Flags().StringSliceVarP(&opts.prunes, "prune", "p", nil, "Glob patterns pruning whole subtrees (matched case-insensitively against full paths)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel directory readers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runScan(global *globalOptions, paths []string, opts *scanOptions) error {
	minSize, maxSize, err := parseSizeBounds(opts.minSizeStr, opts.maxSizeStr)
	if err != nil {
		return err
	}
	if err := validateGlobPatterns(opts.prunes); err != nil {
		return fmt.Errorf("invalid --prune: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	st, err := store.Open(global.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sc := scanner.New(scanner.Config{
		Roots:   paths,
		MinSize: minSize,
		MaxSize: maxSize,
		Prune:   opts.prunes,
		Exclude: opts.excludes,
		Workers: opts.workers,
	}, !opts.noProgress)

	return sc.Run(func(path string, size, mtimeNS int64, inode uint64) (types.UpsertResult, error) {
		return st.Upsert(path, size, mtimeNS, inode)
	})
}
