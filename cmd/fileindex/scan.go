package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var scanRebuild bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Bring the index up to date and exit",
	Long: `Run the startup scans (full, retry or incremental, whichever applies)
and wait until everything is persisted.

With --rebuild every entrypoint is fully re-indexed as well. Entries
that no longer exist are removed at the end of a full scan.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanRebuild, "rebuild", false, "Fully re-index every entrypoint")
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	if err := a.index.Start(ctx); err != nil {
		return fmt.Errorf("failed to start index: %w", err)
	}
	defer func() { _ = a.index.Stop() }()

	// A fresh database already starts with a full scan of every entrypoint
	if scanRebuild && !a.index.FullScanQueued() {
		if err := a.index.RebuildIndex(); err != nil {
			return fmt.Errorf("failed to queue rebuild: %w", err)
		}
	}

	if err := a.index.WaitIdle(ctx); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}

	status, err := a.index.Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %s files and %s directories in %s\n",
		humanize.Comma(int64(status.Index.FilesCount)),
		humanize.Comma(int64(status.Index.DirectoriesCount)),
		time.Since(start).Round(time.Millisecond))
	if status.Index.ScansFailed > 0 {
		fmt.Fprintf(out, "%d scans failed, see log for details\n", status.Index.ScansFailed)
	}
	return nil
}
