package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	status, err := a.index.Status(ctx)
	if err != nil {
		return err
	}
	idx := status.Index

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database:     %s", a.cfg.DatabasePath)
	if info, err := os.Stat(a.cfg.DatabasePath); err == nil {
		fmt.Fprintf(out, " (%s)", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Schema:       %s\n", idx.Health.SchemaVersion)
	fmt.Fprintf(out, "Entrypoints:  %s\n", strings.Join(status.Entrypoints, ", "))
	fmt.Fprintf(out, "Files:        %s\n", humanize.Comma(int64(idx.FilesCount)))
	fmt.Fprintf(out, "Directories:  %s\n", humanize.Comma(int64(idx.DirectoriesCount)))
	fmt.Fprintf(out, "Scans:        %d finished, %d failed, %d started\n",
		idx.ScansFinished, idx.ScansFailed, idx.ScansStarted)
	if status.InterruptedScans > 0 {
		fmt.Fprintf(out, "Interrupted:  %d (retried on next start)\n", status.InterruptedScans)
	}
	if last := idx.LastScan; last != nil {
		fmt.Fprintf(out, "Last scan:    %s %s of %s, %s\n",
			last.Status, last.Kind, last.Path, humanize.Time(last.UpdatedAt))
	} else {
		fmt.Fprintln(out, "Last scan:    never")
	}
	if !idx.Health.FTSIndexBuilt {
		fmt.Fprintln(out, "Warning:      search index missing, run 'fileindex scan --rebuild'")
	}
	return nil
}
