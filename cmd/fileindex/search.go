package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/fileindex-mcp/pkg/types"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the index",
	Long: `Print indexed paths matching the query, best match first.

Every word must match the start of a word in the entry name or path, and
the last word may be incomplete:

  fileindex search quarterly rep

Directories are printed with a trailing slash.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default from [query] default_limit)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	files, err := a.index.Query(ctx, strings.Join(args, " "), types.SearchParams{Limit: searchLimit})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		if f.IsDir {
			fmt.Fprintln(out, strings.TrimSuffix(f.Path, "/")+"/")
			continue
		}
		fmt.Fprintln(out, f.Path)
	}
	return nil
}
