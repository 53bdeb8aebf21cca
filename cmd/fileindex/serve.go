package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/fileindex-mcp/internal/mcp"
	"github.com/dshills/fileindex-mcp/internal/watcher"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Maintain the index in the background and serve MCP on stdio",
	Long: `Start the scan pipeline and expose the index to MCP clients over stdio.

On startup the index recovers from the previous run:
- fresh database: full scan of every entrypoint
- scans interrupted by a crash: retried
- otherwise: incremental scan of directories that changed

With --watch (or [watch] enabled = true) changed directories are rescanned
as filesystem events arrive.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch entrypoints for changes (overrides [watch] enabled)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	sigCtx, stop := signalContext()
	defer stop()

	if err := a.index.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start index: %w", err)
	}
	defer func() {
		if err := a.index.Stop(); err != nil {
			a.logger.Error("index shutdown failed", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if serveWatch || a.cfg.Watch.Enabled {
		w, err := watcher.New(a.index, a.cfg.Entrypoints, a.cfg.WatcherConfig(a.walker), a.logger)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	server := mcp.NewServer(a.index, version, a.logger)
	g.Go(func() error {
		// Stdin closing ends the session
		defer cancel()
		return server.Serve(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
