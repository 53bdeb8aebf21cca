package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/fileindex-mcp/internal/config"
	"github.com/dshills/fileindex-mcp/internal/fileindex"
	"github.com/dshills/fileindex-mcp/internal/ignore"
	"github.com/dshills/fileindex-mcp/internal/walker"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fileindex",
	Short: "Background file indexing and prefix search",
	Long: `fileindex keeps a SQLite index of every file and directory below the
configured entrypoints and answers prefix queries against it.

The index is maintained in the background: a full scan on first start,
incremental scans of changed directories afterwards, and optional
filesystem watching while serving.

Configuration is read from --config (or $FILEINDEX_CONFIG), then
FILEINDEX_DB_PATH, FILEINDEX_ENTRYPOINTS and FILEINDEX_LOG_LEVEL.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "Path to a TOML config file")

	rootCmd.AddCommand(serveCmd, scanCmd, searchCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles what every command builds from the configuration
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	walker walker.Options
	index  *fileindex.FileIndex
}

// newApp loads the configuration and opens the index. Logs go to stderr,
// stdout is reserved for command output and the MCP protocol.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	// One chain for every walker so ignore file changes reach all of them
	chain, err := ignore.NewChain(cfg.Scan.IgnoreFileNames, ignore.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	opts := cfg.WalkerOptions(chain, logger)

	index, err := fileindex.New(cfg.FileIndexConfig(opts), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := index.SetEntrypoints(cfg.EntrypointList()); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, walker: opts, index: index}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
