// Package cli implements the bibcache command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scholdex/bibcache/internal/config"
)

var (
	cfgPath  string
	logLevel string
	levelVar *slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "bibcache",
	Short: "Maintains a file-based cache of bibliographic API records",
	Long: `bibcache keeps a static, content-addressable cache of JSON records from a
paginated bibliographic API. Each resource is one file named after its
canonical URL; per-collection index files track change-detection metadata
and are reconciled against the file tree, which is ground truth.`,
	SilenceUsage: true, // don't print usage on operational errors
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return applyLogLevel(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "bibcache.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the CLI. The level var belongs to the handler main installed.
func Execute(ctx context.Context, ll *slog.LevelVar) error {
	levelVar = ll
	return rootCmd.ExecuteContext(ctx)
}

func applyLogLevel(s string) error {
	if levelVar == nil {
		return nil
	}
	switch s {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", s)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, nil
}
