package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// debounce batches bursts of filesystem events into one reconcile pass.
const debounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile automatically when the file tree changes",
	Long: `Watch monitors the data directory and re-runs the offline reconcile pass
whenever resource files change. Index files themselves are ignored so the
watcher does not react to its own writes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := slog.Default()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("cannot create watcher: %w", err)
		}
		defer func() { _ = watcher.Close() }()

		for _, col := range cfg.Collections {
			dir := filepath.Join(cfg.DataDir, col.Name)
			if err := watcher.Add(dir); err != nil {
				log.Warn("cannot watch collection directory", "dir", dir, "err", err)
			}
		}

		ctx := cmd.Context()
		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		log.Info("watching for changes", "dir", cfg.DataDir)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				base := filepath.Base(ev.Name)
				if base == "index.json" || base == "index.lock" ||
					strings.HasSuffix(base, ".tmp") {
					continue
				}
				timer.Reset(debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Warn("watch error", "err", err)
			case <-timer.C:
				if err := runPass(ctx, cfg, false); err != nil {
					log.Error("reconcile pass failed", "err", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
