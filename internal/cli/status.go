package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scholdex/bibcache/internal/index"
	"github.com/scholdex/bibcache/internal/key"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize every collection index",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kc := cfg.Canonicalizer()
		log := slog.Default()

		fmt.Printf("%-15s %8s %8s\n", "COLLECTION", "ENTRIES", "PENDING")
		for _, col := range cfg.Collections {
			dir := filepath.Join(cfg.DataDir, col.Name)
			idx, err := index.Load(filepath.Join(dir, "index.json"), col.Name, kc, log)
			if err != nil {
				return err
			}

			pending := 0
			for u := range idx.Entries {
				if _, err := os.Stat(filepath.Join(dir, key.FilenameForURL(u))); err != nil {
					pending++
				}
			}
			fmt.Printf("%-15s %8d %8d\n", col.Name, len(idx.Entries), pending)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
