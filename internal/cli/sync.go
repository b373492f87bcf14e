package cli

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile every collection and fetch missing resources",
	Long: `Sync runs the full pass for each configured collection: load the index
(migrating legacy formats), reconcile it against the file tree, fetch
resources the index references but the tree lacks, fold removals and
redirects back in, and save. The top-level index is then rebuilt.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runPass(cmd.Context(), cfg, true)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile indexes against the file tree without fetching",
	Long: `Reconcile runs the offline half of sync: it repairs or removes corrupted
files, folds file metadata into each collection index, and rebuilds the
top-level index. No network requests are made.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runPass(cmd.Context(), cfg, false)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reconcileCmd)
}
