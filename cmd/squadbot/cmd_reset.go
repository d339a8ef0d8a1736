package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"squadbot/internal/config"
	"squadbot/internal/poller"
)

// resetCmd clears the ingest cursor (and optionally the lease) so the
// next cycle re-fetches the full message window. The unique source ID
// constraint makes the replay harmless.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the message cursor so the next poll re-fetches",
	RunE:  runReset,
}

var resetLease bool

func init() {
	resetCmd.Flags().BoolVar(&resetLease, "lease", false, "Also remove the poller lease file")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := poller.NewCursor(cfg.Poller.CursorPath).Reset(); err != nil {
		return err
	}
	fmt.Println("Cursor cleared.")

	if resetLease {
		if err := os.Remove(cfg.Poller.LockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove lease file: %w", err)
		}
		fmt.Println("Lease cleared.")
	}
	return nil
}
