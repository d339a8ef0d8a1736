package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// pollCmd runs exactly one poll cycle and exits. This is the mode cron
// or a systemd timer invokes.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll cycle: fetch, queue, and process new messages",
	RunE:  runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.poller.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll cycle failed: %w", err)
	}
	if res.Yielded {
		fmt.Println("Another instance holds the lease; nothing to do.")
		return nil
	}

	logger.Info("poll finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("queued", res.Queued),
		zap.Int("processed", res.Processed),
		zap.Int("done", res.Done),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int64("expired", res.Expired),
		zap.Int64("workflows_expired", res.WorkflowsExpired))
	fmt.Printf("Fetched %d, queued %d, processed %d (done %d, skipped %d, failed %d)\n",
		res.Fetched, res.Queued, res.Processed, res.Done, res.Skipped, res.Failed)
	return nil
}
