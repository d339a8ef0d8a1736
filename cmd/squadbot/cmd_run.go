package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pollInterval time.Duration

// runCmd polls continuously, for environments without an external
// scheduler. The roster file is watched and hot-reloaded between cycles.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll continuously at a fixed interval",
	RunE:  runLoop,
}

func init() {
	runCmd.Flags().DurationVar(&pollInterval, "interval", 60*time.Second, "Delay between poll cycles")
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := a.roster.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("roster watch stopped", zap.Error(err))
		}
	}()

	fmt.Printf("Polling every %s. Ctrl-C to stop.\n", pollInterval)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		res, err := a.poller.Poll(ctx)
		if err != nil {
			// one bad cycle does not take the loop down
			logger.Error("poll cycle failed", zap.Error(err))
		} else if !res.Yielded {
			logger.Info("poll finished",
				zap.Int("fetched", res.Fetched),
				zap.Int("queued", res.Queued),
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
