package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"squadbot/internal/config"
	"squadbot/internal/store"
)

// inspectCmd dumps one workflow or queue entry for debugging a stuck
// conversation.
var inspectCmd = &cobra.Command{
	Use:   "inspect (workflow|message) <id>",
	Short: "Show one workflow or queue entry in detail",
	Args:  cobra.ExactArgs(2),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Poller.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "workflow":
		return inspectWorkflow(st, args[1])
	case "message":
		return inspectMessage(st, args[1])
	default:
		return fmt.Errorf("unknown kind %q (want workflow or message)", args[0])
	}
}

func inspectWorkflow(st *store.Store, id string) error {
	wf, err := st.WorkflowByID(id)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", id, err)
	}
	fmt.Printf("Workflow %s\n", wf.ID)
	fmt.Printf("  squad:    %s\n", wf.SquadID)
	fmt.Printf("  status:   %s\n", wf.Status)
	fmt.Printf("  opened by %s at %s\n", wf.InitiatingUserID, wf.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  expires:  %s\n", wf.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  state:    %s\n", wf.StepState)

	history, err := st.WorkflowHistory(wf.ID)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		fmt.Println("  conversation:")
		for _, m := range history {
			fmt.Printf("    [%s] %s: %s\n", m.MessageID, m.SenderName, m.Text)
		}
	}
	return nil
}

func inspectMessage(st *store.Store, id string) error {
	e, err := st.EntryBySourceID(id)
	if err != nil {
		return fmt.Errorf("message %s: %w", id, err)
	}
	fmt.Printf("Queue entry %s\n", e.SourceMessageID)
	fmt.Printf("  sender:  %s (%s)\n", e.SenderName, e.SenderID)
	fmt.Printf("  status:  %s (retries %d)\n", e.Status, e.RetryCount)
	fmt.Printf("  text:    %s\n", e.Text)
	if e.LastError != "" {
		fmt.Printf("  error:   %s\n", e.LastError)
	}
	if !e.ProcessedAt.IsZero() {
		fmt.Printf("  processed: %s\n", e.ProcessedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
