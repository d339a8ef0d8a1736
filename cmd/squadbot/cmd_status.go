package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"squadbot/internal/config"
	"squadbot/internal/store"
	"squadbot/internal/types"
)

// statusCmd prints queue and workflow counts without touching the lease
// or the transport.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show message queue and workflow counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Poller.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	queueCounts, err := st.QueueCounts()
	if err != nil {
		return err
	}
	workflowCounts, err := st.WorkflowCounts()
	if err != nil {
		return err
	}

	fmt.Println("Message queue:")
	printCounts(queueCounts)
	fmt.Println("Workflows:")
	printWorkflowCounts(workflowCounts)

	for _, status := range types.ActiveWorkflowStatuses {
		if workflowCounts[status] > 0 {
			active, err := st.ActiveWorkflows()
			if err != nil {
				return err
			}
			fmt.Println("Active workflows:")
			for _, wf := range active {
				fmt.Printf("  %s  squad=%s  status=%s  updated=%s\n",
					wf.ID, wf.SquadID, wf.Status, wf.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			break
		}
	}

	recent, err := st.RecentMessages(5)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("Recent conversation:")
		for _, m := range recent {
			fmt.Printf("  %s: %s\n", m.SenderName, m.Text)
		}
	}
	return nil
}

func printCounts(counts map[types.QueueStatus]int) {
	if len(counts) == 0 {
		fmt.Println("  (empty)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[types.QueueStatus(k)])
	}
}

func printWorkflowCounts(counts map[types.WorkflowStatus]int) {
	if len(counts) == 0 {
		fmt.Println("  (empty)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-18s %d\n", k, counts[types.WorkflowStatus(k)])
	}
}
