// Package notify is the escalation boundary: it formats admin alerts and
// delivers them as direct messages. Notification failures are logged and
// swallowed; escalation must never abort the caller.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"squadbot/internal/types"
)

// DirectSender delivers a direct message to one user.
type DirectSender interface {
	SendDirect(ctx context.Context, userID, text string) error
}

// Notifier sends formatted escalation DMs to the admin.
type Notifier struct {
	sender  DirectSender
	adminID string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a notifier targeting the given admin user.
func New(sender DirectSender, adminID string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender:  sender,
		adminID: adminID,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (n *Notifier) SetClock(now func() time.Time) {
	n.now = now
}

// Notify formats and sends one escalation event. It never returns an
// error: a failed notification is logged, the caller proceeds.
func (n *Notifier) Notify(ctx context.Context, event types.EventType, fields map[string]string) {
	msg := n.format(event, fields)
	if err := n.sender.SendDirect(ctx, n.adminID, msg); err != nil {
		n.logger.Error("failed to send admin notification",
			zap.String("event", string(event)), zap.Error(err))
		return
	}
	n.logger.Info("admin notification sent", zap.String("event", string(event)))
}

func (n *Notifier) format(event types.EventType, fields map[string]string) string {
	timestamp := n.now().Format("2006-01-02 15:04:05")
	get := func(key string) string {
		if v, ok := fields[key]; ok && v != "" {
			return v
		}
		return "unknown"
	}

	switch event {
	case types.EventPollerTimeout:
		return fmt.Sprintf(
			"POLLER TIMEOUT DETECTED\n"+
				"Time: %s\n"+
				"Instance ID: %s\n"+
				"Age: %s\n"+
				"Action: Stale lock overridden",
			timestamp, get("instance_id"), get("age"))

	case types.EventWorkflowEscalation:
		return fmt.Sprintf(
			"WORKFLOW ESCALATION\n"+
				"Time: %s\n"+
				"User: %s\n"+
				"Squad: %s\n"+
				"Workflow ID: %s\n"+
				"Interactions: %s\n"+
				"Reason: Too many ambiguous exchanges, requires human assistance",
			timestamp, get("user_name"), get("squad"), get("workflow_id"), get("interaction_count"))

	case types.EventMessageRetryExceeded:
		return fmt.Sprintf(
			"MESSAGE RETRY LIMIT EXCEEDED\n"+
				"Time: %s\n"+
				"Message ID: %s\n"+
				"Retry count: %s\n"+
				"Error: %s",
			timestamp, get("message_id"), get("retry_count"), get("error_message"))

	case types.EventWorkflowExecutionFailed:
		return fmt.Sprintf(
			"WORKFLOW EXECUTION FAILED\n"+
				"Time: %s\n"+
				"Workflow ID: %s\n"+
				"Squad: %s\n"+
				"Error: %s",
			timestamp, get("workflow_id"), get("squad"), get("error_message"))

	default:
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "ADMIN NOTIFICATION\nTime: %s\nType: %s", timestamp, event)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, fields[k])
		}
		return b.String()
	}
}
