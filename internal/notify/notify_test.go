package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadbot/internal/types"
)

type fakeSender struct {
	recipients []string
	texts      []string
	err        error
}

func (f *fakeSender) SendDirect(ctx context.Context, userID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.recipients = append(f.recipients, userID)
	f.texts = append(f.texts, text)
	return nil
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}
}

func TestNotifyWorkflowEscalation(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, "admin-1", nil)
	n.SetClock(fixedClock())

	n.Notify(context.Background(), types.EventWorkflowEscalation, map[string]string{
		"user_name":         "Alice",
		"squad":             "42",
		"workflow_id":       "wf-1",
		"interaction_count": "3",
	})

	require.Len(t, sender.texts, 1)
	assert.Equal(t, "admin-1", sender.recipients[0])
	msg := sender.texts[0]
	assert.Contains(t, msg, "WORKFLOW ESCALATION")
	assert.Contains(t, msg, "User: Alice")
	assert.Contains(t, msg, "Squad: 42")
	assert.Contains(t, msg, "Interactions: 3")
	assert.Contains(t, msg, "2026-08-31 12:00:00")
}

func TestNotifyPollerTimeout(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, "admin-1", nil)
	n.SetClock(fixedClock())

	n.Notify(context.Background(), types.EventPollerTimeout, map[string]string{
		"instance_id": "inst-9",
		"age":         "31m0s",
	})

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "POLLER TIMEOUT DETECTED")
	assert.Contains(t, sender.texts[0], "Instance ID: inst-9")
	assert.Contains(t, sender.texts[0], "Stale lock overridden")
}

func TestNotifyRetryExceededMissingFields(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, "admin-1", nil)
	n.SetClock(fixedClock())

	n.Notify(context.Background(), types.EventMessageRetryExceeded, nil)

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "Message ID: unknown")
}

func TestNotifyUnknownEventGenericFormat(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, "admin-1", nil)
	n.SetClock(fixedClock())

	n.Notify(context.Background(), types.EventType("custom_event"), map[string]string{
		"detail": "something",
	})

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "Type: custom_event")
	assert.Contains(t, sender.texts[0], "detail: something")
}

func TestNotifySwallowsSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	n := New(sender, "admin-1", nil)

	// must not panic or propagate
	n.Notify(context.Background(), types.EventWorkflowEscalation, nil)
	assert.Empty(t, sender.texts)
}
