// Package types holds the domain types shared across squadbot: queue
// entries, workflows, transport messages, and calendar commands.
package types

import "time"

// QueueStatus is the lifecycle state of an inbound message in the queue.
type QueueStatus string

const (
	QueueReceived   QueueStatus = "RECEIVED"
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueDone       QueueStatus = "DONE"
	QueueFailed     QueueStatus = "FAILED"
	QueueExpired    QueueStatus = "EXPIRED"
	QueueSkipped    QueueStatus = "SKIPPED"
)

// Terminal reports whether the status admits no further transitions.
// FAILED is not terminal by status alone: a failed entry re-enters the
// drain until its retry count crosses the configured ceiling.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueDone, QueueExpired, QueueSkipped:
		return true
	}
	return false
}

// QueueEntry is one durable inbound message observation.
type QueueEntry struct {
	ID              string
	SourceMessageID string
	GroupID         string
	SenderID        string
	SenderName      string
	Text            string
	SourceTimestamp int64
	Status          QueueStatus
	RetryCount      int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     time.Time
}

// WorkflowStatus is the lifecycle state of a conversational workflow.
type WorkflowStatus string

const (
	WorkflowNew             WorkflowStatus = "NEW"
	WorkflowWaitingForInput WorkflowStatus = "WAITING_FOR_INPUT"
	WorkflowReady           WorkflowStatus = "READY"
	WorkflowExecuting       WorkflowStatus = "EXECUTING"
	WorkflowCompleted       WorkflowStatus = "COMPLETED"
	WorkflowExpired         WorkflowStatus = "EXPIRED"
)

// ActiveWorkflowStatuses are the statuses that make a workflow eligible
// for routing. At most one active workflow per squad is expected; extras
// are logged as anomalies, newest wins.
var ActiveWorkflowStatuses = []WorkflowStatus{
	WorkflowNew,
	WorkflowWaitingForInput,
	WorkflowReady,
	WorkflowExecuting,
}

// Workflow is one open-or-closed conversational task scoped to a squad.
type Workflow struct {
	ID               string
	GroupID          string
	SquadID          string // empty means unscoped (not squad-shareable)
	InitiatingUserID string
	WorkflowType     string
	Status           WorkflowStatus
	StepState        string // serialized JSON owned by the engine
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// Message is one message as observed from the chat transport.
type Message struct {
	ID         string
	GroupID    string
	SenderID   string
	SenderName string
	SenderType string
	Text       string
	System     bool
	CreatedAt  int64 // unix seconds, transport-assigned
}

// ConversationMessage is one stored conversation-history row, possibly
// linked to the workflow it fed.
type ConversationMessage struct {
	MessageID  string
	GroupID    string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  int64
	WorkflowID string
	CreatedAt  time.Time
}

// CalendarAction is a scheduling command verb understood by the calendar
// service.
type CalendarAction string

const (
	ActionNoCrew          CalendarAction = "noCrew"
	ActionAddShift        CalendarAction = "addShift"
	ActionObliterateShift CalendarAction = "obliterateShift"
)

// CalendarCommand is one discrete scheduling command.
type CalendarCommand struct {
	Action     CalendarAction
	Date       string // YYYYMMDD
	ShiftStart string // HHMM
	ShiftEnd   string // HHMM
	Squad      string
	Preview    bool
}

// CoverageRequest is one extracted shift-coverage item. Fields mirror the
// classifier's extraction output; empty strings mean "not yet provided".
type CoverageRequest struct {
	Squad      string `json:"squad"`
	Date       string `json:"date"`
	ShiftStart string `json:"shift_start"`
	ShiftEnd   string `json:"shift_end"`
	Action     string `json:"action"`
}

// EventType identifies an admin escalation event.
type EventType string

const (
	EventPollerTimeout           EventType = "poller_timeout"
	EventWorkflowEscalation      EventType = "workflow_escalation"
	EventMessageRetryExceeded    EventType = "message_retry_exceeded"
	EventWorkflowExecutionFailed EventType = "workflow_execution_failed"
)
