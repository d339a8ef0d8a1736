package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"squadbot/internal/classifier"
	"squadbot/internal/types"
)

// Store is the persistence the engine needs.
type Store interface {
	CreateWorkflow(wf *types.Workflow) error
	UpdateWorkflowWithLink(id string, status types.WorkflowStatus, stepState, messageID string) error
	SaveConversationMessage(m types.ConversationMessage) error
}

// Extractor is the parameter-extraction classifier call.
type Extractor interface {
	Extract(ctx context.Context, contextBlock, message string) (*classifier.ExtractResult, error)
}

// Executor dispatches scheduling commands.
type Executor interface {
	ExecuteWithRetry(ctx context.Context, cmd types.CalendarCommand, attempts int) error
}

// Poster sends a reply into the group conversation.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Notifier emits admin escalation events.
type Notifier interface {
	Notify(ctx context.Context, event types.EventType, fields map[string]string)
}

// Config holds the engine's tunables.
type Config struct {
	InteractionLimit int
	AllowedSquads    []string
	RetryAttempts    int
	Expiration       time.Duration
	BotName          string
}

// Engine advances workflows one pass per routed message.
type Engine struct {
	store    Store
	extract  Extractor
	executor Executor
	poster   Poster
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a workflow engine.
func NewEngine(store Store, extract Extractor, executor Executor, poster Poster, notifier Notifier, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BotName == "" {
		cfg.BotName = "squadbot"
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Engine{
		store:    store,
		extract:  extract,
		executor: executor,
		poster:   poster,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start creates a workflow for a fresh coverage request and runs the
// first pass. resolvedDays and schedule come from intent detection and
// the calendar snapshot; either may be empty.
func (e *Engine) Start(ctx context.Context, entry types.QueueEntry, squadID string, resolvedDays []string, schedule string) (*types.Workflow, error) {
	st := &StepState{
		Step:            StepExtract,
		OriginalMessage: entry.Text,
		SenderName:      entry.SenderName,
		SenderSquad:     squadID,
		ResolvedDays:    resolvedDays,
		ScheduleContext: schedule,
	}
	raw, err := st.Marshal()
	if err != nil {
		return nil, err
	}

	wf := &types.Workflow{
		GroupID:          entry.GroupID,
		SquadID:          squadID,
		InitiatingUserID: entry.SenderID,
		WorkflowType:     "shift_coverage",
		Status:           types.WorkflowNew,
		StepState:        raw,
		ExpiresAt:        e.now().Add(e.cfg.Expiration),
	}
	if err := e.store.CreateWorkflow(wf); err != nil {
		return nil, err
	}
	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("squad", squadID),
		zap.String("user", entry.SenderName))

	if err := e.advance(ctx, wf, st, entry); err != nil {
		return wf, err
	}
	return wf, nil
}

// Resume feeds a related reply into an open workflow: the reply is
// recorded as the answer to the last clarification question and the
// machine re-enters Extract.
func (e *Engine) Resume(ctx context.Context, wf *types.Workflow, entry types.QueueEntry) error {
	st, err := ParseState(wf.StepState)
	if err != nil {
		return err
	}
	if st.AskedParam != "" {
		st.Answers = append(st.Answers, Answer{Param: st.AskedParam, Reply: entry.Text})
	}
	e.logger.Info("workflow resumed",
		zap.String("workflow_id", wf.ID),
		zap.Int("interaction_count", st.InteractionCount))
	return e.advance(ctx, wf, st, entry)
}

// advance runs one full pass: extract, then clarify, complete-no-action,
// or validate-and-execute. It persists state and status atomically with
// the message linkage and sends any user-facing replies.
func (e *Engine) advance(ctx context.Context, wf *types.Workflow, st *StepState, entry types.QueueEntry) error {
	res, err := e.extract.Extract(ctx, st.ContextBlock(), entry.Text)
	if err != nil {
		// surfaced to the drain loop, which fails the queue entry and
		// retries it on a later cycle
		return fmt.Errorf("extraction failed for workflow %s: %w", wf.ID, err)
	}

	st.Step = StepExtract
	st.ParsedRequests = res.Requests
	st.Missing = res.Missing
	st.Warnings = res.Warnings
	st.Reasoning = res.Reasoning
	st.Question = ""
	st.AskedParam = ""

	switch {
	case len(st.ParsedRequests) == 0:
		return e.completeNoAction(ctx, wf, st, entry)
	case len(st.Missing) > 0:
		return e.clarify(ctx, wf, st, entry)
	default:
		return e.validateAndExecute(ctx, wf, st, entry)
	}
}

// completeNoAction closes a workflow that needs no scheduling change,
// relaying the classifier's explanation.
func (e *Engine) completeNoAction(ctx context.Context, wf *types.Workflow, st *StepState, entry types.QueueEntry) error {
	st.Step = StepCompleteNoAction

	msg := strings.Join(st.Warnings, "\n")
	if msg == "" {
		msg = st.Reasoning
	}
	if msg == "" {
		msg = "No action needed based on the current schedule."
	}
	if err := e.reply(ctx, wf, msg); err != nil {
		return err
	}
	e.logger.Info("workflow completed with no action", zap.String("workflow_id", wf.ID))
	return e.persist(wf, st, types.WorkflowCompleted, entry.SourceMessageID)
}

// paramPriority fixes which missing field gets asked about first.
var paramPriority = []string{"squad", "date", "shift_start", "shift_end", "action"}

var clarifyQuestions = map[string]string{
	"squad":       "Which squad won't be available? (34, 35, 42, 43, or 54)",
	"date":        "What date are you referring to? (e.g., 'Saturday', 'December 25', or '12/25')",
	"shift_start": "What time does the shift start? (e.g., '6 PM' or '1800')",
	"shift_end":   "What time does the shift end? (e.g., '6 AM' or '0600')",
	"action":      "Do you want to remove the shift, add a shift, or obliterate it completely?",
}

// clarify asks one question about the highest-priority missing field,
// counts the interaction, and escalates exactly once when the count
// reaches the limit. Escalation informs the admin; the workflow stays
// open at WAITING_FOR_INPUT.
func (e *Engine) clarify(ctx context.Context, wf *types.Workflow, st *StepState, entry types.QueueEntry) error {
	param := st.Missing[0]
	for _, p := range paramPriority {
		if contains(st.Missing, p) {
			param = p
			break
		}
	}
	question, ok := clarifyQuestions[param]
	if !ok {
		question = fmt.Sprintf("Can you provide the %s?", param)
	}

	st.Step = StepClarify
	st.Question = question
	st.AskedParam = param
	st.InteractionCount++

	e.logger.Info("requesting clarification",
		zap.String("workflow_id", wf.ID),
		zap.String("param", param),
		zap.Int("interaction_count", st.InteractionCount))

	if st.InteractionCount >= e.cfg.InteractionLimit && !st.Escalated {
		st.Escalated = true
		e.notifier.Notify(ctx, types.EventWorkflowEscalation, map[string]string{
			"workflow_id":       wf.ID,
			"user_name":         st.SenderName,
			"squad":             wf.SquadID,
			"interaction_count": strconv.Itoa(st.InteractionCount),
		})
		question += "\n(I'm having trouble understanding this request, so I've notified an admin to follow up.)"
		e.logger.Warn("workflow escalated",
			zap.String("workflow_id", wf.ID),
			zap.Int("interaction_count", st.InteractionCount))
	}

	if err := e.reply(ctx, wf, question); err != nil {
		return err
	}
	return e.persist(wf, st, types.WorkflowWaitingForInput, entry.SourceMessageID)
}

// validateAndExecute checks field formats and, on success, dispatches
// every parsed request. On validation failure the warnings are sent and
// the status is left unchanged: only a fresh routed message re-enters
// Extract.
func (e *Engine) validateAndExecute(ctx context.Context, wf *types.Workflow, st *StepState, entry types.QueueEntry) error {
	st.Step = StepValidate
	warnings := e.validate(st)

	if len(warnings) > 0 {
		st.ValidationPassed = false
		st.Warnings = append(st.Warnings, warnings...)
		e.logger.Warn("validation failed",
			zap.String("workflow_id", wf.ID),
			zap.Strings("warnings", warnings))
		if err := e.reply(ctx, wf, strings.Join(warnings, "\n")); err != nil {
			return err
		}
		return e.persist(wf, st, wf.Status, entry.SourceMessageID)
	}

	st.ValidationPassed = true
	if err := e.persist(wf, st, types.WorkflowReady, entry.SourceMessageID); err != nil {
		return err
	}

	st.Step = StepExecute
	if err := e.persist(wf, st, types.WorkflowExecuting, entry.SourceMessageID); err != nil {
		return err
	}

	succeeded, failed := 0, 0
	var failures []string
	for _, req := range st.ParsedRequests {
		cmd := types.CalendarCommand{
			Action:     types.CalendarAction(req.Action),
			Date:       req.Date,
			ShiftStart: req.ShiftStart,
			ShiftEnd:   req.ShiftEnd,
			Squad:      req.Squad,
		}
		if err := e.executor.ExecuteWithRetry(ctx, cmd, e.cfg.RetryAttempts); err != nil {
			failed++
			failures = append(failures, fmt.Sprintf("%s for squad %s on %s: %v",
				req.Action, req.Squad, req.Date, err))
			e.logger.Error("calendar command failed",
				zap.String("workflow_id", wf.ID), zap.Error(err))
		} else {
			succeeded++
		}
	}

	var summary string
	if failed == 0 {
		summary = fmt.Sprintf("Done. Recorded %d schedule update(s).", succeeded)
	} else {
		summary = fmt.Sprintf("Recorded %d of %d schedule update(s); %d failed. An admin has been notified.",
			succeeded, succeeded+failed, failed)
		e.notifier.Notify(ctx, types.EventWorkflowExecutionFailed, map[string]string{
			"workflow_id":   wf.ID,
			"squad":         wf.SquadID,
			"error_message": strings.Join(failures, "; "),
		})
	}
	st.ExecutionSummary = summary

	if err := e.reply(ctx, wf, summary); err != nil {
		return err
	}
	e.logger.Info("workflow completed",
		zap.String("workflow_id", wf.ID),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
	return e.persist(wf, st, types.WorkflowCompleted, entry.SourceMessageID)
}

// validate checks field formats against domain constraints and fills the
// default action.
func (e *Engine) validate(st *StepState) []string {
	var warnings []string
	for i := range st.ParsedRequests {
		req := &st.ParsedRequests[i]
		if req.Action == "" {
			req.Action = string(types.ActionNoCrew)
		}
		if req.Squad == "" {
			warnings = append(warnings, "Missing required parameter: squad")
		} else if !contains(e.cfg.AllowedSquads, req.Squad) {
			warnings = append(warnings, fmt.Sprintf("Invalid squad number: %s", req.Squad))
		}
		if !digitsOfLen(req.Date, 8) {
			warnings = append(warnings, fmt.Sprintf("Invalid date format: %s (expected YYYYMMDD)", req.Date))
		}
		if !digitsOfLen(req.ShiftStart, 4) {
			warnings = append(warnings, fmt.Sprintf("Invalid shift_start format: %s (expected HHMM)", req.ShiftStart))
		}
		if !digitsOfLen(req.ShiftEnd, 4) {
			warnings = append(warnings, fmt.Sprintf("Invalid shift_end format: %s (expected HHMM)", req.ShiftEnd))
		}
		switch types.CalendarAction(req.Action) {
		case types.ActionNoCrew, types.ActionAddShift, types.ActionObliterateShift:
		default:
			warnings = append(warnings, fmt.Sprintf("Invalid action: %s", req.Action))
		}
	}
	return warnings
}

// reply posts into the group and records the bot's side of the
// conversation so the relatedness classifier sees both halves.
func (e *Engine) reply(ctx context.Context, wf *types.Workflow, text string) error {
	if err := e.poster.Post(ctx, text); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	msg := types.ConversationMessage{
		MessageID:  "bot-" + uuid.NewString(),
		GroupID:    wf.GroupID,
		SenderID:   "bot",
		SenderName: e.cfg.BotName,
		Text:       text,
		Timestamp:  e.now().Unix(),
		WorkflowID: wf.ID,
	}
	if err := e.store.SaveConversationMessage(msg); err != nil {
		e.logger.Warn("failed to record bot reply", zap.Error(err))
	}
	return nil
}

func (e *Engine) persist(wf *types.Workflow, st *StepState, status types.WorkflowStatus, messageID string) error {
	raw, err := st.Marshal()
	if err != nil {
		return err
	}
	if err := e.store.UpdateWorkflowWithLink(wf.ID, status, raw, messageID); err != nil {
		return err
	}
	wf.Status = status
	wf.StepState = raw
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func digitsOfLen(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
