// Package router makes the per-message decision: does this message
// continue an open workflow for the sender's squad, start a new one, or
// get rejected as noise?
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"squadbot/internal/classifier"
	"squadbot/internal/roster"
	"squadbot/internal/types"
)

// Outcome is the routing decision for one queue entry.
type Outcome int

const (
	// OutcomeSkipped marks unauthorized senders: terminal SKIPPED.
	OutcomeSkipped Outcome = iota
	// OutcomeDone marks noise or handled messages: terminal DONE.
	OutcomeDone
	// OutcomeStarted means a new workflow was created and advanced.
	OutcomeStarted
	// OutcomeResumed means an open workflow consumed the message.
	OutcomeResumed
	// OutcomeRejected means a competing request was turned away with a
	// "please wait" reply.
	OutcomeRejected
)

// Store is the persistence the router reads.
type Store interface {
	ActiveWorkflowsForSquad(squadID string) ([]types.Workflow, error)
	ActiveWorkflowsForGroup(groupID string) ([]types.Workflow, error)
	WorkflowHistory(workflowID string) ([]types.ConversationMessage, error)
}

// Classifier covers the two routing-side prompt kinds.
type Classifier interface {
	DetectIntent(ctx context.Context, text string, sentAt time.Time) (*classifier.IntentResult, error)
	CheckRelated(ctx context.Context, senderName, text, originalMessage string, history []classifier.HistoryLine) (*classifier.RelatedResult, error)
}

// Engine advances workflows.
type Engine interface {
	Start(ctx context.Context, entry types.QueueEntry, squadID string, resolvedDays []string, schedule string) (*types.Workflow, error)
	Resume(ctx context.Context, wf *types.Workflow, entry types.QueueEntry) error
}

// ScheduleSource supplies the schedule snapshot used to prime extraction.
type ScheduleSource interface {
	ScheduleDay(ctx context.Context, date string) (string, error)
}

// Poster sends replies into the group.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Config holds the router's tunables.
type Config struct {
	ConfidenceFloor int
}

// Router routes one queue entry at a time.
type Router struct {
	store      Store
	roster     *roster.Roster
	classifier Classifier
	engine     Engine
	schedule   ScheduleSource
	poster     Poster
	cfg        Config
	logger     *zap.Logger
}

// New creates a router.
func New(store Store, r *roster.Roster, cls Classifier, engine Engine, schedule ScheduleSource, poster Poster, cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:      store,
		roster:     r,
		classifier: cls,
		engine:     engine,
		schedule:   schedule,
		poster:     poster,
		cfg:        cfg,
		logger:     logger,
	}
}

// Route decides what to do with one queue entry and carries it out.
func (r *Router) Route(ctx context.Context, entry types.QueueEntry) (Outcome, error) {
	member, ok := r.roster.Lookup(entry.SenderName)
	if !ok {
		r.logger.Info("sender not in roster, skipping",
			zap.String("sender", entry.SenderName),
			zap.String("message_id", entry.SourceMessageID))
		return OutcomeSkipped, nil
	}
	squadID := member.SquadID()

	active, err := r.store.ActiveWorkflowsForSquad(squadID)
	if err != nil {
		return OutcomeDone, fmt.Errorf("active workflow lookup failed: %w", err)
	}
	if len(active) == 0 {
		// a workflow opened for another squad still owns the group
		// conversation; a cross-squad answer must be able to reach it
		active, err = r.store.ActiveWorkflowsForGroup(entry.GroupID)
		if err != nil {
			return OutcomeDone, fmt.Errorf("group workflow lookup failed: %w", err)
		}
	}
	if len(active) > 1 {
		ids := make([]string, 0, len(active)-1)
		for _, wf := range active[1:] {
			ids = append(ids, wf.ID)
		}
		r.logger.Warn("multiple active workflows for squad, newest wins",
			zap.String("squad", squadID),
			zap.String("winner", active[0].ID),
			zap.Strings("anomalies", ids))
	}

	if len(active) > 0 {
		wf := active[0]
		if wf.Status == types.WorkflowWaitingForInput {
			related, err := r.checkRelated(ctx, &wf, entry)
			if err != nil {
				// conservative branch: treat as unrelated
				r.logger.Warn("relatedness check failed, treating as unrelated",
					zap.String("workflow_id", wf.ID), zap.Error(err))
			} else if related {
				if err := r.engine.Resume(ctx, &wf, entry); err != nil {
					return OutcomeDone, err
				}
				return OutcomeResumed, nil
			}
			// unrelated: the open workflow stays untouched and the
			// message falls through to the new-request path
		} else {
			return r.handleBusyWorkflow(ctx, &wf, entry)
		}
	}

	return r.maybeStart(ctx, entry, squadID)
}

// checkRelated asks the classifier whether the message continues the
// workflow, feeding it the conversation history.
func (r *Router) checkRelated(ctx context.Context, wf *types.Workflow, entry types.QueueEntry) (bool, error) {
	history, err := r.store.WorkflowHistory(wf.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load workflow history: %w", err)
	}
	var original string
	lines := make([]classifier.HistoryLine, 0, len(history))
	for i, m := range history {
		if i == 0 {
			original = m.Text
		}
		lines = append(lines, classifier.HistoryLine{Sender: m.SenderName, Text: m.Text})
	}

	res, err := r.classifier.CheckRelated(ctx, entry.SenderName, entry.Text, original, lines)
	if err != nil {
		return false, err
	}
	return res.Related && res.Confidence >= r.cfg.ConfidenceFloor, nil
}

// handleBusyWorkflow deals with a message arriving while the squad's
// workflow is mid-execution: a competing request gets a "please wait"
// reply, anything else is ignorable noise.
func (r *Router) handleBusyWorkflow(ctx context.Context, wf *types.Workflow, entry types.QueueEntry) (Outcome, error) {
	intent, err := r.classifier.DetectIntent(ctx, entry.Text, time.Unix(entry.SourceTimestamp, 0))
	if err != nil {
		r.logger.Warn("intent check failed while workflow busy, ignoring message",
			zap.String("workflow_id", wf.ID), zap.Error(err))
		return OutcomeDone, nil
	}
	if intent.IsCoverageRequest && intent.Confidence >= r.cfg.ConfidenceFloor {
		notice := fmt.Sprintf("%s: I'm still working on the previous request for squad %s. Please resend this in a minute.",
			entry.SenderName, wf.SquadID)
		if err := r.poster.Post(ctx, notice); err != nil {
			r.logger.Warn("failed to send please-wait notice", zap.Error(err))
		}
		return OutcomeRejected, nil
	}
	return OutcomeDone, nil
}

// maybeStart runs intent detection and opens a workflow when the message
// is a confident coverage request.
func (r *Router) maybeStart(ctx context.Context, entry types.QueueEntry, squadID string) (Outcome, error) {
	intent, err := r.classifier.DetectIntent(ctx, entry.Text, time.Unix(entry.SourceTimestamp, 0))
	if err != nil {
		// conservative branch: not a request
		r.logger.Warn("intent detection failed, classifying as noise",
			zap.String("message_id", entry.SourceMessageID), zap.Error(err))
		return OutcomeDone, nil
	}
	if !intent.IsCoverageRequest || intent.Confidence < r.cfg.ConfidenceFloor {
		r.logger.Debug("not a coverage request",
			zap.String("message_id", entry.SourceMessageID),
			zap.Int("confidence", intent.Confidence))
		return OutcomeDone, nil
	}

	schedule := r.scheduleSnapshot(ctx, intent.ResolvedDays)
	if _, err := r.engine.Start(ctx, entry, squadID, intent.ResolvedDays, schedule); err != nil {
		return OutcomeDone, err
	}
	return OutcomeStarted, nil
}

// scheduleSnapshot fetches the schedule for the first referenced day.
// Best effort: a failed lookup degrades to no snapshot.
func (r *Router) scheduleSnapshot(ctx context.Context, resolvedDays []string) string {
	if len(resolvedDays) == 0 || r.schedule == nil {
		return ""
	}
	date := strings.ReplaceAll(resolvedDays[0], "-", "") // YYYY-MM-DD -> YYYYMMDD
	snapshot, err := r.schedule.ScheduleDay(ctx, date)
	if err != nil {
		r.logger.Warn("schedule lookup failed, continuing without snapshot",
			zap.String("date", date), zap.Error(err))
		return "schedule unavailable"
	}
	return snapshot
}
