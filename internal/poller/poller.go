// Package poller runs the ingest cycle: acquire the single-instance
// lease, fetch new group messages, queue them durably, then drain the
// queue strictly in source order through the router. Designed to be
// invoked repeatedly; every cycle is safe to re-run.
package poller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"squadbot/internal/lock"
	"squadbot/internal/router"
	"squadbot/internal/types"
)

// impersonationPattern rewrites test messages of the form
// "{{@Name}} text" or "{{Name}} text" to appear sent by Name.
var impersonationPattern = regexp.MustCompile(`^\{\{@?([^}]+)\}\}\s*`)

// Store is the persistence surface the poller drives.
type Store interface {
	EnqueueMessage(m types.Message) (bool, error)
	PendingEntries(maxRetry int) ([]types.QueueEntry, error)
	MarkProcessing(sourceMessageID string) error
	MarkDone(sourceMessageID string) error
	MarkSkipped(sourceMessageID string) error
	MarkFailed(sourceMessageID, lastError string) (int, error)
	ExpireQueueEntries(olderThan time.Duration) (int64, error)
	ExpireWorkflows() (int64, error)
	ActiveWorkflows() ([]types.Workflow, error)
	SaveConversationMessage(m types.ConversationMessage) error
}

// Fetcher pulls recent messages from the chat transport.
type Fetcher interface {
	FetchMessages(ctx context.Context, limit int) ([]types.Message, error)
}

// MessageRouter decides what happens to each drained entry.
type MessageRouter interface {
	Route(ctx context.Context, entry types.QueueEntry) (router.Outcome, error)
}

// Notifier delivers admin escalations.
type Notifier interface {
	Notify(ctx context.Context, event types.EventType, fields map[string]string)
}

// Config holds the poller's tunables.
type Config struct {
	FetchLimit         int
	MaxRetryAttempts   int
	MessageExpiry      time.Duration
	BotUserID          string
	BotName            string
	AllowImpersonation bool
}

// Result summarizes one poll cycle.
type Result struct {
	Yielded          bool // another instance held the lease
	Fetched          int
	Queued           int
	Processed        int
	Done             int
	Skipped          int
	Failed           int
	Expired          int64
	WorkflowsExpired int64
}

// Poller owns one ingest-and-drain cycle.
type Poller struct {
	store    Store
	fetcher  Fetcher
	router   MessageRouter
	notifier Notifier
	locks    *lock.Manager
	cursor   *Cursor
	cfg      Config
	logger   *zap.Logger
}

// New wires a poller. The lock manager's stale-takeover callback is
// claimed here to emit the poller_timeout escalation.
func New(store Store, fetcher Fetcher, r MessageRouter, notifier Notifier, locks *lock.Manager, cursor *Cursor, cfg Config, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		store:    store,
		fetcher:  fetcher,
		router:   r,
		notifier: notifier,
		locks:    locks,
		cursor:   cursor,
		cfg:      cfg,
		logger:   logger,
	}
	locks.OnStale = func(info lock.StaleInfo) {
		p.notifier.Notify(context.Background(), types.EventPollerTimeout, map[string]string{
			"instance_id": info.HolderID,
			"age":         info.Age.Round(time.Second).String(),
		})
	}
	return p
}

// Poll runs one full cycle. A held lease yields without error; every
// other failure aborts the cycle and surfaces.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	var res Result

	lease, err := p.locks.Acquire()
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			p.logger.Info("lease held by another instance, yielding")
			res.Yielded = true
			return res, nil
		}
		return res, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			p.logger.Error("failed to release lease", zap.Error(err))
		}
	}()

	if n, err := p.store.ExpireWorkflows(); err != nil {
		p.logger.Error("workflow expiry sweep failed", zap.Error(err))
	} else {
		res.WorkflowsExpired = n
	}

	// workflows survive process restarts; say which ones are still open
	if active, err := p.store.ActiveWorkflows(); err != nil {
		p.logger.Error("active workflow scan failed", zap.Error(err))
	} else if len(active) > 0 {
		ids := make([]string, 0, len(active))
		for _, wf := range active {
			ids = append(ids, wf.ID)
		}
		p.logger.Info("active workflows carried over",
			zap.Int("count", len(active)), zap.Strings("ids", ids))
	}

	if err := p.ingest(ctx, &res); err != nil {
		return res, err
	}

	// the drain can run long; refresh the lease before starting it
	if err := lease.Heartbeat(); err != nil {
		p.logger.Warn("failed to refresh lease", zap.Error(err))
	}

	if n, err := p.store.ExpireQueueEntries(p.cfg.MessageExpiry); err != nil {
		p.logger.Error("queue expiry sweep failed", zap.Error(err))
	} else {
		res.Expired = n
	}

	if err := p.drain(ctx, &res); err != nil {
		return res, err
	}

	p.logger.Info("poll cycle complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("queued", res.Queued),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int64("expired", res.Expired))
	return res, nil
}

// ingest fetches the recent window, filters it down to new human
// messages, queues them, and advances the cursor exactly once after the
// whole batch is durable.
func (p *Poller) ingest(ctx context.Context, res *Result) error {
	msgs, err := p.fetcher.FetchMessages(ctx, p.cfg.FetchLimit)
	if err != nil {
		return fmt.Errorf("message fetch failed: %w", err)
	}
	res.Fetched = len(msgs)
	if len(msgs) == 0 {
		return nil
	}

	lastSeen, err := p.cursor.Load()
	if err != nil {
		return err
	}

	// transport returns newest-first; restore chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	newest := lastSeen
	for _, m := range msgs {
		if !idAfter(m.ID, lastSeen) {
			continue
		}
		if idAfter(m.ID, newest) {
			newest = m.ID
		}
		if p.skippable(m) {
			continue
		}
		m = p.applyImpersonation(m)
		inserted, err := p.store.EnqueueMessage(m)
		if err != nil {
			// cursor stays put so the batch replays next cycle
			return fmt.Errorf("enqueue failed for %s: %w", m.ID, err)
		}
		if inserted {
			res.Queued++
		}
	}

	if newest != lastSeen {
		if err := p.cursor.Save(newest); err != nil {
			return err
		}
	}
	return nil
}

// skippable filters out messages that never enter the queue: system
// notices and anything the bot itself produced.
func (p *Poller) skippable(m types.Message) bool {
	if m.System || m.SenderType == "bot" {
		return true
	}
	if p.cfg.BotUserID != "" && m.SenderID == p.cfg.BotUserID {
		return true
	}
	if p.cfg.BotName != "" && strings.EqualFold(m.SenderName, p.cfg.BotName) {
		return true
	}
	return false
}

// applyImpersonation rewrites "{{@Name}} text" messages so they route
// as Name. Off in production.
func (p *Poller) applyImpersonation(m types.Message) types.Message {
	if !p.cfg.AllowImpersonation {
		return m
	}
	match := impersonationPattern.FindStringSubmatch(m.Text)
	if match == nil {
		return m
	}
	p.logger.Warn("impersonation directive applied",
		zap.String("message_id", m.ID),
		zap.String("as", match[1]))
	m.SenderName = strings.TrimSpace(match[1])
	m.Text = m.Text[len(match[0]):]
	return m
}

// drain processes every pending entry strictly in source order. One
// entry's failure marks it FAILED and moves on; the cycle never
// reorders around a stuck message twice in the same pass.
func (p *Poller) drain(ctx context.Context, res *Result) error {
	entries, err := p.store.PendingEntries(p.cfg.MaxRetryAttempts)
	if err != nil {
		return fmt.Errorf("failed to load pending entries: %w", err)
	}

	for _, entry := range entries {
		if err := p.store.MarkProcessing(entry.SourceMessageID); err != nil {
			return err
		}
		res.Processed++

		if err := p.store.SaveConversationMessage(types.ConversationMessage{
			MessageID:  entry.SourceMessageID,
			GroupID:    entry.GroupID,
			SenderID:   entry.SenderID,
			SenderName: entry.SenderName,
			Text:       entry.Text,
			Timestamp:  entry.SourceTimestamp,
		}); err != nil {
			return err
		}

		outcome, err := p.router.Route(ctx, entry)
		if err != nil {
			p.recordFailure(ctx, entry, err)
			res.Failed++
			continue
		}

		switch outcome {
		case router.OutcomeSkipped:
			if err := p.store.MarkSkipped(entry.SourceMessageID); err != nil {
				return err
			}
			res.Skipped++
		default:
			if err := p.store.MarkDone(entry.SourceMessageID); err != nil {
				return err
			}
			res.Done++
		}
	}
	return nil
}

// recordFailure marks the entry FAILED and escalates exactly once when
// the retry ceiling is reached.
func (p *Poller) recordFailure(ctx context.Context, entry types.QueueEntry, cause error) {
	p.logger.Error("message processing failed",
		zap.String("message_id", entry.SourceMessageID),
		zap.Error(cause))

	count, err := p.store.MarkFailed(entry.SourceMessageID, cause.Error())
	if err != nil {
		p.logger.Error("failed to record message failure",
			zap.String("message_id", entry.SourceMessageID), zap.Error(err))
		return
	}
	if count == p.cfg.MaxRetryAttempts {
		p.notifier.Notify(ctx, types.EventMessageRetryExceeded, map[string]string{
			"message_id":    entry.SourceMessageID,
			"retry_count":   strconv.Itoa(count),
			"error_message": cause.Error(),
		})
	}
}
