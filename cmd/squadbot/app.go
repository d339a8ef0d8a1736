package main

import (
	"context"
	"fmt"

	"squadbot/internal/calendar"
	"squadbot/internal/classifier"
	"squadbot/internal/config"
	"squadbot/internal/lock"
	"squadbot/internal/notify"
	"squadbot/internal/poller"
	"squadbot/internal/roster"
	"squadbot/internal/router"
	"squadbot/internal/store"
	"squadbot/internal/transport"
	"squadbot/internal/workflow"
)

// app bundles the wired components for one process lifetime.
type app struct {
	cfg    *config.Config
	store  *store.Store
	roster *roster.Roster
	poller *poller.Poller
	cursor *poller.Cursor
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildApp loads config, validates it, and wires every component the
// poll cycle needs.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.GroupMe.EnablePosting = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Poller.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	members, err := roster.Load(cfg.Roster.Path, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}

	groupme := transport.NewClient(transport.Config{
		APIToken:      cfg.GroupMe.APIToken,
		GroupID:       cfg.GroupMe.GroupID,
		BotID:         cfg.GroupMe.BotID,
		BaseURL:       cfg.GroupMe.BaseURL,
		EnablePosting: cfg.GroupMe.EnablePosting,
		Timeout:       cfg.GetGroupMeTimeout(),
	}, logger)

	llm, err := classifier.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	cls := classifier.New(llm, logger)

	cal := calendar.NewClient(cfg.Calendar.BaseURL, cfg.GetCalendarTimeout(), logger)
	notifier := notify.New(groupme, cfg.Admin.UserID, logger)

	engine := workflow.NewEngine(st, cls, cal, groupme, notifier, workflow.Config{
		InteractionLimit: cfg.Workflow.InteractionLimit,
		AllowedSquads:    cfg.Workflow.AllowedSquads,
		RetryAttempts:    cfg.Calendar.RetryAttempts,
		Expiration:       cfg.GetWorkflowExpiration(),
		BotName:          cfg.GroupMe.BotName,
	}, logger)

	rtr := router.New(st, members, cls, engine, cal, groupme, router.Config{
		ConfidenceFloor: cfg.Workflow.ConfidenceFloor,
	}, logger)

	locks := lock.New(cfg.Poller.LockPath, cfg.GetLockStaleAfter(), logger)
	cursor := poller.NewCursor(cfg.Poller.CursorPath)

	p := poller.New(st, groupme, rtr, notifier, locks, cursor, poller.Config{
		FetchLimit:         cfg.GroupMe.FetchLimit,
		MaxRetryAttempts:   cfg.Poller.MaxRetryAttempts,
		MessageExpiry:      cfg.GetMessageExpiry(),
		BotUserID:          cfg.GroupMe.BotUserID,
		BotName:            cfg.GroupMe.BotName,
		AllowImpersonation: cfg.Poller.AllowImpersonation,
	}, logger)

	return &app{
		cfg:    cfg,
		store:  st,
		roster: members,
		poller: p,
		cursor: cursor,
	}, nil
}
