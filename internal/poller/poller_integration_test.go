package poller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadbot/internal/classifier"
	"squadbot/internal/lock"
	"squadbot/internal/roster"
	"squadbot/internal/router"
	"squadbot/internal/store"
	"squadbot/internal/types"
	"squadbot/internal/workflow"
)

// scriptedClassifier answers intent, relatedness, and extraction from
// the message text, so a whole drain can run over real storage without
// an LLM.
type scriptedClassifier struct {
	relatedCalls int
}

func (c *scriptedClassifier) DetectIntent(ctx context.Context, text string, sentAt time.Time) (*classifier.IntentResult, error) {
	return &classifier.IntentResult{IsCoverageRequest: true, Confidence: 90}, nil
}

func (c *scriptedClassifier) CheckRelated(ctx context.Context, senderName, text, originalMessage string, history []classifier.HistoryLine) (*classifier.RelatedResult, error) {
	c.relatedCalls++
	return &classifier.RelatedResult{Related: text == "Saturday", Confidence: 90}, nil
}

func (c *scriptedClassifier) Extract(ctx context.Context, contextBlock, message string) (*classifier.ExtractResult, error) {
	switch {
	case message == "Saturday":
		// the clarification answer completes squad 42's request
		return &classifier.ExtractResult{
			Requests: []types.CoverageRequest{
				{Squad: "42", Date: "20260905", ShiftStart: "1800", ShiftEnd: "0600", Action: "noCrew"},
			},
			Confidence: 95,
		}, nil
	case strings.Contains(message, "42"):
		return &classifier.ExtractResult{
			Requests: []types.CoverageRequest{
				{Squad: "42", ShiftStart: "1800", ShiftEnd: "0600", Action: "noCrew"},
			},
			Missing: []string{"date"},
		}, nil
	case strings.Contains(message, "35"):
		return &classifier.ExtractResult{
			Requests: []types.CoverageRequest{
				{Squad: "35", Date: "20260906", Action: "noCrew"},
			},
			Missing: []string{"shift_start"},
		}, nil
	default:
		return &classifier.ExtractResult{
			Requests: []types.CoverageRequest{
				{Squad: "43", ShiftStart: "1800", ShiftEnd: "0600", Action: "noCrew"},
			},
			Missing: []string{"date"},
		}, nil
	}
}

type scriptedExecutor struct {
	commands []types.CalendarCommand
}

func (e *scriptedExecutor) ExecuteWithRetry(ctx context.Context, cmd types.CalendarCommand, attempts int) error {
	e.commands = append(e.commands, cmd)
	return nil
}

type recordingPoster struct {
	posts []string
}

func (p *recordingPoster) Post(ctx context.Context, text string) error {
	p.posts = append(p.posts, text)
	return nil
}

// TestDrainKeepsOneWorkflowPerSquad runs a full cycle over real SQLite:
// two same-squad messages must share one workflow row, while messages
// from other squads each get their own.
func TestDrainKeepsOneWorkflowPerSquad(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rosterPath := filepath.Join(dir, "roster.json")
	rosterJSON := `{"members": [
		{"name": "Alice Smith", "title": "Chief", "squad": 42, "groupme_name": "Alice"},
		{"name": "Bob Jones", "title": "Member", "squad": 35, "groupme_name": "Bob"},
		{"name": "Carol White", "title": "Member", "squad": 43, "groupme_name": "Carol"}
	]}`
	require.NoError(t, os.WriteFile(rosterPath, []byte(rosterJSON), 0644))
	members, err := roster.Load(rosterPath, nil)
	require.NoError(t, err)

	cls := &scriptedClassifier{}
	exec := &scriptedExecutor{}
	posts := &recordingPoster{}
	notifier := &fakeNotifier{}

	engine := workflow.NewEngine(st, cls, exec, posts, notifier, workflow.Config{
		InteractionLimit: 2,
		AllowedSquads:    []string{"35", "42", "43"},
		RetryAttempts:    1,
		Expiration:       24 * time.Hour,
		BotName:          "station95bot",
	}, nil)

	rtr := router.New(st, members, cls, engine, nil, posts, router.Config{
		ConfidenceFloor: 50,
	}, nil)

	locks := lock.New(filepath.Join(dir, "poller.lock"), 10*time.Minute, nil)
	cursor := NewCursor(filepath.Join(dir, "cursor.txt"))

	msg := func(id, sender, text string, ts int64) types.Message {
		return types.Message{
			ID: id, GroupID: "g1", SenderID: "u-" + sender,
			SenderName: sender, SenderType: "user", Text: text, CreatedAt: ts,
		}
	}
	fetcher := &fakeFetcher{msgs: []types.Message{ // transport order: newest first
		msg("104", "Carol", "Squad 43 out Monday", 104),
		msg("103", "Bob", "Squad 35 can't cover tonight", 103),
		msg("102", "Alice", "Saturday", 102),
		msg("101", "Alice", "Squad 42 can't cover tonight", 101),
	}}

	p := New(st, fetcher, rtr, notifier, locks, cursor, Config{
		FetchLimit:       100,
		MaxRetryAttempts: 3,
		MessageExpiry:    time.Hour,
		BotName:          "station95bot",
	}, nil)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Queued)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Done)
	assert.Zero(t, res.Failed)

	// one row per squad: Alice's reply folded into her squad's workflow
	counts, err := st.WorkflowCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.WorkflowCompleted], "squad 42's two messages share one workflow")
	assert.Equal(t, 2, counts[types.WorkflowWaitingForInput])

	active42, err := st.ActiveWorkflowsForSquad("42")
	require.NoError(t, err)
	assert.Empty(t, active42, "squad 42's workflow finished")

	for _, squad := range []string{"35", "43"} {
		active, err := st.ActiveWorkflowsForSquad(squad)
		require.NoError(t, err)
		require.Len(t, active, 1, "squad %s gets its own workflow", squad)
		assert.Equal(t, types.WorkflowWaitingForInput, active[0].Status)
	}

	// squad 42's completed request reached the executor
	require.Len(t, exec.commands, 1)
	assert.Equal(t, "42", exec.commands[0].Squad)
	assert.Equal(t, "20260905", exec.commands[0].Date)

	// Alice's reply and Carol's cross-squad message both consulted the
	// group's open conversation before going their own ways
	assert.Equal(t, 2, cls.relatedCalls)
}
