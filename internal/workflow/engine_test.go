package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadbot/internal/classifier"
	"squadbot/internal/types"
)

type fakeStore struct {
	workflows map[string]*types.Workflow
	links     map[string]string // messageID -> workflowID
	replies   []types.ConversationMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: make(map[string]*types.Workflow),
		links:     make(map[string]string),
	}
}

func (f *fakeStore) CreateWorkflow(wf *types.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	cp := *wf
	f.workflows[wf.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateWorkflowWithLink(id string, status types.WorkflowStatus, stepState, messageID string) error {
	wf, ok := f.workflows[id]
	if !ok {
		return errors.New("no such workflow")
	}
	wf.Status = status
	wf.StepState = stepState
	if messageID != "" {
		f.links[messageID] = id
	}
	return nil
}

func (f *fakeStore) SaveConversationMessage(m types.ConversationMessage) error {
	f.replies = append(f.replies, m)
	return nil
}

type fakeExtractor struct {
	results []*classifier.ExtractResult
	errs    []error
	calls   int
}

func (f *fakeExtractor) Extract(ctx context.Context, contextBlock, message string) (*classifier.ExtractResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return &classifier.ExtractResult{}, nil
}

type fakeExecutor struct {
	commands []types.CalendarCommand
	err      error
}

func (f *fakeExecutor) ExecuteWithRetry(ctx context.Context, cmd types.CalendarCommand, attempts int) error {
	f.commands = append(f.commands, cmd)
	return f.err
}

type fakePoster struct {
	posts []string
	err   error
}

func (f *fakePoster) Post(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, text)
	return nil
}

type fakeNotifier struct {
	events []types.EventType
	fields []map[string]string
}

func (f *fakeNotifier) Notify(ctx context.Context, event types.EventType, fields map[string]string) {
	f.events = append(f.events, event)
	f.fields = append(f.fields, fields)
}

func testEngineConfig() Config {
	return Config{
		InteractionLimit: 2,
		AllowedSquads:    []string{"34", "35", "42", "43", "54"},
		RetryAttempts:    3,
		Expiration:       24 * time.Hour,
		BotName:          "station95bot",
	}
}

func testEntry(id, text string) types.QueueEntry {
	return types.QueueEntry{
		SourceMessageID: id,
		GroupID:         "g1",
		SenderID:        "u1",
		SenderName:      "Alice",
		Text:            text,
		SourceTimestamp: 100,
	}
}

func fullRequest() types.CoverageRequest {
	return types.CoverageRequest{
		Squad: "42", Date: "20260905", ShiftStart: "1800", ShiftEnd: "0600", Action: "noCrew",
	}
}

func TestStartCompletesInOnePass(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{fullRequest()}, Confidence: 95},
	}}
	executor := &fakeExecutor{}
	poster := &fakePoster{}
	notifier := &fakeNotifier{}
	e := NewEngine(store, extractor, executor, poster, notifier, testEngineConfig(), nil)

	entry := testEntry("m1", "Squad 42 can't make Saturday night")
	wf, err := e.Start(context.Background(), entry, "42", []string{"2026-09-05"}, "Sat: Squad 42 1800-0600")
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status)
	require.Len(t, executor.commands, 1)
	want := types.CalendarCommand{
		Action: types.ActionNoCrew, Date: "20260905",
		ShiftStart: "1800", ShiftEnd: "0600", Squad: "42",
	}
	if diff := cmp.Diff(want, executor.commands[0]); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "Recorded 1 schedule update")
	assert.Empty(t, notifier.events, "no escalation on a clean pass")
	assert.Equal(t, wf.ID, store.links["m1"])
}

func TestClarifyAsksHighestPriorityParam(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{
			Requests: []types.CoverageRequest{{Date: "20260905"}},
			Missing:  []string{"shift_end", "squad", "shift_start"},
		},
	}}
	e := NewEngine(store, extractor, &fakeExecutor{}, &fakePoster{}, &fakeNotifier{}, testEngineConfig(), nil)

	wf, err := e.Start(context.Background(), testEntry("m1", "can't make it Saturday"), "42", nil, "")
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowWaitingForInput, wf.Status)
	st, err := ParseState(wf.StepState)
	require.NoError(t, err)
	assert.Equal(t, "squad", st.AskedParam, "squad outranks shift times")
	assert.Equal(t, 1, st.InteractionCount)
	assert.False(t, st.Escalated)
}

func TestEscalationFiresExactlyOnceAndKeepsWorkflowOpen(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{{}}, Missing: []string{"squad"}},
		{Requests: []types.CoverageRequest{{Squad: "42"}}, Missing: []string{"shift_start"}},
		{Requests: []types.CoverageRequest{{Squad: "42"}}, Missing: []string{"shift_end"}},
	}}
	notifier := &fakeNotifier{}
	poster := &fakePoster{}
	e := NewEngine(store, extractor, &fakeExecutor{}, poster, notifier, testEngineConfig(), nil)

	entry := testEntry("m1", "Can't make it Saturday")
	wf, err := e.Start(context.Background(), entry, "42", nil, "")
	require.NoError(t, err)
	assert.Empty(t, notifier.events, "first clarification is below the limit")

	// second clarification reaches the limit: exactly one escalation
	stored := store.workflows[wf.ID]
	require.NoError(t, e.Resume(context.Background(), stored, testEntry("m2", "Squad 42")))
	require.Len(t, notifier.events, 1)
	assert.Equal(t, types.EventWorkflowEscalation, notifier.events[0])
	assert.Equal(t, "2", notifier.fields[0]["interaction_count"])
	assert.Equal(t, types.WorkflowWaitingForInput, stored.Status,
		"escalation informs, it does not close the workflow")

	// third clarification must not escalate again
	require.NoError(t, e.Resume(context.Background(), stored, testEntry("m3", "6 PM")))
	assert.Len(t, notifier.events, 1, "escalation fires exactly once")
	assert.Equal(t, types.WorkflowWaitingForInput, stored.Status)
}

func TestResumeRecordsAnswerInContext(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{{}}, Missing: []string{"squad"}},
		{Requests: []types.CoverageRequest{fullRequest()}},
	}}
	e := NewEngine(store, extractor, &fakeExecutor{}, &fakePoster{}, &fakeNotifier{}, testEngineConfig(), nil)

	wf, err := e.Start(context.Background(), testEntry("m1", "Can't make it Saturday"), "42", nil, "")
	require.NoError(t, err)

	stored := store.workflows[wf.ID]
	require.NoError(t, e.Resume(context.Background(), stored, testEntry("m2", "Squad 42")))
	assert.Equal(t, types.WorkflowCompleted, stored.Status)

	st, err := ParseState(stored.StepState)
	require.NoError(t, err)
	require.Len(t, st.Answers, 1)
	assert.Equal(t, Answer{Param: "squad", Reply: "Squad 42"}, st.Answers[0])
	assert.Contains(t, st.ContextBlock(), `The squad is "Squad 42".`)
}

func TestCompleteNoAction(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Reasoning: "The schedule already shows squad 42 off that night."},
	}}
	poster := &fakePoster{}
	executor := &fakeExecutor{}
	e := NewEngine(store, extractor, executor, poster, &fakeNotifier{}, testEngineConfig(), nil)

	wf, err := e.Start(context.Background(), testEntry("m1", "are we on Saturday?"), "42", nil, "")
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status)
	assert.Empty(t, executor.commands)
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "already shows squad 42 off")
}

func TestValidationFailureStallsWorkflow(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{{
			Squad: "99", Date: "20260905", ShiftStart: "1800", ShiftEnd: "0600", Action: "noCrew",
		}}},
	}}
	poster := &fakePoster{}
	executor := &fakeExecutor{}
	e := NewEngine(store, extractor, executor, poster, &fakeNotifier{}, testEngineConfig(), nil)

	wf, err := e.Start(context.Background(), testEntry("m1", "Squad 99 out Saturday"), "42", nil, "")
	require.NoError(t, err)

	// status unchanged: a fresh routed message re-enters Extract later
	assert.Equal(t, types.WorkflowNew, wf.Status)
	assert.Empty(t, executor.commands)
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "Invalid squad number: 99")

	st, err := ParseState(wf.StepState)
	require.NoError(t, err)
	assert.False(t, st.ValidationPassed)
}

func TestDefaultActionIsNoCrew(t *testing.T) {
	store := newFakeStore()
	req := fullRequest()
	req.Action = ""
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{req}},
	}}
	executor := &fakeExecutor{}
	e := NewEngine(store, extractor, executor, &fakePoster{}, &fakeNotifier{}, testEngineConfig(), nil)

	_, err := e.Start(context.Background(), testEntry("m1", "Squad 42 out Saturday night"), "42", nil, "")
	require.NoError(t, err)
	require.Len(t, executor.commands, 1)
	assert.Equal(t, types.ActionNoCrew, executor.commands[0].Action)
}

func TestExecutionFailureNotifiesAndCompletes(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{fullRequest()}},
	}}
	executor := &fakeExecutor{err: errors.New("calendar service down")}
	notifier := &fakeNotifier{}
	poster := &fakePoster{}
	e := NewEngine(store, extractor, executor, poster, notifier, testEngineConfig(), nil)

	wf, err := e.Start(context.Background(), testEntry("m1", "Squad 42 out Saturday night"), "42", nil, "")
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status,
		"failures are reported, not left EXECUTING")
	require.Len(t, notifier.events, 1)
	assert.Equal(t, types.EventWorkflowExecutionFailed, notifier.events[0])
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "1 failed")
}

func TestExtractionErrorPropagates(t *testing.T) {
	store := newFakeStore()
	extractor := &fakeExtractor{errs: []error{classifier.ErrUnavailable}}
	e := NewEngine(store, extractor, &fakeExecutor{}, &fakePoster{}, &fakeNotifier{}, testEngineConfig(), nil)

	_, err := e.Start(context.Background(), testEntry("m1", "Squad 42 out"), "42", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, classifier.ErrUnavailable))
}

func TestMultipleRequestsAllExecuted(t *testing.T) {
	store := newFakeStore()
	second := fullRequest()
	second.Date = "20260906"
	extractor := &fakeExtractor{results: []*classifier.ExtractResult{
		{Requests: []types.CoverageRequest{fullRequest(), second}},
	}}
	executor := &fakeExecutor{}
	poster := &fakePoster{}
	e := NewEngine(store, extractor, executor, poster, &fakeNotifier{}, testEngineConfig(), nil)

	_, err := e.Start(context.Background(), testEntry("m1", "Squad 42 out Sat and Sun"), "42", nil, "")
	require.NoError(t, err)
	assert.Len(t, executor.commands, 2)
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "Recorded 2 schedule update(s)")
}
