// Package workflow implements the shift-coverage workflow engine: a
// four-node state machine (extract, clarify, validate, execute) invoked
// once per routed message and always terminating in one pass.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"squadbot/internal/types"
)

// Step is the closed set of engine nodes. The persisted step records
// which node a pass last ended on; there is no free-form dispatch.
type Step string

const (
	StepExtract          Step = "extract"
	StepClarify          Step = "clarify"
	StepValidate         Step = "validate"
	StepExecute          Step = "execute"
	StepCompleteNoAction Step = "complete_no_action"
)

// Answer records one clarification exchange: the parameter asked about
// and the reply that came back.
type Answer struct {
	Param string `json:"param"`
	Reply string `json:"reply"`
}

// StepState is the engine-owned workflow state, serialized into the
// workflow row. The router never inspects it.
type StepState struct {
	Step            Step   `json:"step"`
	OriginalMessage string `json:"original_message"`
	SenderName      string `json:"sender_name"`
	SenderSquad     string `json:"sender_squad"`

	ResolvedDays    []string `json:"resolved_days,omitempty"`    // YYYY-MM-DD
	ScheduleContext string   `json:"schedule_context,omitempty"` // snapshot at start

	ParsedRequests []types.CoverageRequest `json:"parsed_requests,omitempty"`
	Missing        []string                `json:"missing_parameters,omitempty"`
	Warnings       []string                `json:"warnings,omitempty"`
	Reasoning      string                  `json:"reasoning,omitempty"`

	ValidationPassed bool `json:"validation_passed"`

	Question   string   `json:"clarification_question,omitempty"`
	AskedParam string   `json:"asked_param,omitempty"`
	Answers    []Answer `json:"answers,omitempty"`

	InteractionCount int  `json:"interaction_count"`
	Escalated        bool `json:"escalated"`

	ExecutionSummary string `json:"execution_summary,omitempty"`
}

// ParseState deserializes a workflow's persisted step state.
func ParseState(raw string) (*StepState, error) {
	if raw == "" || raw == "{}" {
		return &StepState{}, nil
	}
	var st StepState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to parse step state: %w", err)
	}
	return &st, nil
}

// Marshal serializes the state for persistence.
func (st *StepState) Marshal() (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to marshal step state: %w", err)
	}
	return string(data), nil
}

// ContextBlock renders the state as the context preamble for the
// extraction prompt: sender identity, referenced dates, the schedule
// snapshot, the original request, and every clarification answer so far.
func (st *StepState) ContextBlock() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender: %s (Squad %s)", st.SenderName, st.SenderSquad)
	if len(st.ResolvedDays) > 0 {
		fmt.Fprintf(&b, "\nDates referenced: %s", strings.Join(st.ResolvedDays, ", "))
	}
	if st.ScheduleContext != "" {
		fmt.Fprintf(&b, "\nCurrent schedule:\n%s", st.ScheduleContext)
	}
	if len(st.Answers) > 0 {
		fmt.Fprintf(&b, "\nOriginal request:\n%s", st.OriginalMessage)
		for _, a := range st.Answers {
			fmt.Fprintf(&b, "\nThe %s is %q.", a.Param, a.Reply)
		}
	}
	return b.String()
}
