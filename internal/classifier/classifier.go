package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"squadbot/internal/types"
)

// IntentResult is the intent-detection output.
type IntentResult struct {
	IsCoverageRequest bool     `json:"is_shift_coverage_message"`
	ResolvedDays      []string `json:"resolved_days"` // YYYY-MM-DD
	Confidence        int      `json:"confidence"`
}

// RelatedResult is the relatedness-classification output.
type RelatedResult struct {
	Related    bool   `json:"is_related"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// ExtractResult is the parameter-extraction output.
type ExtractResult struct {
	Requests   []types.CoverageRequest `json:"parsed_requests"`
	Missing    []string                `json:"missing_parameters"`
	Warnings   []string                `json:"warnings"`
	Reasoning  string                  `json:"reasoning"`
	Confidence int                     `json:"confidence"`
}

// HistoryLine is one conversation turn fed to the relatedness prompt.
type HistoryLine struct {
	Sender string
	Text   string
}

// Classifier issues the three prompt kinds against an LLMClient. Every
// call gets one internal retry; a second failure surfaces a typed error
// and the caller takes its conservative branch.
type Classifier struct {
	llm    LLMClient
	logger *zap.Logger
	now    func() time.Time
}

// New creates a classifier.
func New(llm LLMClient, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: llm, logger: logger.Named("llm"), now: time.Now}
}

// SetClock overrides the time source for tests.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// DetectIntent classifies whether a message is a coverage request and
// resolves relative day references against the message timestamp.
func (c *Classifier) DetectIntent(ctx context.Context, text string, sentAt time.Time) (*IntentResult, error) {
	now := c.now()
	prompt := fmt.Sprintf(intentPromptTemplate,
		now.Format("Monday, January 2, 2006"),
		weekdayReference(now),
		sentAt.Format("2006-01-02 15:04"),
		text)

	var result IntentResult
	if err := c.classify(ctx, "intent", "", prompt, &result); err != nil {
		return nil, err
	}
	c.logger.Info("intent detected",
		zap.Bool("is_request", result.IsCoverageRequest),
		zap.Int("confidence", result.Confidence),
		zap.Strings("days", result.ResolvedDays))
	return &result, nil
}

// CheckRelated classifies whether a message continues an open workflow,
// given the workflow's original message and conversation history.
func (c *Classifier) CheckRelated(ctx context.Context, senderName, text, originalMessage string, history []HistoryLine) (*RelatedResult, error) {
	prompt := fmt.Sprintf(relatedPromptTemplate,
		originalMessage, formatHistory(history), senderName, text)

	var result RelatedResult
	if err := c.classify(ctx, "relatedness", "", prompt, &result); err != nil {
		return nil, err
	}
	c.logger.Info("relatedness checked",
		zap.Bool("related", result.Related),
		zap.Int("confidence", result.Confidence),
		zap.String("reasoning", result.Reasoning))
	return &result, nil
}

// Extract pulls coverage-request parameters from the message, given
// workflow context (sender, resolved days, schedule snapshot, prior
// clarification answers).
func (c *Classifier) Extract(ctx context.Context, contextBlock, message string) (*ExtractResult, error) {
	user := message
	if contextBlock != "" {
		user = contextBlock + "\n\nMessage:\n" + message
	}

	var result ExtractResult
	if err := c.classify(ctx, "extraction", extractSystemPrompt, user, &result); err != nil {
		return nil, err
	}
	c.logger.Info("parameters extracted",
		zap.Int("requests", len(result.Requests)),
		zap.Strings("missing", result.Missing),
		zap.Int("confidence", result.Confidence))
	return &result, nil
}

// classify runs one prompt with one retry and decodes the JSON object
// found in the response.
func (c *Classifier) classify(ctx context.Context, kind, system, user string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying classifier call",
				zap.String("kind", kind), zap.Error(lastErr))
		}

		var raw string
		var err error
		if system != "" {
			raw, err = c.llm.CompleteWithSystem(ctx, system, user)
		} else {
			raw, err = c.llm.Complete(ctx, user)
		}
		if err != nil {
			if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnparseable) {
				lastErr = err
			} else {
				lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			continue
		}

		jsonStr, ok := extractJSON(raw)
		if !ok {
			lastErr = fmt.Errorf("%w: no JSON object in %s response", ErrUnparseable, kind)
			continue
		}
		if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnparseable, err)
			continue
		}
		return nil
	}
	return lastErr
}

// extractJSON locates the JSON object in an LLM response by scanning
// from the first '{' to the last '}'. Models wrap JSON in prose and
// code fences; this recovers the object without caring about either.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
