// Package classifier is the LLM boundary: intent detection, relatedness
// classification, and parameter extraction, each returning structured
// JSON with a confidence score. The LLM itself sits behind the narrow
// LLMClient interface so tests inject fakes.
package classifier

import (
	"context"
	"errors"
)

// LLMClient defines the minimal interface used to call an LLM.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrUnavailable marks transport-level classifier failures (timeout,
// rate limit, connection refused).
var ErrUnavailable = errors.New("classifier unavailable")

// ErrUnparseable marks responses that came back but contained no valid
// JSON object. Logged distinctly from ErrUnavailable, handled the same.
var ErrUnparseable = errors.New("classifier response unparseable")
