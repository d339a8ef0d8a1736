package classifier

import (
	"fmt"
	"strings"
	"time"
)

const intentPromptTemplate = `You screen messages from a volunteer fire station group chat.
Decide whether the message is about shift coverage for a squad: a squad
being unavailable, needing a crew, adding a shift, or cancelling one.

Today is %s.
Weekday reference for resolving relative day names:
%s

Message (sent %s):
"%s"

Respond with ONLY a JSON object:
{
  "is_shift_coverage_message": true or false,
  "resolved_days": ["YYYY-MM-DD", ...],
  "confidence": 0-100
}
resolved_days lists the concrete dates the message refers to, empty if none.`

const relatedPromptTemplate = `You decide whether a new chat message continues an open conversation.

Open conversation started with:
"%s"

Conversation so far:
%s

New message from %s:
"%s"

Is the new message a reply in this conversation (for example answering a
question that was asked), or is it about something else?

Respond with ONLY a JSON object:
{
  "is_related": true or false,
  "confidence": 0-100,
  "reasoning": "one sentence"
}`

const extractSystemPrompt = `You extract shift-coverage requests from fire station chat messages.

Each request has these parameters:
- squad: one of 34, 35, 42, 43, 54 (string)
- date: YYYYMMDD
- shift_start: HHMM 24-hour
- shift_end: HHMM 24-hour
- action: one of "noCrew" (squad unavailable), "addShift", "obliterateShift"

A standard night shift runs 1800 to 0600. If the message clearly implies
a full night shift, fill the times. List a parameter in
"missing_parameters" when the message does not determine it.

Respond with ONLY a JSON object:
{
  "parsed_requests": [{"squad": "...", "date": "...", "shift_start": "...", "shift_end": "...", "action": "..."}],
  "missing_parameters": ["squad" | "date" | "shift_start" | "shift_end" | "action", ...],
  "warnings": ["..."],
  "reasoning": "...",
  "confidence": 0-100
}
Return an empty parsed_requests array when no scheduling action is needed.`

// weekdayReference renders the next seven days so the model can resolve
// "Saturday" or "tomorrow" to concrete dates.
func weekdayReference(from time.Time) string {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		d := from.AddDate(0, 0, i)
		fmt.Fprintf(&b, "- %s is %s\n", d.Weekday(), d.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(lines []HistoryLine) string {
	if len(lines) == 0 {
		return "(no messages yet)"
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.Sender, l.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
