package poller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cursor persists the newest transport message ID seen by a completed
// ingest batch. It advances at most once per cycle, after the whole
// batch is durably queued, so a crash mid-batch re-fetches rather than
// drops; the unique source ID constraint absorbs the replays.
type Cursor struct {
	path string
}

// NewCursor creates a cursor backed by the given file.
func NewCursor(path string) *Cursor {
	return &Cursor{path: path}
}

// Load returns the saved cursor, or "" when none exists yet.
func (c *Cursor) Load() (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cursor file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save records the cursor.
func (c *Cursor) Save(id string) error {
	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cursor directory: %w", err)
		}
	}
	if err := os.WriteFile(c.path, []byte(id), 0644); err != nil {
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	return nil
}

// Reset removes the cursor file so the next cycle re-fetches the full
// window.
func (c *Cursor) Reset() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cursor file: %w", err)
	}
	return nil
}

// idAfter reports whether message ID a comes after b. GroupMe IDs are
// decimal strings that grow over time; comparing by length first keeps
// the ordering numeric without overflowing an int parse.
func idAfter(a, b string) bool {
	if b == "" {
		return true
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
