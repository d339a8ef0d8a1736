// Package roster maps chat display names to squad members. Lookup is by
// GroupMe name, case-insensitive. The run loop can watch the roster file
// and hot-reload it on change.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Member is one squad member.
type Member struct {
	Name        string `json:"name"`
	Title       string `json:"title"` // Chief or Member
	Squad       int    `json:"squad"`
	GroupMeName string `json:"groupme_name"`
}

// SquadID returns the member's squad as the string form used for
// workflow scoping.
func (m Member) SquadID() string {
	return strconv.Itoa(m.Squad)
}

type rosterFile struct {
	Members []Member `json:"members"`
}

// Roster is a reloadable roster snapshot.
type Roster struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	byName map[string]Member
}

// Load reads the roster file. A missing or malformed file is an error:
// without a roster every sender is unauthorized and squadbot is useless.
func Load(path string, logger *zap.Logger) (*Roster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Roster{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster file. On error the previous snapshot is kept.
func (r *Roster) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	var f rosterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse roster: %w", err)
	}
	byName := make(map[string]Member, len(f.Members))
	for _, m := range f.Members {
		byName[strings.ToLower(m.GroupMeName)] = m
	}

	r.mu.Lock()
	r.byName = byName
	r.mu.Unlock()
	r.logger.Debug("roster loaded", zap.Int("members", len(byName)))
	return nil
}

// Lookup finds a member by GroupMe display name, case-insensitively.
func (r *Roster) Lookup(groupMeName string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[strings.ToLower(groupMeName)]
	return m, ok
}

// Watch reloads the roster whenever the file is rewritten. Blocks until
// the context is cancelled. Reload failures keep the previous snapshot.
func (r *Roster) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("failed to watch roster file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("roster reload failed, keeping previous roster", zap.Error(err))
			} else {
				r.logger.Info("roster reloaded", zap.String("path", r.path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("roster watcher error", zap.Error(err))
		}
	}
}
