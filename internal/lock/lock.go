// Package lock implements the single-instance poller lease: a JSON file
// holding the current holder's identity and start time. It makes
// overlapping poll invocations safe; it is not a distributed lock.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy is returned when a fresh lease is held by another instance.
// It is a valid outcome, not a failure: the caller yields this cycle.
var ErrBusy = errors.New("another poller holds the lease")

// leaseRecord is the on-disk lease format.
type leaseRecord struct {
	InstanceID string `json:"instance_id"`
	PID        int    `json:"pid"`
	StartedAt  int64  `json:"started_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// StaleInfo describes a reclaimed stale lease.
type StaleInfo struct {
	HolderID string
	Age      time.Duration
}

// Manager acquires and releases the lease file.
type Manager struct {
	path       string
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	// OnStale, if set, is called when a stale lease is taken over, before
	// the new lease is written. Used to emit the poller_timeout escalation.
	OnStale func(info StaleInfo)
}

// New creates a lease manager for the given path.
func New(path string, staleAfter time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		path:       path,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Lease is a held lock. Release it on every exit path.
type Lease struct {
	m          *Manager
	InstanceID string
	StartedAt  time.Time
}

// Acquire takes the lease. A missing or corrupt lease file is claimed
// immediately; a fresh lease returns ErrBusy; a stale lease is reclaimed
// from the crashed holder.
func (m *Manager) Acquire() (*Lease, error) {
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		var rec leaseRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
			m.logger.Warn("corrupt lease file, taking over", zap.Error(jsonErr))
			break
		}
		age := m.now().Sub(time.Unix(rec.StartedAt, 0))
		if age < m.staleAfter {
			return nil, ErrBusy
		}
		m.logger.Warn("stale lease detected, taking over",
			zap.String("holder", rec.InstanceID),
			zap.Duration("age", age))
		if m.OnStale != nil {
			m.OnStale(StaleInfo{HolderID: rec.InstanceID, Age: age})
		}
	case os.IsNotExist(err):
		// no holder
	default:
		return nil, fmt.Errorf("failed to read lease file: %w", err)
	}

	lease := &Lease{
		m:          m,
		InstanceID: uuid.NewString(),
		StartedAt:  m.now(),
	}
	if err := m.write(lease); err != nil {
		return nil, err
	}
	m.logger.Debug("lease acquired", zap.String("instance", lease.InstanceID))
	return lease, nil
}

func (m *Manager) write(l *Lease) error {
	if dir := filepath.Dir(m.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create lease directory: %w", err)
		}
	}
	rec := leaseRecord{
		InstanceID: l.InstanceID,
		PID:        os.Getpid(),
		StartedAt:  l.StartedAt.Unix(),
		UpdatedAt:  m.now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal lease: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lease file: %w", err)
	}
	return nil
}

// Heartbeat refreshes the lease's updated_at timestamp. Staleness is
// judged from started_at, so this is informational only.
func (l *Lease) Heartbeat() error {
	return l.m.write(l)
}

// Release removes the lease file. Safe to call even if a later instance
// already reclaimed the lease: a lease held by someone else is left alone.
func (l *Lease) Release() error {
	data, err := os.ReadFile(l.m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lease file on release: %w", err)
	}
	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err == nil && rec.InstanceID != l.InstanceID {
		l.m.logger.Warn("lease reclaimed by another instance, not removing",
			zap.String("holder", rec.InstanceID))
		return nil
	}
	if err := os.Remove(l.m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lease file: %w", err)
	}
	l.m.logger.Debug("lease released", zap.String("instance", l.InstanceID))
	return nil
}
