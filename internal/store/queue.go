package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"squadbot/internal/types"
)

// EnqueueMessage inserts an inbound message at PENDING. Re-ingesting an
// already-seen source message ID is a no-op; the bool reports whether a
// new row was inserted.
func (s *Store) EnqueueMessage(m types.Message) (bool, error) {
	now := s.now().Unix()
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO message_queue
			(id, source_message_id, group_id, sender_id, sender_name,
			 message_text, source_timestamp, status, retry_count,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		uuid.NewString(), m.ID, m.GroupID, m.SenderID, m.SenderName,
		m.Text, m.CreatedAt, string(types.QueuePending), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue message %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// PendingEntries returns every drainable entry: status PENDING or FAILED
// with retry_count below the ceiling, ordered by source timestamp
// ascending. FAILED entries at or over the ceiling are terminal and never
// selected again.
func (s *Store) PendingEntries(maxRetry int) ([]types.QueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, source_message_id, group_id, sender_id, sender_name,
		       message_text, source_timestamp, status, retry_count,
		       last_error, created_at, updated_at, processed_at
		FROM message_queue
		WHERE (status = ? OR (status = ? AND retry_count < ?))
		ORDER BY source_timestamp ASC`,
		string(types.QueuePending), string(types.QueueFailed), maxRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

// MarkProcessing transitions an entry to PROCESSING for the duration of
// one routing pass.
func (s *Store) MarkProcessing(sourceMessageID string) error {
	return s.setQueueStatus(sourceMessageID, types.QueueProcessing, false)
}

// MarkDone transitions an entry to terminal DONE and stamps processed_at.
func (s *Store) MarkDone(sourceMessageID string) error {
	return s.setQueueStatus(sourceMessageID, types.QueueDone, true)
}

// MarkSkipped transitions an entry to terminal SKIPPED (audit-preserving
// soft delete for bot/system/unauthorized messages).
func (s *Store) MarkSkipped(sourceMessageID string) error {
	return s.setQueueStatus(sourceMessageID, types.QueueSkipped, true)
}

func (s *Store) setQueueStatus(sourceMessageID string, status types.QueueStatus, processed bool) error {
	now := s.now().Unix()
	var res sql.Result
	var err error
	if processed {
		res, err = s.db.Exec(`
			UPDATE message_queue SET status = ?, updated_at = ?, processed_at = ?
			WHERE source_message_id = ?`,
			string(status), now, now, sourceMessageID)
	} else {
		res, err = s.db.Exec(`
			UPDATE message_queue SET status = ?, updated_at = ?
			WHERE source_message_id = ?`,
			string(status), now, sourceMessageID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s %s: %w", sourceMessageID, status, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no queue entry with source message id %s", sourceMessageID)
	}
	return nil
}

// MarkFailed records a processing failure, increments the retry count and
// returns the new count so the caller can detect the ceiling crossing.
func (s *Store) MarkFailed(sourceMessageID, lastError string) (int, error) {
	now := s.now().Unix()
	_, err := s.db.Exec(`
		UPDATE message_queue
		SET status = ?, retry_count = retry_count + 1, last_error = ?, updated_at = ?
		WHERE source_message_id = ?`,
		string(types.QueueFailed), lastError, now, sourceMessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s failed: %w", sourceMessageID, err)
	}
	var count int
	err = s.db.QueryRow(`
		SELECT retry_count FROM message_queue WHERE source_message_id = ?`,
		sourceMessageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count for %s: %w", sourceMessageID, err)
	}
	return count, nil
}

// ExpireQueueEntries marks every non-terminal entry older than the given
// age as EXPIRED and returns how many rows were swept. Age is measured
// from when the row was queued, not from the transport timestamp.
func (s *Store) ExpireQueueEntries(olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	res, err := s.db.Exec(`
		UPDATE message_queue SET status = ?, updated_at = ?
		WHERE created_at < ? AND status IN (?, ?, ?, ?)`,
		string(types.QueueExpired), s.now().Unix(), cutoff,
		string(types.QueueReceived), string(types.QueuePending),
		string(types.QueueProcessing), string(types.QueueFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to expire queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale queue entries", zap.Int64("count", n))
	}
	return n, nil
}

// EntryBySourceID fetches a single queue entry by its transport message ID.
func (s *Store) EntryBySourceID(sourceMessageID string) (*types.QueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, source_message_id, group_id, sender_id, sender_name,
		       message_text, source_timestamp, status, retry_count,
		       last_error, created_at, updated_at, processed_at
		FROM message_queue WHERE source_message_id = ?`, sourceMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %s: %w", sourceMessageID, err)
	}
	defer rows.Close()
	entries, err := scanQueueEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return &entries[0], nil
}

// QueueCounts returns the number of entries per status.
func (s *Store) QueueCounts() (map[types.QueueStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM message_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.QueueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanQueueEntries(rows *sql.Rows) ([]types.QueueEntry, error) {
	var entries []types.QueueEntry
	for rows.Next() {
		var e types.QueueEntry
		var status string
		var createdAt, updatedAt int64
		var processedAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.SourceMessageID, &e.GroupID, &e.SenderID,
			&e.SenderName, &e.Text, &e.SourceTimestamp, &status, &e.RetryCount,
			&e.LastError, &createdAt, &updatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Status = types.QueueStatus(status)
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)
		if processedAt.Valid {
			e.ProcessedAt = time.Unix(processedAt.Int64, 0)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
