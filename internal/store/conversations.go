package store

import (
	"database/sql"
	"fmt"
	"time"

	"squadbot/internal/types"
)

// SaveConversationMessage upserts one conversation-history row. Bot
// replies are stored here too (with synthetic message IDs) so the
// classifier sees both sides of the exchange.
func (s *Store) SaveConversationMessage(m types.ConversationMessage) error {
	var workflowID sql.NullString
	if m.WorkflowID != "" {
		workflowID = sql.NullString{String: m.WorkflowID, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations
			(message_id, group_id, sender_id, sender_name, message_text,
			 timestamp, workflow_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			workflow_id = COALESCE(excluded.workflow_id, conversations.workflow_id)`,
		m.MessageID, m.GroupID, m.SenderID, m.SenderName, m.Text,
		m.Timestamp, workflowID, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save conversation message %s: %w", m.MessageID, err)
	}
	return nil
}

// WorkflowHistory returns the conversation linked to a workflow, ordered
// by source timestamp ascending. This is the context fed back to the
// relatedness classifier.
func (s *Store) WorkflowHistory(workflowID string) ([]types.ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT message_id, group_id, sender_id, sender_name, message_text,
		       timestamp, workflow_id, created_at
		FROM conversations
		WHERE workflow_id = ?
		ORDER BY timestamp ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow history: %w", err)
	}
	defer rows.Close()
	return scanConversationMessages(rows)
}

// RecentMessages returns the most recent stored messages, newest first.
func (s *Store) RecentMessages(limit int) ([]types.ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT message_id, group_id, sender_id, sender_name, message_text,
		       timestamp, workflow_id, created_at
		FROM conversations
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return scanConversationMessages(rows)
}

func scanConversationMessages(rows *sql.Rows) ([]types.ConversationMessage, error) {
	var msgs []types.ConversationMessage
	for rows.Next() {
		var m types.ConversationMessage
		var workflowID sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.MessageID, &m.GroupID, &m.SenderID, &m.SenderName,
			&m.Text, &m.Timestamp, &workflowID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		m.WorkflowID = workflowID.String
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
