package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"squadbot/internal/types"
)

// CreateWorkflow inserts a workflow row. A missing ID is generated; the
// caller sets status (typically NEW) and expiry.
func (s *Store) CreateWorkflow(wf *types.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := s.now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if wf.StepState == "" {
		wf.StepState = "{}"
	}
	var squadID sql.NullString
	if wf.SquadID != "" {
		squadID = sql.NullString{String: wf.SquadID, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO workflows
			(id, group_id, squad_id, initiating_user_id, workflow_type,
			 status, step_state, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.GroupID, squadID, wf.InitiatingUserID, wf.WorkflowType,
		string(wf.Status), wf.StepState, now.Unix(), now.Unix(), wf.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// WorkflowByID fetches one workflow.
func (s *Store) WorkflowByID(id string) (*types.Workflow, error) {
	rows, err := s.db.Query(workflowSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", id, err)
	}
	defer rows.Close()
	wfs, err := scanWorkflows(rows)
	if err != nil {
		return nil, err
	}
	if len(wfs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &wfs[0], nil
}

// ActiveWorkflowsForSquad returns workflows in an active status for the
// squad, newest first. More than one is a race anomaly: the caller takes
// the first and logs the rest, never auto-closing them.
func (s *Store) ActiveWorkflowsForSquad(squadID string) ([]types.Workflow, error) {
	rows, err := s.db.Query(workflowSelect+`
		WHERE squad_id = ? AND status IN (?, ?, ?, ?)
		ORDER BY created_at DESC, id DESC`,
		squadID,
		string(types.WorkflowNew), string(types.WorkflowWaitingForInput),
		string(types.WorkflowReady), string(types.WorkflowExecuting))
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflows for squad %s: %w", squadID, err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// ActiveWorkflowsForGroup returns every active workflow in the group,
// newest first, regardless of squad. The router falls back to this when
// the sender's own squad has nothing open, so a cross-squad reply can
// still reach the conversation that asked for it.
func (s *Store) ActiveWorkflowsForGroup(groupID string) ([]types.Workflow, error) {
	rows, err := s.db.Query(workflowSelect+`
		WHERE group_id = ? AND status IN (?, ?, ?, ?)
		ORDER BY created_at DESC, id DESC`,
		groupID,
		string(types.WorkflowNew), string(types.WorkflowWaitingForInput),
		string(types.WorkflowReady), string(types.WorkflowExecuting))
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflows for group %s: %w", groupID, err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// ActiveWorkflows returns every workflow in an active status, newest
// first. Used at startup to log what survives a restart.
func (s *Store) ActiveWorkflows() ([]types.Workflow, error) {
	rows, err := s.db.Query(workflowSelect+`
		WHERE status IN (?, ?, ?, ?)
		ORDER BY created_at DESC, id DESC`,
		string(types.WorkflowNew), string(types.WorkflowWaitingForInput),
		string(types.WorkflowReady), string(types.WorkflowExecuting))
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflows: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// UpdateWorkflow persists a new status and step state.
func (s *Store) UpdateWorkflow(id string, status types.WorkflowStatus, stepState string) error {
	res, err := s.db.Exec(`
		UPDATE workflows SET status = ?, step_state = ?, updated_at = ?
		WHERE id = ?`,
		string(status), stepState, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no workflow with id %s", id)
	}
	return nil
}

// UpdateWorkflowWithLink persists step state, status, and the
// message-to-workflow linkage in one transaction, so a crash between the
// two writes cannot leave a routed message unlinked.
func (s *Store) UpdateWorkflowWithLink(id string, status types.WorkflowStatus, stepState, messageID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE workflows SET status = ?, step_state = ?, updated_at = ?
		WHERE id = ?`,
		string(status), stepState, s.now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	if messageID != "" {
		if _, err := tx.Exec(`
			UPDATE conversations SET workflow_id = ? WHERE message_id = ?`,
			id, messageID); err != nil {
			return fmt.Errorf("failed to link message %s: %w", messageID, err)
		}
	}
	return tx.Commit()
}

// ExpireWorkflows marks every active workflow whose expiry has passed as
// EXPIRED and returns how many were swept. Terminal rows are untouched.
func (s *Store) ExpireWorkflows() (int64, error) {
	now := s.now().Unix()
	res, err := s.db.Exec(`
		UPDATE workflows SET status = ?, updated_at = ?
		WHERE expires_at <= ? AND status IN (?, ?, ?, ?)`,
		string(types.WorkflowExpired), now, now,
		string(types.WorkflowNew), string(types.WorkflowWaitingForInput),
		string(types.WorkflowReady), string(types.WorkflowExecuting))
	if err != nil {
		return 0, fmt.Errorf("failed to expire workflows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale workflows", zap.Int64("count", n))
	}
	return n, nil
}

// WorkflowCounts returns the number of workflows per status.
func (s *Store) WorkflowCounts() (map[types.WorkflowStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM workflows GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.WorkflowStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.WorkflowStatus(status)] = n
	}
	return counts, rows.Err()
}

const workflowSelect = `
	SELECT id, group_id, squad_id, initiating_user_id, workflow_type,
	       status, step_state, created_at, updated_at, expires_at
	FROM workflows`

func scanWorkflows(rows *sql.Rows) ([]types.Workflow, error) {
	var wfs []types.Workflow
	for rows.Next() {
		var w types.Workflow
		var squadID sql.NullString
		var status string
		var createdAt, updatedAt, expiresAt int64
		if err := rows.Scan(&w.ID, &w.GroupID, &squadID, &w.InitiatingUserID,
			&w.WorkflowType, &status, &w.StepState, &createdAt, &updatedAt,
			&expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w.SquadID = squadID.String
		w.Status = types.WorkflowStatus(status)
		w.CreatedAt = time.Unix(createdAt, 0)
		w.UpdatedAt = time.Unix(updatedAt, 0)
		w.ExpiresAt = time.Unix(expiresAt, 0)
		wfs = append(wfs, w)
	}
	return wfs, rows.Err()
}
