// ABOUTME: SQLite persistence for workflows and their message groups
// ABOUTME: Message groups are written in one transaction with a per-workflow sequence

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/llm"
)

// CreateWorkflow inserts a workflow. Empty timestamps are set to now and an
// empty state to active.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	if wf.State == "" {
		wf.State = WorkflowActive
	}

	query := `
		INSERT INTO workflows (id, user_id, type, title, provider_id, model, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		wf.ID,
		wf.UserID,
		wf.Type,
		wf.Title,
		wf.ProviderID,
		wf.Model,
		string(wf.State),
		formatTime(wf.CreatedAt),
		formatTime(wf.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow %s: %w", wf.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting workflow: %w", err)
	}

	s.logger.Debug("created workflow", "id", wf.ID, "type", wf.Type, "user_id", wf.UserID)
	return nil
}

const workflowColumns = `id, user_id, type, title, provider_id, model, state, created_at, updated_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var wf Workflow
	var state, createdAt, updatedAt string
	var closedAt sql.NullString

	if err := row.Scan(
		&wf.ID,
		&wf.UserID,
		&wf.Type,
		&wf.Title,
		&wf.ProviderID,
		&wf.Model,
		&state,
		&createdAt,
		&updatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	wf.State = WorkflowState(state)

	var err error
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		wf.ClosedAt = &t
	}
	return &wf, nil
}

// GetWorkflow retrieves a workflow by id.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns workflows matching filter, most recently updated first.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	query += " ORDER BY updated_at DESC, id LIMIT ?"
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow rows: %w", err)
	}
	return out, nil
}

// CloseWorkflow marks a workflow closed. Closing twice is a no-op.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) CloseWorkflow(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET state = 'closed', closed_at = COALESCE(closed_at, ?), updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("closing workflow: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Debug("closed workflow", "id", id)
	return nil
}

// InsertMessageGroup writes msgs as the next group of workflowID. Either the
// group and every message are stored, or nothing is.
func (s *SQLiteStore) InsertMessageGroup(ctx context.Context, workflowID string, msgs []llm.Message) (*MessageGroup, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyGroup
	}

	group := &MessageGroup{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Messages:   llm.CloneAll(msgs),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	for i := range group.Messages {
		group.Messages[i].Index = i
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, workflowID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("checking workflow: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM message_groups WHERE workflow_id = ?`, workflowID,
	).Scan(&group.Seq); err != nil {
		return nil, fmt.Errorf("allocating group sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_groups (id, workflow_id, seq, created_at) VALUES (?, ?, ?, ?)`,
		group.ID, workflowID, group.Seq, formatTime(group.CreatedAt),
	); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("inserting message group for workflow %s: %w", workflowID, ErrNotFound)
		}
		return nil, fmt.Errorf("inserting message group: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (group_id, idx, sender, content, tool_call_id, tool_calls, finish_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range group.Messages {
		var calls any
		if len(m.ToolCalls) > 0 {
			raw, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return nil, fmt.Errorf("encoding tool calls: %w", err)
			}
			calls = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			group.ID,
			m.Index,
			string(m.Sender),
			m.Content,
			nullString(m.ToolCallID),
			calls,
			nullString(string(m.FinishReason)),
		); err != nil {
			return nil, fmt.Errorf("inserting message %d: %w", m.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET updated_at = ? WHERE id = ?`, formatTime(group.CreatedAt), workflowID,
	); err != nil {
		return nil, fmt.Errorf("touching workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message group: %w", err)
	}

	s.logger.Debug("inserted message group",
		"workflow_id", workflowID,
		"group_id", group.ID,
		"seq", group.Seq,
		"messages", len(group.Messages),
	)
	return group, nil
}

// GetMessageGroups returns every group of workflowID in sequence order with
// messages in index order.
func (s *SQLiteStore) GetMessageGroups(ctx context.Context, workflowID string) ([]*MessageGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.seq, g.created_at,
		       m.idx, m.sender, m.content, m.tool_call_id, m.tool_calls, m.finish_reason
		FROM message_groups g
		JOIN messages m ON m.group_id = g.id
		WHERE g.workflow_id = ?
		ORDER BY g.seq, m.idx
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying message groups: %w", err)
	}
	defer rows.Close()

	var groups []*MessageGroup
	var current *MessageGroup
	for rows.Next() {
		var (
			groupID, createdAt, sender string
			seq                        int
			m                          llm.Message
			toolCallID, toolCalls      sql.NullString
			finishReason               sql.NullString
		)
		if err := rows.Scan(&groupID, &seq, &createdAt, &m.Index, &sender, &m.Content, &toolCallID, &toolCalls, &finishReason); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if current == nil || current.ID != groupID {
			ts, err := parseTime(createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing created_at: %w", err)
			}
			current = &MessageGroup{ID: groupID, WorkflowID: workflowID, Seq: seq, CreatedAt: ts}
			groups = append(groups, current)
		}

		m.Sender = llm.Sender(sender)
		m.ToolCallID = toolCallID.String
		m.FinishReason = llm.FinishReason(finishReason.String)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		current.Messages = append(current.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return groups, nil
}
