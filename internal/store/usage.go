// ABOUTME: SQLite implementation for token usage tracking
// ABOUTME: One record per provider round trip, linked to its message group afterwards

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/2389/workflow-gateway/internal/llm"
)

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO token_usage (
			id, workflow_id, user_id, request_id, group_id, provider_id, model,
			prompt_tokens, completion_tokens, finish_reason, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.WorkflowID,
		usage.UserID,
		usage.RequestID,
		nullString(usage.GroupID),
		usage.ProviderID,
		usage.Model,
		usage.PromptTokens,
		usage.CompletionTokens,
		string(usage.FinishReason),
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"workflow_id", usage.WorkflowID,
		"model", usage.Model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return nil
}

// LinkUsageToGroup sets the group id on every record of a turn.
func (s *SQLiteStore) LinkUsageToGroup(ctx context.Context, requestID, groupID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE token_usage SET group_id = ? WHERE request_id = ?`, groupID, requestID)
	if err != nil {
		return fmt.Errorf("linking usage to group: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("linked usage to group",
		"request_id", requestID,
		"group_id", groupID,
		"rows_affected", rowsAffected,
	)
	return nil
}

// GetWorkflowUsage retrieves all usage records for a workflow, oldest first.
func (s *SQLiteStore) GetWorkflowUsage(ctx context.Context, workflowID string) ([]*TokenUsage, error) {
	query := `
		SELECT id, workflow_id, user_id, request_id, group_id, provider_id, model,
		       prompt_tokens, completion_tokens, finish_reason, created_at
		FROM token_usage
		WHERE workflow_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying workflow usage: %w", err)
	}
	defer rows.Close()

	var usages []*TokenUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COUNT(*)
		FROM token_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if filter.WorkflowID != nil {
		query += " AND workflow_id = ?"
		args = append(args, *filter.WorkflowID)
	}
	if filter.Model != nil {
		query += " AND model = ?"
		args = append(args, *filter.Model)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.PromptTokens,
		&stats.CompletionTokens,
		&stats.RequestCount,
	); err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	return &stats, nil
}

func scanUsage(rows *sql.Rows) (*TokenUsage, error) {
	var usage TokenUsage
	var groupID sql.NullString
	var finishReason, createdAt string

	if err := rows.Scan(
		&usage.ID,
		&usage.WorkflowID,
		&usage.UserID,
		&usage.RequestID,
		&groupID,
		&usage.ProviderID,
		&usage.Model,
		&usage.PromptTokens,
		&usage.CompletionTokens,
		&finishReason,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}
	usage.GroupID = groupID.String
	usage.FinishReason = llm.FinishReason(finishReason)

	var err error
	if usage.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &usage, nil
}
