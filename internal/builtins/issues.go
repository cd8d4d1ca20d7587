// ABOUTME: Issues pack: create, list, and update issues in the store
// ABOUTME: Issues are scoped to the calling user

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

// IssuesPack creates the issues pack.
func IssuesPack(s store.IssueStore) *tools.Pack {
	h := &issueHandlers{store: s}
	return &tools.Pack{
		ID: "builtin:issues",
		Tools: []*tools.Tool{
			tool("create_issue", "File a new issue",
				`{"type":"object","properties":{"title":{"type":"string","minLength":1},"description":{"type":"string"},"priority":{"type":"string","enum":["low","medium","high"]}},"required":["title"]}`,
				h.Create),
			tool("list_issues", "List issues",
				`{"type":"object","properties":{"status":{"type":"string","enum":["open","in_progress","resolved","closed"]}}}`,
				h.List),
			tool("update_issue_status", "Change the status of an issue",
				`{"type":"object","properties":{"id":{"type":"string"},"status":{"type":"string","enum":["open","in_progress","resolved","closed"]}},"required":["id","status"]}`,
				h.UpdateStatus),
		},
	}
}

type issueHandlers struct {
	store store.IssueStore
}

type issueView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}

func viewIssue(is *store.Issue) issueView {
	return issueView{
		ID:          is.ID,
		Title:       is.Title,
		Description: is.Description,
		Priority:    is.Priority,
		Status:      is.Status,
		UpdatedAt:   is.UpdatedAt.Format(time.RFC3339),
	}
}

type createIssueInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (h *issueHandlers) Create(ctx context.Context, caller tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in createIssueInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	is := &store.Issue{
		ID:          uuid.New().String(),
		WorkflowID:  caller.WorkflowID,
		UserID:      caller.UserID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
	}
	if err := h.store.CreateIssue(ctx, is); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"id": is.ID, "status": is.Status})
}

type listIssuesInput struct {
	Status string `json:"status"`
}

func (h *issueHandlers) List(ctx context.Context, caller tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in listIssuesInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	issues, err := h.store.ListIssues(ctx, caller.UserID, in.Status)
	if err != nil {
		return nil, err
	}
	views := make([]issueView, len(issues))
	for i, is := range issues {
		views[i] = viewIssue(is)
	}
	return json.Marshal(map[string]any{"issues": views, "count": len(views)})
}

type updateIssueStatusInput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *issueHandlers) UpdateStatus(ctx context.Context, caller tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in updateIssueStatusInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	is, err := h.store.UpdateIssueStatus(ctx, in.ID, caller.UserID, in.Status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("issue %s not found", in.ID)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(viewIssue(is))
}
