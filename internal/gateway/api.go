// ABOUTME: HTTP API handlers for workflows, settings, usage and knowledge ingestion
// ABOUTME: Every /api route runs behind the auth middleware and acts as the caller

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/workflow-gateway/internal/auth"
	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/workflow"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 20

// CreateWorkflowRequest is the JSON request body for POST /api/workflows.
type CreateWorkflowRequest struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// WorkflowResponse describes one workflow.
type WorkflowResponse struct {
	ID         string  `json:"workflow_id"`
	Type       string  `json:"type"`
	Title      string  `json:"title,omitempty"`
	ProviderID string  `json:"provider_id"`
	Model      string  `json:"model,omitempty"`
	State      string  `json:"state"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	ClosedAt   *string `json:"closed_at,omitempty"`
}

// ListWorkflowsResponse is the JSON response for GET /api/workflows.
type ListWorkflowsResponse struct {
	Workflows []WorkflowResponse `json:"workflows"`
	Types     []string           `json:"types"`
}

// SendMessageRequest is the JSON request body for POST /api/workflows/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MessageGroupResponse is one persisted turn.
type MessageGroupResponse struct {
	ID        string        `json:"id"`
	Seq       int           `json:"seq"`
	CreatedAt string        `json:"created_at"`
	Messages  []llm.Message `json:"messages"`
}

// UsageResponse is one provider round trip.
type UsageResponse struct {
	ID               string `json:"id"`
	RequestID        string `json:"request_id"`
	GroupID          string `json:"group_id,omitempty"`
	ProviderID       string `json:"provider_id"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// UsageStatsResponse is the JSON response for GET /api/stats/usage.
type UsageStatsResponse struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	RequestCount     int64 `json:"request_count"`
}

// UpdateSettingRequest is the JSON request body for PUT /api/settings/{key}.
type UpdateSettingRequest struct {
	Value string `json:"value"`
}

// IngestRequest is the JSON request body for POST /api/knowledge.
type IngestRequest struct {
	Documents []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"documents"`
}

// routes builds the HTTP handler. Health endpoints are public; /api routes
// pass through authMW.
func (g *Gateway) routes(authMW func(http.Handler) http.Handler) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/workflows", g.handleCreateWorkflow)
	api.HandleFunc("GET /api/workflows", g.handleListWorkflows)
	api.HandleFunc("DELETE /api/workflows/{id}", g.handleCloseWorkflow)
	api.HandleFunc("GET /api/workflows/{id}/events", g.handleEvents)
	api.HandleFunc("POST /api/workflows/{id}/messages", g.handleSendMessage)
	api.HandleFunc("GET /api/workflows/{id}/messages", g.handleListMessages)
	api.HandleFunc("GET /api/workflows/{id}/transcript", g.handleTranscript)
	api.HandleFunc("GET /api/workflows/{id}/usage", g.handleWorkflowUsage)
	api.HandleFunc("GET /api/settings", g.handleListSettings)
	api.HandleFunc("PUT /api/settings/{key}", g.handleUpdateSetting)
	api.HandleFunc("GET /api/stats/usage", g.handleUsageStats)
	api.HandleFunc("POST /api/knowledge", g.handleIngest)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.Handle("/api/", authMW(api))
	return mux
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	return nil
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func workflowResponse(wf *store.Workflow) WorkflowResponse {
	resp := WorkflowResponse{
		ID:         wf.ID,
		Type:       wf.Type,
		Title:      wf.Title,
		ProviderID: wf.ProviderID,
		Model:      wf.Model,
		State:      string(wf.State),
		CreatedAt:  formatTime(wf.CreatedAt),
		UpdatedAt:  formatTime(wf.UpdatedAt),
	}
	if wf.ClosedAt != nil {
		closed := formatTime(*wf.ClosedAt)
		resp.ClosedAt = &closed
	}
	return resp
}

// ownedWorkflow loads a workflow row and checks the caller owns it.
func (g *Gateway) ownedWorkflow(ctx context.Context, workflowID string) (*store.Workflow, error) {
	wf, err := g.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.UserID != auth.UserID(ctx) {
		g.logger.Warn("workflow access denied", "workflow_id", workflowID, "user_id", auth.UserID(ctx))
		return nil, workflow.ErrAuthorization
	}
	return wf, nil
}

// handleCreateWorkflow handles POST /api/workflows.
func (g *Gateway) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	if req.Type == "" {
		g.sendJSONError(w, http.StatusBadRequest, "type is required")
		return
	}

	wf, err := g.workflows.Create(r.Context(), auth.UserID(r.Context()), req.Type, workflow.Params{Title: req.Title}, nil)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	row, err := g.store.GetWorkflow(r.Context(), wf.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, workflowResponse(row))
}

// handleListWorkflows handles GET /api/workflows.
// Supports optional ?type=X, ?state=active|closed and ?limit=N filters.
func (g *Gateway) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.WorkflowFilter{
		UserID: auth.UserID(r.Context()),
		Type:   q.Get("type"),
		State:  store.WorkflowState(q.Get("state")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	rows, err := g.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	resp := ListWorkflowsResponse{
		Workflows: make([]WorkflowResponse, 0, len(rows)),
		Types:     g.workflows.Types(),
	}
	for _, row := range rows {
		resp.Workflows = append(resp.Workflows, workflowResponse(row))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleCloseWorkflow handles DELETE /api/workflows/{id}.
func (g *Gateway) handleCloseWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.workflows.Close(r.Context(), auth.UserID(r.Context()), id); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage handles POST /api/workflows/{id}/messages. The turn runs
// in the background; its output arrives on the events stream.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := g.workflows.Send(r.Context(), auth.UserID(r.Context()), id, req.Content); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": "accepted"})
}

// handleListMessages handles GET /api/workflows/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	wf, err := g.ownedWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	groups, err := g.store.GetMessageGroups(r.Context(), wf.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]MessageGroupResponse, 0, len(groups))
	for _, grp := range groups {
		resp = append(resp, MessageGroupResponse{
			ID:        grp.ID,
			Seq:       grp.Seq,
			CreatedAt: formatTime(grp.CreatedAt),
			Messages:  grp.Messages,
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"workflow_id": wf.ID, "groups": resp})
}

// handleTranscript handles GET /api/workflows/{id}/transcript.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	wf, err := g.ownedWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	groups, err := g.store.GetMessageGroups(r.Context(), wf.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	page, err := renderTranscript(wf, groups)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleWorkflowUsage handles GET /api/workflows/{id}/usage.
func (g *Gateway) handleWorkflowUsage(w http.ResponseWriter, r *http.Request) {
	wf, err := g.ownedWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	records, err := g.store.GetWorkflowUsage(r.Context(), wf.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]UsageResponse, 0, len(records))
	for _, u := range records {
		resp = append(resp, UsageResponse{
			ID:               u.ID,
			RequestID:        u.RequestID,
			GroupID:          u.GroupID,
			ProviderID:       u.ProviderID,
			Model:            u.Model,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			FinishReason:     string(u.FinishReason),
			CreatedAt:        formatTime(u.CreatedAt),
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"workflow_id": wf.ID, "usage": resp})
}

// handleUsageStats handles GET /api/stats/usage for the caller.
// Supports optional ?workflow_id=X, ?model=X, ?since=RFC3339 and ?until=RFC3339.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := auth.UserID(r.Context())
	filter := store.UsageFilter{UserID: &userID}

	if v := q.Get("workflow_id"); v != "" {
		filter.WorkflowID = &v
	}
	if v := q.Get("model"); v != "" {
		filter.Model = &v
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: expected RFC3339", name))
			return
		}
		*dst = &t
	}

	stats, err := g.store.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, UsageStatsResponse{
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		TotalTokens:      stats.TotalTokens,
		RequestCount:     stats.RequestCount,
	})
}

// handleListSettings handles GET /api/settings.
func (g *Gateway) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := g.settings.GetAll(r.Context())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"settings": all})
}

// handleUpdateSetting handles PUT /api/settings/{key}. Provider-valued keys
// must name a registered provider with the right capability.
func (g *Gateway) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	key := r.PathValue("key")
	if err := g.settings.Update(r.Context(), key, req.Value); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.logger.Info("setting updated", "key", key, "user_id", auth.UserID(r.Context()))
	g.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// handleIngest handles POST /api/knowledge.
func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	if len(req.Documents) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "documents are required")
		return
	}

	docs := make([]provider.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if d.ID == "" || d.Text == "" {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("document %d: id and text are required", i))
			return
		}
		docs = append(docs, provider.Document{ID: d.ID, Text: d.Text})
	}

	if err := g.knowledge.Ingest(r.Context(), docs); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]int{"ingested": len(docs)})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one inference provider is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.providers.Count(provider.CapabilityInference)
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no inference providers registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d inference providers)", n)
}
