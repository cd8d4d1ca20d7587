// ABOUTME: Maps domain errors onto HTTP status codes and JSON error bodies
// ABOUTME: Unexpected errors are logged and reported as a generic 500

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/knowledge"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/settings"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
	"github.com/2389/workflow-gateway/internal/workflow"
)

// errBadRequest marks request decoding and parameter errors.
var errBadRequest = errors.New("bad request")

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, workflow.ErrEmptyMessage),
		errors.Is(err, tools.ErrInvalidArguments),
		errors.Is(err, settings.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrClosed),
		errors.Is(err, workflow.ErrMissingSetting),
		errors.Is(err, workflow.ErrUnknownType),
		errors.Is(err, provider.ErrProviderNotFound),
		errors.Is(err, provider.ErrCapabilityMismatch),
		errors.Is(err, provider.ErrConfigurationConflict),
		errors.Is(err, knowledge.ErrNotConfigured),
		errors.Is(err, conversation.ErrToolLoopExceeded):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrUnavailable),
		errors.Is(err, workflow.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendError reports err with its mapped status. Internal errors are logged
// and never echoed to the client.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	g.sendJSONError(w, status, err.Error())
}
