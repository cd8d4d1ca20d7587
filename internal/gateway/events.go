// ABOUTME: Server-Sent Events stream of a workflow's conversation events
// ABOUTME: One live stream per workflow; a client disconnect aborts the running turn

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/workflow-gateway/internal/auth"
	"github.com/2389/workflow-gateway/internal/conversation"
)

// handleEvents handles GET /api/workflows/{id}/events.
//
// The stream opens with an "attached" event. Each conversation event is
// written with its type as the SSE event name. Attaching a new stream to the
// same workflow ends this one; leaving while a turn runs aborts the turn.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)
	em := conversation.NewChannelEmitter()
	wf, err := g.workflows.Open(ctx, userID, r.PathValue("id"), em)
	if err != nil {
		em.Close()
		g.sendError(w, r, err)
		return
	}
	defer func() {
		g.workflows.Detach(wf, em)
		em.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "attached", map[string]string{"workflow_id": wf.ID, "type": wf.Type})
	flusher.Flush()

	logger := g.logger.With("workflow_id", wf.ID, "user_id", userID)
	logger.Debug("event stream attached")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream client disconnected")
			return
		case ev, ok := <-em.Events():
			if !ok {
				logger.Debug("event stream superseded or workflow closed")
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}
