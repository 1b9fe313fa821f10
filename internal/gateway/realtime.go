// ABOUTME: Realtime HTTP endpoints beside the websocket handler
// ABOUTME: Topic authorization, subscription introspection and admin-triggered inbox notifications

package gateway

import (
	"net/http"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/realtime"
)

// NotifyRequest is the JSON request body for POST /api/inboxes/{inboxId}/notify.
type NotifyRequest struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// notifyTypes are the notification types agents may be sent through the API.
var notifyTypes = map[string]bool{
	realtime.EventNewMessage:           true,
	realtime.EventConversationAssigned: true,
	realtime.EventConversationResolved: true,
}

// authorizeTopic lets any authenticated agent follow inboxes and
// conversations, and restricts agent topics to their owner or an admin.
func authorizeTopic(r *http.Request, topic realtime.Topic) bool {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		return false
	}
	if topic.Scope == realtime.ScopeAgent {
		return authCtx.IsAdmin() || topic.ID == authCtx.AgentID
	}
	return true
}

// handleListSubscriptions handles GET /api/realtime/subscriptions (admin).
func (g *Gateway) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, SubscriptionListResponse{Subscriptions: g.registry.ListActive()})
}

// handleNotifyAgents handles POST /api/inboxes/{inboxId}/notify (admin).
// The response's success reports whether the publish was accepted, not
// whether any agent received it.
func (g *Gateway) handleNotifyAgents(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !notifyTypes[req.Type] {
		g.sendJSONError(w, http.StatusBadRequest, "type must be new_message, conversation_assigned or conversation_resolved")
		return
	}

	inboxID := r.PathValue("inboxId")
	if _, err := g.store.GetInbox(r.Context(), inboxID); err != nil {
		g.sendServiceError(w, "notify agents", err)
		return
	}

	ok := g.notifier.NotifyAgents(inboxID, realtime.Notification{
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	})
	g.writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
