// ABOUTME: HTTP API handlers for agent-facing conversation operations
// ABOUTME: Lists and reads conversations and messages, and applies status, assignment, priority and replies

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/ingest"
	"github.com/2389/coven-inbox/internal/store"
)

// maxAPIBodyBytes caps agent API request bodies.
const maxAPIBodyBytes = 1 << 20

// PostMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type PostMessageRequest struct {
	Content     string         `json:"content"`
	MessageType string         `json:"message_type,omitempty"`
	Private     bool           `json:"private,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateStatusRequest is the JSON request body for POST /api/conversations/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// AssignRequest is the JSON request body for POST /api/conversations/{id}/assignment.
// An empty AgentID unassigns.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// SetPriorityRequest is the JSON request body for POST /api/conversations/{id}/priority.
type SetPriorityRequest struct {
	Priority string `json:"priority"`
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ingest.ErrInboxNotFound),
		errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrInboxNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrInvalidPayload),
		errors.Is(err, conversation.ErrInvalidStatus),
		errors.Is(err, conversation.ErrInvalidPriority),
		errors.Is(err, conversation.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrInvalidTransition),
		errors.Is(err, conversation.ErrAssigneeNotInInbox):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrConflict),
		errors.Is(err, conversation.ErrConcurrentUpdate),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrInFlight),
		errors.Is(err, conversation.ErrStorage),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendServiceError writes the mapped status for err. Server-side failures
// are logged and their details withheld from the caller.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		g.logger.Error(op+" failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
	case http.StatusServiceUnavailable:
		g.logger.Error(op+" failed", "error", err)
		g.sendJSONError(w, status, "temporarily unavailable, retry later")
	default:
		g.sendJSONError(w, status, err.Error())
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// actorFrom builds the acting agent from the authenticated request.
func actorFrom(r *http.Request) conversation.Actor {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		return conversation.SystemActor()
	}
	actor := conversation.AgentActor(authCtx.AgentID)
	actor.Name = authCtx.Name
	actor.Admin = authCtx.Admin
	return actor
}

// parsePaging reads limit and offset query parameters.
func parsePaging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	if s := q.Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// handleListConversations handles GET /api/inboxes/{inboxId}/conversations.
// Supports ?status=, ?assigned_agent_id= (or "unassigned"), ?limit= and ?offset=.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.conversations.List(r.Context(), conversation.Filter{
		InboxID:         r.PathValue("inboxId"),
		Status:          r.URL.Query().Get("status"),
		AssignedAgentID: r.URL.Query().Get("assigned_agent_id"),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		g.sendServiceError(w, "list conversations", err)
		return
	}

	resp := ConversationListResponse{Conversations: make([]ConversationResponse, len(convs))}
	for i, c := range convs {
		resp.Conversations[i] = toConversationResponse(c)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	detail, err := g.conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "get conversation", err)
		return
	}

	resp := ConversationDetailResponse{
		Conversation: toConversationResponse(detail.Conversation),
		UnreadCount:  detail.UnreadCount,
	}
	if detail.LastMessage != nil {
		m := toMessageResponse(detail.LastMessage)
		resp.LastMessage = &m
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleListMessages handles GET /api/conversations/{id}/messages.
// Private notes are included only with ?include_private=true. With
// ?render=html each message also carries content_html.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	includePrivate := false
	if s := r.URL.Query().Get("include_private"); s != "" {
		includePrivate, err = strconv.ParseBool(s)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "include_private must be a boolean")
			return
		}
	}

	render := r.URL.Query().Get("render")
	if render != "" && render != "html" {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported render format %q", render))
		return
	}

	id := r.PathValue("id")
	msgs, err := g.conversations.Messages.List(r.Context(), id, conversation.ListOptions{
		IncludePrivate: includePrivate,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		g.sendServiceError(w, "list messages", err)
		return
	}

	resp := MessageListResponse{ConversationID: id, Messages: make([]MessageResponse, len(msgs))}
	for i, m := range msgs {
		resp.Messages[i] = toMessageResponse(m)
		if render == "html" {
			rendered, err := g.renderer.Render(m.Content)
			if err != nil {
				g.logger.Warn("failed to render message", "message_id", m.ID, "error", err)
				continue
			}
			resp.Messages[i].ContentHTML = rendered
		}
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handlePostMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.conversations.Lifecycle.Reply(r.Context(), actorFrom(r), r.PathValue("id"), conversation.ReplyRequest{
		Content:     req.Content,
		MessageType: store.MessageType(req.MessageType),
		Private:     req.Private,
		Metadata:    req.Metadata,
	})
	if err != nil {
		g.sendServiceError(w, "post message", err)
		return
	}
	g.writeJSON(w, http.StatusCreated, map[string]any{"message": toMessageResponse(msg)})
}

// handleUpdateStatus handles POST /api/conversations/{id}/status.
func (g *Gateway) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.conversations.Lifecycle.UpdateStatus(r.Context(), actorFrom(r), r.PathValue("id"), store.ConversationStatus(req.Status))
	g.writeConversation(w, "update status", conv, err)
}

// handleAssign handles POST /api/conversations/{id}/assignment.
func (g *Gateway) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.conversations.Lifecycle.Assign(r.Context(), actorFrom(r), r.PathValue("id"), req.AgentID)
	g.writeConversation(w, "assign", conv, err)
}

// handleSetPriority handles POST /api/conversations/{id}/priority.
func (g *Gateway) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req SetPriorityRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.conversations.Lifecycle.SetPriority(r.Context(), actorFrom(r), r.PathValue("id"), store.Priority(req.Priority))
	g.writeConversation(w, "set priority", conv, err)
}

// handleMarkSeen handles POST /api/conversations/{id}/seen.
func (g *Gateway) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversations.Lifecycle.MarkSeen(r.Context(), actorFrom(r), r.PathValue("id"))
	g.writeConversation(w, "mark seen", conv, err)
}

func (g *Gateway) writeConversation(w http.ResponseWriter, op string, conv *store.Conversation, err error) {
	if err != nil {
		g.sendServiceError(w, op, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"conversation": toConversationResponse(conv)})
}
