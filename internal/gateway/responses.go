// ABOUTME: JSON response shapes for the webhook and agent API
// ABOUTME: Timestamps are RFC 3339 strings; optional fields are omitted when empty

package gateway

import (
	"time"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// ContactResponse is the JSON form of a contact.
type ContactResponse struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"external_id"`
	Platform    string         `json:"platform"`
	DisplayName string         `json:"display_name,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Email       string         `json:"email,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID              string `json:"id"`
	InboxID         string `json:"inbox_id"`
	ContactID       string `json:"contact_id"`
	Status          string `json:"status"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	Priority        string `json:"priority"`
	LastMessageAt   string `json:"last_message_at"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
	AgentLastSeenAt string `json:"agent_last_seen_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// MessageResponse is the JSON form of a message.
type MessageResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	InboxID        string         `json:"inbox_id"`
	SenderType     string         `json:"sender_type"`
	SenderID       string         `json:"sender_id,omitempty"`
	Content        string         `json:"content"`
	ContentHTML    string         `json:"content_html,omitempty"`
	MessageType    string         `json:"message_type"`
	ExternalID     string         `json:"external_id,omitempty"`
	IsPrivate      bool           `json:"is_private"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// WebhookData is the data member of a successful webhook response.
type WebhookData struct {
	Contact      *ContactResponse      `json:"contact"`
	Conversation *ConversationResponse `json:"conversation"`
	Message      *MessageResponse      `json:"message,omitempty"`
}

// WebhookResponse is the body returned to channel providers.
type WebhookResponse struct {
	Success   bool         `json:"success"`
	Data      *WebhookData `json:"data,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Ignored   bool         `json:"ignored,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// ConversationListResponse is returned by the conversation list endpoint.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// ConversationDetailResponse is returned by the conversation detail endpoint.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	LastMessage  *MessageResponse     `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
}

// MessageListResponse is returned by the message list endpoint.
type MessageListResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// SubscriptionListResponse is returned by the subscription introspection endpoint.
type SubscriptionListResponse struct {
	Subscriptions []realtime.SubscriptionInfo `json:"subscriptions"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toContactResponse(c *store.Contact) *ContactResponse {
	if c == nil {
		return nil
	}
	return &ContactResponse{
		ID:          c.ID,
		ExternalID:  c.ExternalID,
		Platform:    string(c.Platform),
		DisplayName: c.DisplayName,
		Phone:       c.Phone,
		Email:       c.Email,
		Metadata:    c.Metadata,
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		InboxID:         c.InboxID,
		ContactID:       c.ContactID,
		Status:          string(c.Status),
		AssignedAgentID: c.AssignedAgentID,
		Priority:        string(c.Priority),
		LastMessageAt:   formatTime(c.LastMessageAt),
		ResolvedAt:      formatTimePtr(c.ResolvedAt),
		AgentLastSeenAt: formatTimePtr(c.AgentLastSeenAt),
		CreatedAt:       formatTime(c.CreatedAt),
		UpdatedAt:       formatTime(c.UpdatedAt),
	}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		InboxID:        m.InboxID,
		SenderType:     string(m.SenderType),
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    string(m.MessageType),
		ExternalID:     m.ExternalID,
		IsPrivate:      m.IsPrivate,
		Metadata:       m.Metadata,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}
