// ABOUTME: Storage and notification dependencies of the conversation package
// ABOUTME: Narrow interfaces over store.Store and realtime.Notifier

package conversation

import (
	"context"
	"time"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// Store defines what the conversation services need from storage
type Store interface {
	GetInbox(ctx context.Context, id string) (*store.Inbox, error)
	HasInboxAgent(ctx context.Context, inboxID, agentID string) (bool, error)

	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	FindActiveConversation(ctx context.Context, inboxID, contactID string) (*store.Conversation, error)
	ListConversations(ctx context.Context, filter store.ConversationFilter) ([]*store.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, from, to store.ConversationStatus, resolvedAt *time.Time, at time.Time) (*store.Conversation, error)
	SetConversationAssignee(ctx context.Context, id, agentID string, at time.Time) (*store.Conversation, error)
	SetConversationPriority(ctx context.Context, id string, priority store.Priority, at time.Time) (*store.Conversation, error)
	MarkConversationSeen(ctx context.Context, id string, at time.Time) (*store.Conversation, error)

	AppendMessage(ctx context.Context, msg *store.Message) error
	GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, filter store.MessageFilter) ([]*store.Message, error)
	GetLastMessage(ctx context.Context, conversationID string, includePrivate bool) (*store.Message, error)
	CountUnread(ctx context.Context, conversationID string, since *time.Time) (int, error)
}

// Notifier defines how the services publish realtime notifications.
type Notifier interface {
	NotifyAgents(inboxID string, n realtime.Notification) bool
	NotifyAgent(agentID string, n realtime.Notification) bool
	NotifyConversation(conversationID string, ev realtime.Event) bool
}

type nopNotifier struct{}

func (nopNotifier) NotifyAgents(string, realtime.Notification) bool { return false }
func (nopNotifier) NotifyAgent(string, realtime.Notification) bool { return false }
func (nopNotifier) NotifyConversation(string, realtime.Event) bool { return false }

// ConversationData is the notification payload describing a conversation.
func ConversationData(c *store.Conversation) map[string]any {
	data := map[string]any{
		"conversation_id": c.ID,
		"inbox_id":        c.InboxID,
		"contact_id":      c.ContactID,
		"status":          string(c.Status),
		"priority":        string(c.Priority),
		"last_message_at": c.LastMessageAt.UTC().Format(time.RFC3339Nano),
	}
	if c.AssignedAgentID != "" {
		data["assigned_agent_id"] = c.AssignedAgentID
	}
	if c.ResolvedAt != nil {
		data["resolved_at"] = c.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}
	return data
}

// MessageData is the notification payload describing a message.
func MessageData(m *store.Message) map[string]any {
	return map[string]any{
		"message_id":      m.ID,
		"conversation_id": m.ConversationID,
		"inbox_id":        m.InboxID,
		"sender_type":     string(m.SenderType),
		"sender_id":       m.SenderID,
		"content":         m.Content,
		"message_type":    string(m.MessageType),
		"is_private":      m.IsPrivate,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
