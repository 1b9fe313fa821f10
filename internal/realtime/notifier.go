// ABOUTME: Notifier publishes inbox, conversation and agent notifications
// ABOUTME: Publishing is best-effort; a failed publish is logged and reported as false

package realtime

import (
	"log/slog"
)

// Notification is the payload of notifyAgents.
type Notification struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher is the subset of Registry the notifier uses.
type Publisher interface {
	Publish(topic string, ev Event) bool
}

// Notifier turns domain notifications into topic events.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

// NewNotifier creates a Notifier. Pass nil logger for default.
func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:    pub,
		logger: logger.With("component", "notifier"),
	}
}

// NotifyAgents publishes n to everyone watching the inbox.
func (n *Notifier) NotifyAgents(inboxID string, note Notification) bool {
	return n.publish(InboxTopic(inboxID), note.event())
}

// NotifyAgent publishes n to one agent's personal topic.
func (n *Notifier) NotifyAgent(agentID string, note Notification) bool {
	return n.publish(AgentTopic(agentID), note.event())
}

// NotifyConversation publishes a message-level event for one conversation.
func (n *Notifier) NotifyConversation(conversationID string, ev Event) bool {
	return n.publish(ConversationTopic(conversationID), ev)
}

func (n *Notifier) publish(topic string, ev Event) bool {
	if n == nil || n.pub == nil {
		return false
	}
	if ok := n.pub.Publish(topic, ev); !ok {
		n.logger.Warn("notification not published",
			"topic", topic,
			"type", ev.Type)
		return false
	}
	return true
}

func (note Notification) event() Event {
	return Event{
		Type:    note.Type,
		Title:   note.Title,
		Message: note.Message,
		Data:    note.Data,
	}
}
