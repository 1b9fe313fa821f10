// ABOUTME: Topic names for realtime subscriptions
// ABOUTME: Topics are "inbox:{id}", "conversation:{id}" or "agent:{id}"

package realtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic is returned for topic strings outside the known scopes.
var ErrInvalidTopic = errors.New("invalid topic")

// Scope is the kind of entity a topic is about.
type Scope string

const (
	ScopeInbox        Scope = "inbox"
	ScopeConversation Scope = "conversation"
	ScopeAgent        Scope = "agent"
)

// Topic is a parsed subscription topic.
type Topic struct {
	Scope Scope
	ID    string
}

func (t Topic) String() string {
	return string(t.Scope) + ":" + t.ID
}

// ParseTopic validates and splits a topic string.
func ParseTopic(s string) (Topic, error) {
	scope, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	switch Scope(scope) {
	case ScopeInbox, ScopeConversation, ScopeAgent:
		return Topic{Scope: Scope(scope), ID: id}, nil
	}
	return Topic{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidTopic, scope)
}

// InboxTopic is the topic for inbox-wide conversation events.
func InboxTopic(inboxID string) string { return Topic{ScopeInbox, inboxID}.String() }

// ConversationTopic is the topic for message-level events of one conversation.
func ConversationTopic(conversationID string) string {
	return Topic{ScopeConversation, conversationID}.String()
}

// AgentTopic is the topic for events addressed to one agent.
func AgentTopic(agentID string) string { return Topic{ScopeAgent, agentID}.String() }
