// ABOUTME: Realtime event and subscriber types
// ABOUTME: Subscribers receive events through Deliver; closers are torn down on unsubscribe

package realtime

import (
	"context"
	"time"
)

// Event types published by the inbox core.
const (
	EventNewMessage                  = "new_message"
	EventConversationAssigned        = "conversation_assigned"
	EventConversationResolved        = "conversation_resolved"
	EventConversationStatusChanged   = "conversation_status_changed"
	EventConversationPriorityChanged = "conversation_priority_changed"
	EventMessageCreated              = "message_created"
)

// Event is one notification delivered to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Topic     string         `json:"topic"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Subscriber receives events for one subscription. Deliver is called from a
// single goroutine per subscription, so implementations need no locking of
// their own. If a Subscriber also implements io.Closer, Close is called when
// the subscription is torn down.
type Subscriber interface {
	Deliver(ctx context.Context, ev Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SubscriberFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// SubscriptionInfo describes a live subscription for introspection.
type SubscriptionInfo struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
	Failed    uint64    `json:"failed"`
}
