// Package realtime fans out inbox events to live subscribers.
//
// # Registry
//
// The Registry maps topics to subscriptions. Topics are scoped strings:
//
//   - inbox:{id}        conversation created, assigned, resolved, status changes
//   - conversation:{id} message-level events
//   - agent:{id}        events addressed to one agent
//
// Each subscription owns a bounded queue drained by its own goroutine, so
// Publish never waits on a subscriber. A full queue drops the event for that
// subscriber only; an error or panic in Deliver is logged and counted.
//
//	reg := realtime.NewRegistry(realtime.Options{})
//	id, _ := reg.Subscribe(realtime.InboxTopic("inbox-1"), sub)
//	reg.Publish(realtime.InboxTopic("inbox-1"), realtime.Event{Type: "new_message"})
//	reg.Unsubscribe(id)
//
// Close tears down every live subscription, calling Close on subscribers
// that implement io.Closer and logging any teardown error.
//
// # Notifier
//
// Notifier is the domain-facing side: NotifyAgents publishes a Notification
// to inbox:{id}. Its boolean result reports whether the registry accepted
// the event, not whether any subscriber received it.
//
// # WebSocket
//
// WebSocketHandler exposes the registry over a websocket. Clients send
// {"action":"subscribe","topic":"inbox:1"} and receive
// {"type":"subscribed","subscription_id":"..."}; events arrive as
// {"type":"event","event":{...}}. All of a connection's subscriptions are
// released when it closes.
package realtime
