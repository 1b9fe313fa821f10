// Package conversation threads inbound messages into conversations and
// applies agent actions to them.
//
// # Overview
//
// The package sits between the webhook pipeline / HTTP handlers and the
// store. It is assembled with New:
//
//	svc := conversation.New(store, notifier, conversation.Options{}, logger)
//
// # Router
//
// Router.Route implements thread reuse: the newest open, pending or snoozed
// conversation for an (inbox, contact) pair is returned; otherwise a new
// open conversation is created. Resolved conversations are never reopened
// by routing. The store allows at most one active conversation per pair, so
// a concurrent first-contact race ends with one side getting ErrConflict
// from the insert and retrying the lookup.
//
// # Messages
//
// Messages.Append records a message and advances LastMessageAt. When the
// request carries a provider ExternalID already recorded for the inbox, the
// earlier message is returned with Duplicate set; redelivered webhooks are
// therefore safe. Messages.List hides private notes unless asked.
//
// # Lifecycle
//
// Status transitions:
//
//	open     -> pending, resolved, snoozed
//	pending  -> open, resolved, snoozed
//	snoozed  -> open, pending, resolved
//	resolved -> open
//
// Entering resolved stamps ResolvedAt and reopening clears it. Every status,
// assignment and priority change appends a system message and publishes a
// notification to inbox:{id}. Both are best-effort: their failures are
// logged and never undo the change.
//
// Assignment does not check inbox-agent edges unless
// LifecycleOptions.EnforceAssignmentEdge is set.
//
// # Errors
//
// ErrConversationNotFound and ErrInboxNotFound map to not-found,
// ErrInvalidStatus, ErrInvalidPriority, ErrInvalidMessage and
// ErrInvalidTransition to validation failures, ErrConflict and
// ErrAssigneeNotInInbox to conflicts. ErrStorage wraps persistence failures
// and is safe to retry.
package conversation
