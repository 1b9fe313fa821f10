// ABOUTME: Conversation lifecycle: status state machine, assignment and priority
// ABOUTME: State changes are authoritative; audit lines and notifications are best-effort

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// transitions lists the allowed targets for each status. A status change to
// the current status is a no-op and never consults this table.
var transitions = map[store.ConversationStatus][]store.ConversationStatus{
	store.StatusOpen:     {store.StatusPending, store.StatusResolved, store.StatusSnoozed},
	store.StatusPending:  {store.StatusOpen, store.StatusResolved, store.StatusSnoozed},
	store.StatusSnoozed:  {store.StatusOpen, store.StatusPending, store.StatusResolved},
	store.StatusResolved: {store.StatusOpen},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to store.ConversationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LifecycleOptions configures a Lifecycle.
type LifecycleOptions struct {
	// EnforceAssignmentEdge rejects assignees without an inbox-agent edge.
	EnforceAssignmentEdge bool
}

// ReplyRequest is an agent-authored message.
type ReplyRequest struct {
	Content     string
	MessageType store.MessageType
	Private     bool
	Metadata    map[string]any
}

// Lifecycle applies agent actions to conversations.
type Lifecycle struct {
	store    Store
	messages *Messages
	notifier Notifier
	opts     LifecycleOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewLifecycle creates a Lifecycle. A nil notifier disables notifications.
func NewLifecycle(s Store, messages *Messages, n Notifier, opts LifecycleOptions, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = nopNotifier{}
	}
	return &Lifecycle{
		store:    s,
		messages: messages,
		notifier: n,
		opts:     opts,
		logger:   logger.With("component", "lifecycle"),
		now:      time.Now,
	}
}

// maxStatusAttempts bounds how often UpdateStatus re-reads a conversation
// whose status changed between its read and its write.
const maxStatusAttempts = 3

// UpdateStatus moves a conversation to status. Entering resolved stamps
// ResolvedAt; leaving it clears ResolvedAt. The write only lands if the
// status is still the one the transition was checked against; otherwise the
// conversation is re-read and the transition checked again.
func (l *Lifecycle) UpdateStatus(ctx context.Context, actor Actor, id string, status store.ConversationStatus) (*store.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		previous store.ConversationStatus
		updated  *store.Conversation
	)
	for attempt := 1; ; attempt++ {
		conv, err := loadConversation(ctx, l.store, id)
		if err != nil {
			return nil, err
		}
		previous = conv.Status
		if previous == status {
			return conv, nil
		}
		if !CanTransition(previous, status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, previous, status)
		}

		now := l.now().UTC()
		var resolvedAt *time.Time
		if status == store.StatusResolved {
			resolvedAt = &now
		}
		updated, err = l.store.UpdateConversationStatus(ctx, id, previous, status, resolvedAt, now)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrStale) && attempt < maxStatusAttempts {
			l.logger.Debug("conversation status changed concurrently, retrying",
				"conversation_id", id,
				"expected", previous,
				"attempt", attempt)
			continue
		}
		return nil, l.writeError(conv, err)
	}

	l.logger.Info("conversation status changed",
		"conversation_id", id,
		"from", previous,
		"to", status,
		"actor", actor.ID)

	l.audit(ctx, updated, statusAuditLine(actor, previous, status), map[string]any{
		"event":           "status_changed",
		"previous_status": string(previous),
		"status":          string(status),
	})

	data := ConversationData(updated)
	data["previous_status"] = string(previous)
	data["actor_id"] = actor.ID
	note := realtime.Notification{
		Type:    realtime.EventConversationStatusChanged,
		Title:   "Conversation " + string(status),
		Message: statusAuditLine(actor, previous, status),
		Data:    data,
	}
	if status == store.StatusResolved {
		note.Type = realtime.EventConversationResolved
		note.Title = "Conversation resolved"
	}
	l.notifier.NotifyAgents(updated.InboxID, note)

	return updated, nil
}

// Assign sets the conversation's assignee. An empty agentID unassigns.
func (l *Lifecycle) Assign(ctx context.Context, actor Actor, id, agentID string) (*store.Conversation, error) {
	conv, err := loadConversation(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	previous := conv.AssignedAgentID
	if previous == agentID {
		return conv, nil
	}

	if agentID != "" && l.opts.EnforceAssignmentEdge {
		ok, err := l.store.HasInboxAgent(ctx, conv.InboxID, agentID)
		if err != nil {
			return nil, fmt.Errorf("%w: checking inbox membership: %w", ErrStorage, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s not in %s", ErrAssigneeNotInInbox, agentID, conv.InboxID)
		}
	}

	updated, err := l.store.SetConversationAssignee(ctx, id, agentID, l.now().UTC())
	if err != nil {
		return nil, l.writeError(conv, err)
	}

	l.logger.Info("conversation assignment changed",
		"conversation_id", id,
		"from", previous,
		"to", agentID,
		"actor", actor.ID)

	line := assignAuditLine(actor, agentID)
	l.audit(ctx, updated, line, map[string]any{
		"event":             "assignment_changed",
		"previous_agent_id": previous,
		"assigned_agent_id": agentID,
	})

	data := ConversationData(updated)
	data["previous_agent_id"] = previous
	data["actor_id"] = actor.ID
	note := realtime.Notification{
		Type:    realtime.EventConversationAssigned,
		Title:   "Conversation assigned",
		Message: line,
		Data:    data,
	}
	l.notifier.NotifyAgents(updated.InboxID, note)
	if agentID != "" {
		l.notifier.NotifyAgent(agentID, note)
	}

	return updated, nil
}

// SetPriority changes the conversation's priority.
func (l *Lifecycle) SetPriority(ctx context.Context, actor Actor, id string, priority store.Priority) (*store.Conversation, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	conv, err := loadConversation(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	previous := conv.Priority
	if previous == priority {
		return conv, nil
	}

	updated, err := l.store.SetConversationPriority(ctx, id, priority, l.now().UTC())
	if err != nil {
		return nil, l.writeError(conv, err)
	}

	line := fmt.Sprintf("Priority changed from %s to %s by %s", previous, priority, actor.label())
	l.audit(ctx, updated, line, map[string]any{
		"event":             "priority_changed",
		"previous_priority": string(previous),
		"priority":          string(priority),
	})

	data := ConversationData(updated)
	data["previous_priority"] = string(previous)
	data["actor_id"] = actor.ID
	l.notifier.NotifyAgents(updated.InboxID, realtime.Notification{
		Type:    realtime.EventConversationPriorityChanged,
		Title:   "Priority changed",
		Message: line,
		Data:    data,
	})

	return updated, nil
}

// Reply records an agent-authored message, or a private note when
// req.Private is set.
func (l *Lifecycle) Reply(ctx context.Context, actor Actor, id string, req ReplyRequest) (*store.Message, error) {
	conv, err := loadConversation(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	res, err := l.messages.Append(ctx, AppendRequest{
		ConversationID: conv.ID,
		InboxID:        conv.InboxID,
		SenderType:     store.SenderAgent,
		SenderID:       actor.ID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		IsPrivate:      req.Private,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return res.Message, nil
}

// MarkSeen records that an agent has read the conversation up to now.
func (l *Lifecycle) MarkSeen(ctx context.Context, actor Actor, id string) (*store.Conversation, error) {
	conv, err := loadConversation(ctx, l.store, id)
	if err != nil {
		return nil, err
	}
	updated, err := l.store.MarkConversationSeen(ctx, id, l.now().UTC())
	if err != nil {
		return nil, l.writeError(conv, err)
	}
	l.logger.Debug("conversation seen", "conversation_id", id, "actor", actor.ID)
	return updated, nil
}

// writeError maps a failed conversation write to the package's errors.
func (l *Lifecycle) writeError(conv *store.Conversation, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conv.ID)
	case errors.Is(err, store.ErrStale):
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, conv.ID)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: contact %s in inbox %s", ErrConflict, conv.ContactID, conv.InboxID)
	default:
		return fmt.Errorf("%w: updating conversation: %w", ErrStorage, err)
	}
}

// audit appends a system message. Failures are logged only.
func (l *Lifecycle) audit(ctx context.Context, conv *store.Conversation, line string, metadata map[string]any) {
	_, err := l.messages.Append(ctx, AppendRequest{
		ConversationID: conv.ID,
		InboxID:        conv.InboxID,
		SenderType:     store.SenderSystem,
		Content:        line,
		MessageType:    store.MessageTypeSystem,
		Metadata:       metadata,
	})
	if err != nil {
		l.logger.Warn("audit message not recorded",
			"conversation_id", conv.ID,
			"error", err)
	}
}

func statusAuditLine(actor Actor, from, to store.ConversationStatus) string {
	switch {
	case to == store.StatusResolved:
		return "Conversation resolved by " + actor.label()
	case from == store.StatusResolved && to == store.StatusOpen:
		return "Conversation reopened by " + actor.label()
	case to == store.StatusSnoozed:
		return "Conversation snoozed by " + actor.label()
	default:
		return fmt.Sprintf("Status changed from %s to %s by %s", from, to, actor.label())
	}
}

func assignAuditLine(actor Actor, agentID string) string {
	if agentID == "" {
		return "Conversation unassigned by " + actor.label()
	}
	return fmt.Sprintf("Assigned to %s by %s", agentID, actor.label())
}
