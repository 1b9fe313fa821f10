// ABOUTME: Service bundles the router, message log and lifecycle behind one handle
// ABOUTME: Also provides the agent-facing read operations (get, list)

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-inbox/internal/store"
)

// UnassignedFilter is the assigned_agent_id value selecting conversations
// without an assignee.
const UnassignedFilter = "unassigned"

// Options configures New.
type Options struct {
	Lifecycle LifecycleOptions
}

// Service is the conversation layer used by the webhook pipeline and the
// agent API.
type Service struct {
	Router    *Router
	Messages  *Messages
	Lifecycle *Lifecycle

	store  Store
	logger *slog.Logger
}

// New wires a Service. A nil notifier disables notifications.
func New(s Store, n Notifier, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	msgs := NewMessages(s, n, logger)
	return &Service{
		Router:    NewRouter(s, logger),
		Messages:  msgs,
		Lifecycle: NewLifecycle(s, msgs, n, opts.Lifecycle, logger),
		store:     s,
		logger:    logger.With("component", "conversation"),
	}
}

// Filter narrows List.
type Filter struct {
	InboxID string
	Status  string
	// AssignedAgentID matches one agent, or UnassignedFilter.
	AssignedAgentID string
	Limit           int
	Offset          int
}

// Detail is a conversation with its derived read-side fields.
type Detail struct {
	Conversation *store.Conversation
	LastMessage  *store.Message // nil for an empty conversation
	// UnreadCount counts contact messages newer than AgentLastSeenAt.
	UnreadCount int
}

// List returns a page of an inbox's conversations, most recently active first.
func (s *Service) List(ctx context.Context, f Filter) ([]*store.Conversation, error) {
	filter := store.ConversationFilter{
		InboxID: f.InboxID,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
	if f.Status != "" {
		status := store.ConversationStatus(f.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
		}
		filter.Status = status
	}
	switch f.AssignedAgentID {
	case "":
	case UnassignedFilter:
		filter.Unassigned = true
	default:
		filter.AssignedAgentID = f.AssignedAgentID
	}

	if _, err := s.store.GetInbox(ctx, f.InboxID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInboxNotFound, f.InboxID)
		}
		return nil, fmt.Errorf("%w: loading inbox: %w", ErrStorage, err)
	}

	convs, err := s.store.ListConversations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrStorage, err)
	}
	return convs, nil
}

// Get returns a conversation with its last public message and unread count.
// The two derived reads run concurrently.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	conv, err := loadConversation(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Conversation: conv}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		last, err := s.store.GetLastMessage(gctx, id, false)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading last message: %w", err)
		}
		detail.LastMessage = last
		return nil
	})
	g.Go(func() error {
		n, err := s.store.CountUnread(gctx, id, conv.AgentLastSeenAt)
		if err != nil {
			return fmt.Errorf("counting unread: %w", err)
		}
		detail.UnreadCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return detail, nil
}
