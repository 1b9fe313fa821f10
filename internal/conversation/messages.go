// ABOUTME: Messages service appends to and reads a conversation's message log
// ABOUTME: Appends are idempotent on provider external IDs per inbox

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// AppendRequest describes one message to record.
type AppendRequest struct {
	ConversationID string
	// InboxID is looked up from the conversation when empty.
	InboxID     string
	SenderType  store.SenderType
	SenderID    string
	Content     string
	MessageType store.MessageType // defaults to text
	ExternalID  string
	IsPrivate   bool
	Metadata    map[string]any
	// CreatedAt defaults to now.
	CreatedAt time.Time
}

// AppendResult is the outcome of Append.
type AppendResult struct {
	Message *store.Message
	// Duplicate is true when ExternalID was already recorded and Message is
	// the earlier copy.
	Duplicate bool
}

// ListOptions narrows List.
type ListOptions struct {
	IncludePrivate bool
	Limit          int
	Offset         int
}

// Messages records and lists conversation messages.
type Messages struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewMessages creates the service. A nil notifier disables notifications.
func NewMessages(s Store, n Notifier, logger *slog.Logger) *Messages {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = nopNotifier{}
	}
	return &Messages{
		store:    s,
		notifier: n,
		logger:   logger.With("component", "messages"),
		now:      time.Now,
	}
}

// Append records a message and advances the conversation's last activity.
// Replaying an ExternalID returns the stored message with Duplicate set.
func (m *Messages) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	if req.MessageType == "" {
		req.MessageType = store.MessageTypeText
	}
	if !req.MessageType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, req.MessageType)
	}
	switch req.SenderType {
	case store.SenderAgent, store.SenderContact, store.SenderSystem:
	default:
		return nil, fmt.Errorf("%w: unknown sender type %q", ErrInvalidMessage, req.SenderType)
	}

	if req.InboxID == "" {
		conv, err := loadConversation(ctx, m.store, req.ConversationID)
		if err != nil {
			return nil, err
		}
		req.InboxID = conv.InboxID
	}

	if req.ExternalID != "" {
		if prior, err := m.store.GetMessageByExternalID(ctx, req.InboxID, req.ExternalID); err == nil {
			return &AppendResult{Message: prior, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: checking external id: %w", ErrStorage, err)
		}
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		InboxID:        req.InboxID,
		SenderType:     req.SenderType,
		SenderID:       req.SenderID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		ExternalID:     req.ExternalID,
		IsPrivate:      req.IsPrivate,
		Metadata:       req.Metadata,
		CreatedAt:      createdAt.UTC(),
	}

	if err := m.store.AppendMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateMessage):
			// A concurrent delivery of the same event won the insert.
			prior, gerr := m.store.GetMessageByExternalID(ctx, req.InboxID, req.ExternalID)
			if gerr != nil {
				return nil, fmt.Errorf("%w: loading duplicate message: %w", ErrStorage, gerr)
			}
			return &AppendResult{Message: prior, Duplicate: true}, nil
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
		default:
			return nil, fmt.Errorf("%w: appending message: %w", ErrStorage, err)
		}
	}

	m.logger.Debug("message appended",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender_type", msg.SenderType,
		"private", msg.IsPrivate)

	m.notifier.NotifyConversation(msg.ConversationID, realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: MessageData(msg),
	})

	return &AppendResult{Message: msg}, nil
}

// List returns a page of messages oldest first. Private notes are excluded
// unless opts.IncludePrivate is set.
func (m *Messages) List(ctx context.Context, conversationID string, opts ListOptions) ([]*store.Message, error) {
	if _, err := loadConversation(ctx, m.store, conversationID); err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conversationID, store.MessageFilter{
		IncludePrivate: opts.IncludePrivate,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %w", ErrStorage, err)
	}
	return msgs, nil
}

func loadConversation(ctx context.Context, s Store, id string) (*store.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %w", ErrStorage, err)
	}
	return conv, nil
}
