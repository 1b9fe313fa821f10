// ABOUTME: Webhook ingestion pipeline from raw provider body to stored message
// ABOUTME: Checks the inbox token, normalizes, claims the delivery, then resolves, routes and appends

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/contact"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// DefaultTimeout bounds one ingestion when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Store defines what the pipeline reads directly from storage.
type Store interface {
	GetInbox(ctx context.Context, id string) (*store.Inbox, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*store.Message, error)
}

// Notifier publishes the new_message notification to an inbox's agents.
type Notifier interface {
	NotifyAgents(inboxID string, n realtime.Notification) bool
}

// Deps are the collaborators the pipeline drives.
type Deps struct {
	Store       Store
	Normalizers *channel.Registry
	Contacts    *contact.Resolver
	Router      *conversation.Router
	Messages    *conversation.Messages
	Notifier    Notifier // optional
	// Window claims deliveries in process. Optional; the durable external
	// ID check applies either way.
	Window *dedupe.Window
}

// Options tune the pipeline.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Delivery is one webhook request.
type Delivery struct {
	InboxID  string
	Provider string
	Token    string
	Body     []byte
}

// Result is the outcome of a handled delivery.
type Result struct {
	Contact      *store.Contact
	Conversation *store.Conversation
	Message      *store.Message

	// ConversationCreated is true when this delivery opened a new thread.
	ConversationCreated bool
	// Ignored deliveries were acknowledged without ingesting anything.
	Ignored bool
	Reason  channel.SkipReason
	// Duplicate is true when the provider message was already recorded.
	Duplicate bool
}

// Pipeline ingests webhook deliveries.
type Pipeline struct {
	deps    Deps
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		deps:    deps,
		timeout: timeout,
		logger:  logger.With("component", "ingest"),
	}
}

// Handle processes one delivery. Authorization and normalization errors are
// returned before anything is written. The work is bounded by the pipeline
// timeout and is not cancelled when the caller goes away, so a slow store
// cannot leave half an ingestion behind a disconnected provider.
func (p *Pipeline) Handle(ctx context.Context, d Delivery) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	inbox, err := p.deps.Store.GetInbox(ctx, d.InboxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInboxNotFound, d.InboxID)
		}
		return nil, fmt.Errorf("%w: loading inbox: %w", conversation.ErrStorage, err)
	}
	if !auth.CheckWebhookToken(inbox.WebhookTokenHash, d.Token) {
		return nil, ErrUnauthorized
	}

	normalizer, ok := p.deps.Normalizers.Lookup(d.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidPayload, ErrUnknownProvider, d.Provider)
	}
	outcome, err := normalizer.Normalize(d.Body)
	if err != nil {
		return nil, err
	}
	if outcome.Skipped() {
		p.logger.Debug("delivery ignored",
			"inbox_id", d.InboxID,
			"provider", d.Provider,
			"event", outcome.Kind,
			"reason", outcome.Skip)
		return &Result{Ignored: true, Reason: outcome.Skip}, nil
	}

	return p.ingest(ctx, inbox, outcome.Event)
}

func (p *Pipeline) ingest(ctx context.Context, inbox *store.Inbox, ev *channel.InboundEvent) (*Result, error) {
	if ev.ProviderMessageID != "" {
		key := inbox.ID + ":" + ev.ProviderMessageID
		if p.deps.Window != nil {
			if !p.deps.Window.Claim(key) {
				return p.replay(ctx, inbox.ID, ev.ProviderMessageID, true)
			}
		}

		res, err := p.replay(ctx, inbox.ID, ev.ProviderMessageID, false)
		if err == nil && res != nil {
			p.finish(key, true)
			return res, nil
		}
		if err != nil {
			p.finish(key, false)
			return nil, err
		}

		res, err = p.record(ctx, inbox, ev)
		p.finish(key, err == nil)
		return res, err
	}

	return p.record(ctx, inbox, ev)
}

// finish completes or releases a delivery claim.
func (p *Pipeline) finish(key string, ok bool) {
	if p.deps.Window == nil {
		return
	}
	if ok {
		p.deps.Window.Complete(key)
	} else {
		p.deps.Window.Release(key)
	}
}

// replay returns the earlier result for an already recorded provider
// message. With inFlight set, a message that is not yet recorded means
// another delivery holds the claim.
func (p *Pipeline) replay(ctx context.Context, inboxID, externalID string, inFlight bool) (*Result, error) {
	prior, err := p.deps.Store.GetMessageByExternalID(ctx, inboxID, externalID)
	if errors.Is(err, store.ErrNotFound) {
		if inFlight {
			p.logger.Warn("redelivery while first delivery in flight",
				"inbox_id", inboxID,
				"external_id", externalID)
			return nil, ErrInFlight
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: checking external id: %w", conversation.ErrStorage, err)
	}
	return p.duplicate(ctx, prior)
}

// duplicate rebuilds the result of the delivery that recorded msg.
func (p *Pipeline) duplicate(ctx context.Context, msg *store.Message) (*Result, error) {
	conv, err := p.deps.Store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %w", conversation.ErrStorage, err)
	}
	c, err := p.deps.Store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading contact: %w", conversation.ErrStorage, err)
	}

	p.logger.Info("duplicate delivery",
		"inbox_id", msg.InboxID,
		"external_id", msg.ExternalID,
		"message_id", msg.ID)

	return &Result{Contact: c, Conversation: conv, Message: msg, Duplicate: true}, nil
}

func (p *Pipeline) record(ctx context.Context, inbox *store.Inbox, ev *channel.InboundEvent) (*Result, error) {
	c, err := p.deps.Contacts.Resolve(ctx, contact.Identity{
		ExternalID:  ev.RemoteIdentity,
		Platform:    ev.Platform,
		DisplayName: ev.DisplayName,
		Phone:       ev.Phone,
		Metadata:    ev.ContactMetadata,
	})
	switch {
	case errors.Is(err, contact.ErrMissingIdentity):
		return nil, fmt.Errorf("%w: %w", channel.ErrInvalidPayload, err)
	case err != nil:
		return nil, fmt.Errorf("%w: resolving contact: %w", conversation.ErrStorage, err)
	}

	conv, created, err := p.deps.Router.Route(ctx, inbox.ID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	metadata := ev.MessageMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if !ev.Timestamp.IsZero() {
		metadata["provider_timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}

	appended, err := p.deps.Messages.Append(ctx, conversation.AppendRequest{
		ConversationID: conv.ID,
		InboxID:        inbox.ID,
		SenderType:     store.SenderContact,
		SenderID:       c.ID,
		Content:        ev.Text,
		MessageType:    ev.Type,
		ExternalID:     ev.ProviderMessageID,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	if appended.Duplicate {
		return p.duplicate(ctx, appended.Message)
	}

	msg := appended.Message
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}

	p.logger.Info("message ingested",
		"inbox_id", inbox.ID,
		"contact_id", c.ID,
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"new_conversation", created,
		"type", msg.MessageType)

	if p.deps.Notifier != nil {
		data := conversation.MessageData(msg)
		data["contact_id"] = c.ID
		data["conversation_status"] = string(conv.Status)
		if conv.AssignedAgentID != "" {
			data["assigned_agent_id"] = conv.AssignedAgentID
		}
		p.deps.Notifier.NotifyAgents(inbox.ID, realtime.Notification{
			Type:    realtime.EventNewMessage,
			Title:   "New message from " + contactLabel(c),
			Message: msg.Content,
			Data:    data,
		})
	}

	return &Result{
		Contact:             c,
		Conversation:        conv,
		Message:             msg,
		ConversationCreated: created,
	}, nil
}

func contactLabel(c *store.Contact) string {
	switch {
	case c.DisplayName != "":
		return c.DisplayName
	case c.Phone != "":
		return c.Phone
	default:
		return c.ExternalID
	}
}
