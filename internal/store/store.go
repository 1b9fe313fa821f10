// ABOUTME: Store interfaces and data types for coven-inbox persistence
// ABOUTME: Defines Inbox, Contact, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint,
// e.g. a second active conversation for the same inbox and contact.
var ErrConflict = errors.New("conflict")

// ErrDuplicateMessage is returned when a message with the same provider
// external ID is already recorded for the inbox.
var ErrDuplicateMessage = errors.New("message already recorded")

// ErrStale is returned by a guarded write when the stored row no longer
// matches the state the caller read.
var ErrStale = errors.New("stale write")

// Platform identifies the messaging network a contact identity belongs to.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformAPI      Platform = "api"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusPending  ConversationStatus = "pending"
	StatusResolved ConversationStatus = "resolved"
	StatusSnoozed  ConversationStatus = "snoozed"
)

// ActiveStatuses are the non-terminal statuses. At most one conversation per
// (inbox, contact) may hold one of these at a time.
var ActiveStatuses = []ConversationStatus{StatusOpen, StatusPending, StatusSnoozed}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusSnoozed:
		return true
	}
	return false
}

// Active reports whether s is non-terminal.
func (s ConversationStatus) Active() bool {
	return s == StatusOpen || s == StatusPending || s == StatusSnoozed
}

// Priority of a conversation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderAgent   SenderType = "agent"
	SenderContact SenderType = "contact"
	SenderSystem  SenderType = "system"
)

// MessageType is the declared content kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeLocation MessageType = "location"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio,
		MessageTypeVideo, MessageTypeLocation, MessageTypeSystem:
		return true
	}
	return false
}

// Inbox is a named channel endpoint that conversations belong to.
type Inbox struct {
	ID       string
	Name     string
	Provider string
	// WebhookTokenHash is the bcrypt hash of the webhook token, empty when
	// the inbox accepts unauthenticated deliveries.
	WebhookTokenHash string
	CreatedAt        time.Time
}

// RequiresToken reports whether webhook deliveries must carry a token.
func (i *Inbox) RequiresToken() bool {
	return i.WebhookTokenHash != ""
}

// InboxAgent is the capability edge allowing an agent to work an inbox.
type InboxAgent struct {
	InboxID   string
	AgentID   string
	CreatedAt time.Time
}

// Contact is an external party keyed by (ExternalID, Platform).
type Contact struct {
	ID          string
	ExternalID  string
	Platform    Platform
	DisplayName string
	Phone       string
	Email       string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation is a thread between one contact and one inbox.
type Conversation struct {
	ID              string
	InboxID         string
	ContactID       string
	Status          ConversationStatus
	AssignedAgentID string // empty when unassigned
	Priority        Priority
	LastMessageAt   time.Time
	ResolvedAt      *time.Time
	AgentLastSeenAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID             string
	ConversationID string
	InboxID        string
	SenderType     SenderType
	SenderID       string // agent ID for agent messages, contact ID for contact messages
	Content        string
	MessageType    MessageType
	ExternalID     string // provider message ID, inbound only
	IsPrivate      bool
	Metadata       map[string]any
	CreatedAt      time.Time
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	InboxID         string
	Status          ConversationStatus // empty matches all
	AssignedAgentID string             // empty matches all
	Unassigned      bool               // only conversations without an assignee
	Limit           int
	Offset          int
}

// MessageFilter narrows ListMessages.
type MessageFilter struct {
	IncludePrivate bool
	Limit          int
	Offset         int
}

const (
	// DefaultListLimit is applied when a list call passes limit <= 0.
	DefaultListLimit = 50
	// MaxListLimit caps any list call.
	MaxListLimit = 500
)

// ClampLimit normalizes a caller-supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// InboxStore persists inboxes and inbox-agent edges.
type InboxStore interface {
	CreateInbox(ctx context.Context, inbox *Inbox) error
	GetInbox(ctx context.Context, id string) (*Inbox, error)
	ListInboxes(ctx context.Context) ([]*Inbox, error)

	// AddInboxAgent returns ErrConflict if the edge already exists.
	AddInboxAgent(ctx context.Context, edge *InboxAgent) error
	// RemoveInboxAgent returns ErrNotFound if the edge does not exist.
	RemoveInboxAgent(ctx context.Context, inboxID, agentID string) error
	ListInboxAgents(ctx context.Context, inboxID string) ([]*InboxAgent, error)
	HasInboxAgent(ctx context.Context, inboxID, agentID string) (bool, error)
}

// ContactStore persists contacts.
type ContactStore interface {
	// CreateContact returns ErrConflict if (ExternalID, Platform) is taken.
	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetContactByIdentity(ctx context.Context, externalID string, platform Platform) (*Contact, error)
	UpdateContact(ctx context.Context, contact *Contact) error
}

// ConversationStore persists conversations.
type ConversationStore interface {
	// CreateConversation returns ErrConflict if an active conversation
	// already exists for the same inbox and contact.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// FindActiveConversation returns the newest open, pending or snoozed
	// conversation for the pair, or ErrNotFound.
	FindActiveConversation(ctx context.Context, inboxID, contactID string) (*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)

	// Each write below touches only the fields it names and returns the row
	// as stored afterwards, or ErrNotFound.

	// UpdateConversationStatus moves the conversation from status from to
	// status to and sets ResolvedAt. Returns ErrStale if the stored status
	// is no longer from, ErrConflict when reactivating while another thread
	// is active.
	UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus, resolvedAt *time.Time, at time.Time) (*Conversation, error)
	// SetConversationAssignee sets or, with an empty agentID, clears the assignee.
	SetConversationAssignee(ctx context.Context, id, agentID string, at time.Time) (*Conversation, error)
	SetConversationPriority(ctx context.Context, id string, priority Priority, at time.Time) (*Conversation, error)
	// MarkConversationSeen sets AgentLastSeenAt. UpdatedAt is left alone.
	MarkConversationSeen(ctx context.Context, id string, at time.Time) (*Conversation, error)
}

// MessageStore persists the per-conversation message log.
type MessageStore interface {
	// AppendMessage inserts msg and advances the parent conversation's
	// LastMessageAt in one transaction. Returns ErrDuplicateMessage if
	// msg.ExternalID is already recorded for msg.InboxID, ErrNotFound if
	// the conversation does not exist.
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*Message, error)
	// ListMessages returns messages oldest first, ties in insertion order.
	ListMessages(ctx context.Context, conversationID string, filter MessageFilter) ([]*Message, error)
	GetLastMessage(ctx context.Context, conversationID string, includePrivate bool) (*Message, error)
	// CountUnread counts contact messages created after since (all of them
	// when since is nil).
	CountUnread(ctx context.Context, conversationID string, since *time.Time) (int, error)
}

// Store is the full persistence surface used by the inbox core.
type Store interface {
	InboxStore
	ContactStore
	ConversationStore
	MessageStore
	Close() error
}
