// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing. It enforces
// the same uniqueness rules as SQLiteStore. The *Err fields inject failures.
type MockStore struct {
	mu            sync.RWMutex
	inboxes       map[string]*Inbox
	edges         map[string]*InboxAgent   // keyed by "inboxID:agentID"
	contacts      map[string]*Contact      // keyed by contact ID
	contactIndex  map[string]string        // keyed by "platform:externalID" -> contact ID
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
	externalIndex map[string]*Message      // keyed by "inboxID:externalID"

	CreateContactErr      error
	UpdateContactErr      error
	CreateConversationErr error
	GetConversationErr    error
	UpdateConversationErr error
	// AppendMessageHook runs before each append; a non-nil return fails it.
	AppendMessageHook func(msg *Message) error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		inboxes:       make(map[string]*Inbox),
		edges:         make(map[string]*InboxAgent),
		contacts:      make(map[string]*Contact),
		contactIndex:  make(map[string]string),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		externalIndex: make(map[string]*Message),
	}
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// CreateInbox stores a new inbox.
func (m *MockStore) CreateInbox(ctx context.Context, inbox *Inbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inboxes[inbox.ID]; ok {
		return ErrConflict
	}
	i := *inbox
	m.inboxes[i.ID] = &i
	return nil
}

// GetInbox retrieves an inbox by ID.
func (m *MockStore) GetInbox(ctx context.Context, id string) (*Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.inboxes[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *i
	return &result, nil
}

// ListInboxes returns all inboxes, oldest first.
func (m *MockStore) ListInboxes(ctx context.Context) ([]*Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inboxes := make([]*Inbox, 0, len(m.inboxes))
	for _, i := range m.inboxes {
		c := *i
		inboxes = append(inboxes, &c)
	}
	sort.Slice(inboxes, func(a, b int) bool {
		return inboxes[a].CreatedAt.Before(inboxes[b].CreatedAt)
	})
	return inboxes, nil
}

// AddInboxAgent stores an inbox-agent edge.
func (m *MockStore) AddInboxAgent(ctx context.Context, edge *InboxAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inboxes[edge.InboxID]; !ok {
		return ErrNotFound
	}
	key := edge.InboxID + ":" + edge.AgentID
	if _, ok := m.edges[key]; ok {
		return ErrConflict
	}
	e := *edge
	m.edges[key] = &e
	return nil
}

// RemoveInboxAgent deletes an inbox-agent edge.
func (m *MockStore) RemoveInboxAgent(ctx context.Context, inboxID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inboxID + ":" + agentID
	if _, ok := m.edges[key]; !ok {
		return ErrNotFound
	}
	delete(m.edges, key)
	return nil
}

// ListInboxAgents returns the edges of an inbox.
func (m *MockStore) ListInboxAgents(ctx context.Context, inboxID string) ([]*InboxAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var edges []*InboxAgent
	for _, e := range m.edges {
		if e.InboxID == inboxID {
			c := *e
			edges = append(edges, &c)
		}
	}
	sort.Slice(edges, func(a, b int) bool {
		return edges[a].AgentID < edges[b].AgentID
	})
	return edges, nil
}

// HasInboxAgent reports whether the edge exists.
func (m *MockStore) HasInboxAgent(ctx context.Context, inboxID, agentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.edges[inboxID+":"+agentID]
	return ok, nil
}

// CreateContact stores a new contact.
func (m *MockStore) CreateContact(ctx context.Context, contact *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateContactErr != nil {
		return m.CreateContactErr
	}
	key := string(contact.Platform) + ":" + contact.ExternalID
	if _, ok := m.contactIndex[key]; ok {
		return ErrConflict
	}
	c := copyContact(contact)
	m.contacts[c.ID] = c
	m.contactIndex[key] = c.ID
	return nil
}

// GetContact retrieves a contact by ID.
func (m *MockStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(c), nil
}

// GetContactByIdentity retrieves a contact by its identity key.
func (m *MockStore) GetContactByIdentity(ctx context.Context, externalID string, platform Platform) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.contactIndex[string(platform)+":"+externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(m.contacts[id]), nil
}

// UpdateContact replaces the stored profile fields.
func (m *MockStore) UpdateContact(ctx context.Context, contact *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateContactErr != nil {
		return m.UpdateContactErr
	}
	existing, ok := m.contacts[contact.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyContact(contact)
	updated.ExternalID = existing.ExternalID
	updated.Platform = existing.Platform
	updated.CreatedAt = existing.CreatedAt
	m.contacts[contact.ID] = updated
	return nil
}

func copyContact(c *Contact) *Contact {
	out := *c
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// activeFor returns the ID of an active conversation for the pair other
// than excludeID. Must be called with mu held.
func (m *MockStore) activeFor(inboxID, contactID, excludeID string) string {
	for id, c := range m.conversations {
		if id != excludeID && c.InboxID == inboxID && c.ContactID == contactID && c.Status.Active() {
			return id
		}
	}
	return ""
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateConversationErr != nil {
		return m.CreateConversationErr
	}
	if _, ok := m.inboxes[conv.InboxID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.contacts[conv.ContactID]; !ok {
		return ErrNotFound
	}
	if conv.Status.Active() && m.activeFor(conv.InboxID, conv.ContactID, "") != "" {
		return ErrConflict
	}
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetConversationErr != nil {
		return nil, m.GetConversationErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// FindActiveConversation returns the newest active conversation for the pair.
func (m *MockStore) FindActiveConversation(ctx context.Context, inboxID, contactID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest *Conversation
	for _, c := range m.conversations {
		if c.InboxID != inboxID || c.ContactID != contactID || !c.Status.Active() {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	result := *newest
	return &result, nil
}

// ListConversations filters and pages conversations by last activity.
func (m *MockStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := []*Conversation{}
	for _, c := range m.conversations {
		if c.InboxID != filter.InboxID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Unassigned && c.AssignedAgentID != "" {
			continue
		}
		if !filter.Unassigned && filter.AssignedAgentID != "" && c.AssignedAgentID != filter.AssignedAgentID {
			continue
		}
		cc := *c
		matched = append(matched, &cc)
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].LastMessageAt.Equal(matched[b].LastMessageAt) {
			return matched[a].LastMessageAt.After(matched[b].LastMessageAt)
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})
	return page(matched, filter.Limit, filter.Offset), nil
}

// UpdateConversationStatus is a compare-and-set on status.
func (m *MockStore) UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus, resolvedAt *time.Time, at time.Time) (*Conversation, error) {
	return m.updateConversation(id, func(c *Conversation) error {
		if c.Status != from {
			return ErrStale
		}
		if to.Active() && m.activeFor(c.InboxID, c.ContactID, c.ID) != "" {
			return ErrConflict
		}
		c.Status = to
		c.ResolvedAt = copyTime(resolvedAt)
		c.UpdatedAt = at
		return nil
	})
}

// SetConversationAssignee writes the assignee only.
func (m *MockStore) SetConversationAssignee(ctx context.Context, id, agentID string, at time.Time) (*Conversation, error) {
	return m.updateConversation(id, func(c *Conversation) error {
		c.AssignedAgentID = agentID
		c.UpdatedAt = at
		return nil
	})
}

// SetConversationPriority writes the priority only.
func (m *MockStore) SetConversationPriority(ctx context.Context, id string, priority Priority, at time.Time) (*Conversation, error) {
	return m.updateConversation(id, func(c *Conversation) error {
		c.Priority = priority
		c.UpdatedAt = at
		return nil
	})
}

// MarkConversationSeen writes AgentLastSeenAt only.
func (m *MockStore) MarkConversationSeen(ctx context.Context, id string, at time.Time) (*Conversation, error) {
	return m.updateConversation(id, func(c *Conversation) error {
		c.AgentLastSeenAt = copyTime(&at)
		return nil
	})
}

// updateConversation applies mutate to a copy of the stored row under the
// write lock and keeps it only when mutate succeeds.
func (m *MockStore) updateConversation(id string, mutate func(c *Conversation) error) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateConversationErr != nil {
		return nil, m.UpdateConversationErr
	}
	existing, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *existing
	if err := mutate(&next); err != nil {
		return nil, err
	}
	m.conversations[id] = &next
	result := next
	return &result, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AppendMessage records msg and bumps the conversation's LastMessageAt.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendMessageHook != nil {
		if err := m.AppendMessageHook(msg); err != nil {
			return err
		}
	}
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ExternalID != "" {
		if _, dup := m.externalIndex[msg.InboxID+":"+msg.ExternalID]; dup {
			return ErrDuplicateMessage
		}
	}

	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	if msg.ExternalID != "" {
		m.externalIndex[msg.InboxID+":"+msg.ExternalID] = &stored
	}
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
	conv.UpdatedAt = time.Now()
	return nil
}

// GetMessageByExternalID looks up an inbound message by provider ID.
func (m *MockStore) GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.externalIndex[inboxID+":"+externalID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// orderedMessages returns a conversation's messages by CreatedAt, ties in
// insertion order. Must be called with mu held.
func (m *MockStore) orderedMessages(conversationID string, includePrivate bool) []*Message {
	var out []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.IsPrivate && !includePrivate {
			continue
		}
		c := *msg
		out = append(out, &c)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// ListMessages returns a page of messages oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, filter MessageFilter) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.orderedMessages(conversationID, filter.IncludePrivate)
	result := page(msgs, filter.Limit, filter.Offset)
	if result == nil {
		result = []*Message{}
	}
	return result, nil
}

// GetLastMessage returns the newest message of a conversation.
func (m *MockStore) GetLastMessage(ctx context.Context, conversationID string, includePrivate bool) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.orderedMessages(conversationID, includePrivate)
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

// CountUnread counts contact messages newer than since.
func (m *MockStore) CountUnread(ctx context.Context, conversationID string, since *time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages[conversationID] {
		if msg.SenderType != SenderContact {
			continue
		}
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		count++
	}
	return count, nil
}

// MessageCount returns the number of stored messages across all
// conversations, private notes included.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msgs := range m.messages {
		n += len(msgs)
	}
	return n
}

func page[T any](items []T, limit, offset int) []T {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
