// ABOUTME: Tests for MockStore
// ABOUTME: Verifies the mock enforces the same uniqueness rules as SQLiteStore

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_MirrorsConstraints(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()
	conv := seedConversation(t, m)

	dup := newConversation("conv-2", conv.InboxID, conv.ContactID, StatusSnoozed, time.Now())
	assert.ErrorIs(t, m.CreateConversation(ctx, dup), ErrConflict)

	msg := newMessage("m-1", conv, SenderContact, "hi", time.Now())
	msg.ExternalID = "ext-1"
	require.NoError(t, m.AppendMessage(ctx, msg))

	replay := newMessage("m-2", conv, SenderContact, "hi", time.Now())
	replay.ExternalID = "ext-1"
	assert.ErrorIs(t, m.AppendMessage(ctx, replay), ErrDuplicateMessage)
	assert.Equal(t, 1, m.MessageCount())

	_, err := m.GetContactByIdentity(ctx, "jid-1", PlatformWhatsApp)
	require.NoError(t, err)
	assert.ErrorIs(t, m.CreateContact(ctx, &Contact{ID: "x", ExternalID: "jid-1", Platform: PlatformWhatsApp}), ErrConflict)
}

func TestMockStore_ErrorInjection(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()
	conv := seedConversation(t, m)

	boom := errors.New("disk on fire")
	m.AppendMessageHook = func(msg *Message) error {
		if msg.SenderType == SenderSystem {
			return boom
		}
		return nil
	}

	err := m.AppendMessage(ctx, newMessage("m-1", conv, SenderSystem, "audit", time.Now()))
	assert.ErrorIs(t, err, boom)
	require.NoError(t, m.AppendMessage(ctx, newMessage("m-2", conv, SenderContact, "hello", time.Now())))

	m.UpdateConversationErr = boom
	_, err = m.SetConversationPriority(ctx, conv.ID, PriorityHigh, time.Now())
	assert.ErrorIs(t, err, boom)
	_, err = m.UpdateConversationStatus(ctx, conv.ID, conv.Status, StatusResolved, nil, time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestMockStore_StatusCompareAndSet(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()
	conv := seedConversation(t, m)
	require.Equal(t, StatusOpen, conv.Status)

	now := time.Now()
	_, err := m.UpdateConversationStatus(ctx, conv.ID, StatusOpen, StatusResolved, &now, now)
	require.NoError(t, err)

	_, err = m.UpdateConversationStatus(ctx, conv.ID, StatusOpen, StatusPending, nil, time.Now())
	assert.ErrorIs(t, err, ErrStale)

	_, err = m.SetConversationAssignee(ctx, conv.ID, "agent-1", time.Now())
	require.NoError(t, err)
	got, err := m.MarkConversationSeen(ctx, conv.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "agent-1", got.AssignedAgentID)

	_, err = m.UpdateConversationStatus(ctx, "missing", StatusOpen, StatusPending, nil, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_ListMessagesCopies(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()
	conv := seedConversation(t, m)
	require.NoError(t, m.AppendMessage(ctx, newMessage("m-1", conv, SenderContact, "original", time.Now())))

	msgs, err := m.ListMessages(ctx, conv.ID, MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msgs[0].Content = "mutated"

	again, err := m.ListMessages(ctx, conv.ID, MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}
