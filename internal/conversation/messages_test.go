// ABOUTME: Tests for the Messages service
// ABOUTME: Covers idempotent appends, private note visibility and validation

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

func inbound(convID, externalID, content string) AppendRequest {
	return AppendRequest{
		ConversationID: convID,
		SenderType:     store.SenderContact,
		SenderID:       "contact-1",
		Content:        content,
		ExternalID:     externalID,
	}
}

func TestAppend_IdempotentOnExternalID(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	first, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "m1", "hi"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "inbox-1", first.Message.InboxID)
	assert.Equal(t, store.MessageTypeText, first.Message.MessageType)

	for range 3 {
		again, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "m1", "hi"))
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Message.ID, again.Message.ID)
	}
	assert.Equal(t, 1, f.store.MessageCount())
	assert.Len(t, f.notifier.ofType(realtime.EventMessageCreated), 1)
}

func TestAppend_WithoutExternalIDAlwaysInserts(t *testing.T) {
	f := newFixture(t, Options{})
	conv := f.openConversation(t)

	for range 2 {
		_, err := f.svc.Messages.Append(t.Context(), inbound(conv.ID, "", "hello"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.store.MessageCount())
}

// insertRaceStore reports the external ID as unseen, then loses the insert
// to a concurrent delivery.
type insertRaceStore struct {
	*store.MockStore
	lookups int
}

func (s *insertRaceStore) GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*store.Message, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, store.ErrNotFound
	}
	return s.MockStore.GetMessageByExternalID(ctx, inboxID, externalID)
}

func TestAppend_DuplicateOnInsertReturnsPrior(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	prior, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "m1", "hi"))
	require.NoError(t, err)

	racy := NewMessages(&insertRaceStore{MockStore: f.store}, nil, nil)
	res, err := racy.Append(ctx, inbound(conv.ID, "m1", "hi"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, prior.Message.ID, res.Message.ID)
	assert.Equal(t, 1, f.store.MessageCount())
}

func TestAppend_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	_, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "", "   "))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	req := inbound(conv.ID, "", "x")
	req.MessageType = "sticker"
	_, err = f.svc.Messages.Append(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	req = inbound(conv.ID, "", "x")
	req.SenderType = "robot"
	_, err = f.svc.Messages.Append(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.svc.Messages.Append(ctx, inbound("missing", "", "x"))
	assert.ErrorIs(t, err, ErrConversationNotFound)

	assert.Zero(t, f.store.MessageCount())
}

func TestAppend_StorageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	conv := f.openConversation(t)
	f.store.AppendMessageHook = func(*store.Message) error { return errors.New("disk I/O error") }

	_, err := f.svc.Messages.Append(t.Context(), inbound(conv.ID, "m1", "hi"))
	assert.ErrorIs(t, err, ErrStorage)
}

func TestAppend_AdvancesLastMessageAt(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	later := conv.LastMessageAt.Add(time.Minute)
	req := inbound(conv.ID, "m1", "hi")
	req.CreatedAt = later
	_, err := f.svc.Messages.Append(ctx, req)
	require.NoError(t, err)

	got, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastMessageAt))
}

func TestList_PrivateNotesHiddenByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)
	agent := AgentActor("agent-1")

	_, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "m1", "hi"))
	require.NoError(t, err)
	_, err = f.svc.Lifecycle.Reply(ctx, agent, conv.ID, ReplyRequest{Content: "internal: VIP customer", Private: true})
	require.NoError(t, err)
	_, err = f.svc.Lifecycle.Reply(ctx, agent, conv.ID, ReplyRequest{Content: "hello!"})
	require.NoError(t, err)

	public, err := f.svc.Messages.List(ctx, conv.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, public, 2)
	for _, m := range public {
		assert.False(t, m.IsPrivate)
	}
	assert.Equal(t, "hi", public[0].Content)
	assert.Equal(t, "hello!", public[1].Content)

	all, err := f.svc.Messages.List(ctx, conv.ID, ListOptions{IncludePrivate: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	paged, err := f.svc.Messages.List(ctx, conv.ID, ListOptions{IncludePrivate: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.True(t, paged[0].IsPrivate)

	_, err = f.svc.Messages.List(ctx, "missing", ListOptions{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
