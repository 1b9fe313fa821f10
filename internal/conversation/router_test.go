// ABOUTME: Tests for conversation routing
// ABOUTME: Covers thread reuse, rollover after resolution and creation races

package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/store"
)

func TestRoute_OpensNewConversation(t *testing.T) {
	f := newFixture(t, Options{})

	conv := f.openConversation(t)
	assert.Equal(t, store.StatusOpen, conv.Status)
	assert.Equal(t, store.PriorityNormal, conv.Priority)
	assert.Empty(t, conv.AssignedAgentID)
	assert.Nil(t, conv.ResolvedAt)
}

func TestRoute_ReusesActiveThread(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	first := f.openConversation(t)

	for _, status := range []store.ConversationStatus{store.StatusOpen, store.StatusPending, store.StatusSnoozed} {
		t.Run(string(status), func(t *testing.T) {
			if status != store.StatusOpen {
				_, err := f.svc.Lifecycle.UpdateStatus(ctx, AgentActor("agent-1"), first.ID, status)
				require.NoError(t, err)
			}
			again, created, err := f.svc.Router.Route(ctx, "inbox-1", "contact-1")
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, again.ID)
		})
	}
}

func TestRoute_RolloverAfterResolved(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	first := f.openConversation(t)

	_, err := f.svc.Lifecycle.UpdateStatus(ctx, AgentActor("agent-1"), first.ID, store.StatusResolved)
	require.NoError(t, err)

	next, created, err := f.svc.Router.Route(ctx, "inbox-1", "contact-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, store.StatusOpen, next.Status)

	old, err := f.store.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, old.Status)
}

func TestRoute_ThreadsAreScopedToInbox(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	first := f.openConversation(t)

	other, created, err := f.svc.Router.Route(ctx, "inbox-2", "contact-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRoute_UnknownInbox(t *testing.T) {
	f := newFixture(t, Options{})
	_, _, err := f.svc.Router.Route(t.Context(), "missing", "contact-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoute_StorageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.CreateConversationErr = errors.New("database is locked")

	_, _, err := f.svc.Router.Route(t.Context(), "inbox-1", "contact-1")
	assert.ErrorIs(t, err, ErrStorage)
}

// racingStore lets another request open the thread between our lookup and
// our insert.
type racingStore struct {
	*store.MockStore
	raced bool
}

func (r *racingStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	if !r.raced {
		r.raced = true
		winner := *conv
		winner.ID = "winner"
		if err := r.MockStore.CreateConversation(ctx, &winner); err != nil {
			return err
		}
	}
	return r.MockStore.CreateConversation(ctx, conv)
}

func TestRoute_LostRaceReturnsWinner(t *testing.T) {
	f := newFixture(t, Options{})
	rs := &racingStore{MockStore: f.store}
	router := NewRouter(rs, nil)

	conv, created, err := router.Route(t.Context(), "inbox-1", "contact-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", conv.ID)
}
