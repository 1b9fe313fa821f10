// ABOUTME: Tests for the conversation lifecycle
// ABOUTME: Covers the status state machine, resolvedAt stamping, assignment and best-effort side effects

package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

func TestCanTransition(t *testing.T) {
	all := []store.ConversationStatus{store.StatusOpen, store.StatusPending, store.StatusResolved, store.StatusSnoozed}
	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			want := from != store.StatusResolved || to == store.StatusOpen
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestUpdateStatus_ResolveOpenConversation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	resolved, err := f.svc.Lifecycle.UpdateStatus(ctx, AgentActor("agent-1"), conv.ID, store.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)

	audit := f.systemMessages(t, conv.ID)
	require.Len(t, audit, 1)
	assert.Equal(t, "Conversation resolved by agent-1", audit[0].Content)
	assert.Equal(t, store.MessageTypeSystem, audit[0].MessageType)

	notes := f.notifier.ofType(realtime.EventConversationResolved)
	require.Len(t, notes, 1)
	assert.Equal(t, "inbox:inbox-1", notes[0].Topic)
	assert.Equal(t, conv.ID, notes[0].Data["conversation_id"])
	assert.Equal(t, "open", notes[0].Data["previous_status"])
}

func TestUpdateStatus_ResolvedAtLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	agent := AgentActor("agent-1")
	conv := f.openConversation(t)

	pending, err := f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, store.StatusPending)
	require.NoError(t, err)
	assert.Nil(t, pending.ResolvedAt)

	resolved, err := f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, store.StatusResolved)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)

	reopened, err := f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, store.StatusOpen)
	require.NoError(t, err)
	assert.Equal(t, store.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.ResolvedAt)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResolvedAt)

	audit := f.systemMessages(t, conv.ID)
	require.Len(t, audit, 3)
	assert.Equal(t, "Conversation reopened by agent-1", audit[2].Content)
	assert.Len(t, f.notifier.ofType(realtime.EventConversationStatusChanged), 2)
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	agent := AgentActor("agent-1")
	conv := f.openConversation(t)

	_, err := f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, store.StatusResolved)
	require.NoError(t, err)

	for _, to := range []store.ConversationStatus{store.StatusPending, store.StatusSnoozed} {
		_, err = f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, to)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	_, err = f.svc.Lifecycle.UpdateStatus(ctx, agent, conv.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, stored.Status)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	conv := f.openConversation(t)

	got, err := f.svc.Lifecycle.UpdateStatus(t.Context(), AgentActor("agent-1"), conv.ID, store.StatusOpen)
	require.NoError(t, err)
	assert.Equal(t, store.StatusOpen, got.Status)
	assert.Empty(t, f.systemMessages(t, conv.ID))
	assert.Empty(t, f.notifier.ofType(realtime.EventConversationStatusChanged))
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Lifecycle.UpdateStatus(t.Context(), AgentActor("agent-1"), "missing", store.StatusResolved)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestUpdateStatus_StorageFailureModifiesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	f.store.UpdateConversationErr = errors.New("database is locked")
	_, err := f.svc.Lifecycle.UpdateStatus(ctx, AgentActor("agent-1"), conv.ID, store.StatusResolved)
	assert.ErrorIs(t, err, ErrStorage)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusOpen, stored.Status)
	assert.Nil(t, stored.ResolvedAt)
	assert.Empty(t, f.systemMessages(t, conv.ID))
	assert.Empty(t, f.notifier.ofType(realtime.EventConversationResolved))
}

func TestUpdateStatus_SideEffectFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	f.notifier.fail = true
	f.store.AppendMessageHook = func(m *store.Message) error {
		if m.SenderType == store.SenderSystem {
			return errors.New("audit table unavailable")
		}
		return nil
	}

	got, err := f.svc.Lifecycle.UpdateStatus(ctx, AgentActor("agent-1"), conv.ID, store.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, got.Status)
	assert.Len(t, f.notifier.ofType(realtime.EventConversationResolved), 1)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, stored.Status)
	assert.Empty(t, f.systemMessages(t, conv.ID))
}

func TestUpdateStatus_ReopenConflictsWithNewerThread(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	agent := AgentActor("agent-1")
	first := f.openConversation(t)

	_, err := f.svc.Lifecycle.UpdateStatus(ctx, agent, first.ID, store.StatusResolved)
	require.NoError(t, err)
	_, created, err := f.svc.Router.Route(ctx, "inbox-1", "contact-1")
	require.NoError(t, err)
	require.True(t, created)

	_, err = f.svc.Lifecycle.UpdateStatus(ctx, agent, first.ID, store.StatusOpen)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAssign(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)
	admin := Actor{ID: "admin-1", Name: "Ana", Kind: ActorAgent, Admin: true}

	got, err := f.svc.Lifecycle.Assign(ctx, admin, conv.ID, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, "agent-2", got.AssignedAgentID)

	// Unenforced by default: agent-2 holds no edge for inbox-1.
	ok, err := f.store.HasInboxAgent(ctx, "inbox-1", "agent-2")
	require.NoError(t, err)
	assert.False(t, ok)

	notes := f.notifier.ofType(realtime.EventConversationAssigned)
	require.Len(t, notes, 2)
	assert.Equal(t, "inbox:inbox-1", notes[0].Topic)
	assert.Equal(t, "agent:agent-2", notes[1].Topic)
	assert.Equal(t, "agent-2", notes[0].Data["assigned_agent_id"])

	// Same assignee is a no-op.
	_, err = f.svc.Lifecycle.Assign(ctx, admin, conv.ID, "agent-2")
	require.NoError(t, err)

	unassigned, err := f.svc.Lifecycle.Assign(ctx, admin, conv.ID, "")
	require.NoError(t, err)
	assert.Empty(t, unassigned.AssignedAgentID)

	audit := f.systemMessages(t, conv.ID)
	require.Len(t, audit, 2)
	assert.Equal(t, "Assigned to agent-2 by Ana", audit[0].Content)
	assert.Equal(t, "Conversation unassigned by Ana", audit[1].Content)
	assert.Len(t, f.notifier.ofType(realtime.EventConversationAssigned), 3)
}

func TestAssign_EnforcedEdge(t *testing.T) {
	f := newFixture(t, Options{Lifecycle: LifecycleOptions{EnforceAssignmentEdge: true}})
	ctx := t.Context()
	conv := f.openConversation(t)
	require.NoError(t, f.store.AddInboxAgent(ctx, &store.InboxAgent{InboxID: "inbox-1", AgentID: "agent-1", CreatedAt: time.Now()}))

	_, err := f.svc.Lifecycle.Assign(ctx, AgentActor("admin"), conv.ID, "agent-2")
	assert.ErrorIs(t, err, ErrAssigneeNotInInbox)

	got, err := f.svc.Lifecycle.Assign(ctx, AgentActor("admin"), conv.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AssignedAgentID)

	// Unassigning needs no edge.
	_, err = f.svc.Lifecycle.Assign(ctx, AgentActor("admin"), conv.ID, "")
	require.NoError(t, err)
}

func TestSetPriority(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	got, err := f.svc.Lifecycle.SetPriority(ctx, AgentActor("agent-1"), conv.ID, store.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, store.PriorityUrgent, got.Priority)
	assert.Len(t, f.notifier.ofType(realtime.EventConversationPriorityChanged), 1)

	_, err = f.svc.Lifecycle.SetPriority(ctx, AgentActor("agent-1"), conv.ID, "critical")
	assert.ErrorIs(t, err, ErrInvalidPriority)

	audit := f.systemMessages(t, conv.ID)
	require.Len(t, audit, 1)
	assert.Equal(t, "Priority changed from normal to urgent by agent-1", audit[0].Content)
}

func TestReply(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	msg, err := f.svc.Lifecycle.Reply(ctx, AgentActor("agent-1"), conv.ID, ReplyRequest{Content: "On it!"})
	require.NoError(t, err)
	assert.Equal(t, store.SenderAgent, msg.SenderType)
	assert.Equal(t, "agent-1", msg.SenderID)
	assert.Equal(t, "inbox-1", msg.InboxID)
	assert.False(t, msg.IsPrivate)

	_, err = f.svc.Lifecycle.Reply(ctx, AgentActor("agent-1"), "missing", ReplyRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = f.svc.Lifecycle.Reply(ctx, AgentActor("agent-1"), conv.ID, ReplyRequest{})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()
	conv := f.openConversation(t)

	_, err := f.svc.Messages.Append(ctx, inbound(conv.ID, "m1", "hi"))
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.UnreadCount)

	seen, err := f.svc.Lifecycle.MarkSeen(ctx, AgentActor("agent-1"), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, seen.AgentLastSeenAt)

	detail, err = f.svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, detail.UnreadCount)
}
