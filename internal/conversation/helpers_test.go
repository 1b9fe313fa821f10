// ABOUTME: Shared fixtures for conversation package tests
// ABOUTME: Seeds a MockStore and records notifications

package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

type sentNotification struct {
	Topic string
	Type  string
	Data  map[string]any
}

// recordingNotifier captures notifications. Set fail to make every publish
// report failure.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail bool
}

func (r *recordingNotifier) record(topic, typ string, data map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{Topic: topic, Type: typ, Data: data})
	return !r.fail
}

func (r *recordingNotifier) NotifyAgents(inboxID string, n realtime.Notification) bool {
	return r.record(realtime.InboxTopic(inboxID), n.Type, n.Data)
}

func (r *recordingNotifier) NotifyAgent(agentID string, n realtime.Notification) bool {
	return r.record(realtime.AgentTopic(agentID), n.Type, n.Data)
}

func (r *recordingNotifier) NotifyConversation(conversationID string, ev realtime.Event) bool {
	return r.record(realtime.ConversationTopic(conversationID), ev.Type, ev.Data)
}

// ofType returns notifications of the given type.
func (r *recordingNotifier) ofType(typ string) []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNotification
	for _, n := range r.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	store    *store.MockStore
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s := store.NewMockStore()
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, s.CreateInbox(ctx, &store.Inbox{ID: "inbox-1", Name: "Support", Provider: "evolution", CreatedAt: now}))
	require.NoError(t, s.CreateInbox(ctx, &store.Inbox{ID: "inbox-2", Name: "Sales", Provider: "evolution", CreatedAt: now}))
	for _, id := range []string{"contact-1", "contact-2"} {
		require.NoError(t, s.CreateContact(ctx, &store.Contact{
			ID:         id,
			ExternalID: id + "@s.whatsapp.net",
			Platform:   store.PlatformWhatsApp,
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}

	n := &recordingNotifier{}
	return &fixture{store: s, notifier: n, svc: New(s, n, opts, nil)}
}

// openConversation routes contact-1 into inbox-1.
func (f *fixture) openConversation(t *testing.T) *store.Conversation {
	t.Helper()
	conv, created, err := f.svc.Router.Route(t.Context(), "inbox-1", "contact-1")
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func (f *fixture) systemMessages(t *testing.T, convID string) []*store.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(t.Context(), convID, store.MessageFilter{IncludePrivate: true})
	require.NoError(t, err)
	var out []*store.Message
	for _, m := range msgs {
		if m.SenderType == store.SenderSystem {
			out = append(out, m)
		}
	}
	return out
}
