// ABOUTME: Tests for the subscription registry
// ABOUTME: Covers delivery, isolation of failing subscribers, teardown and introspection

package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chanSubscriber(buf int) (Subscriber, <-chan Event) {
	ch := make(chan Event, buf)
	return SubscriberFunc(func(ctx context.Context, ev Event) error {
		ch <- ev
		return nil
	}), ch
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

type closingSubscriber struct {
	closed atomic.Int32
	err    error
}

func (c *closingSubscriber) Deliver(ctx context.Context, ev Event) error { return nil }

func (c *closingSubscriber) Close() error {
	c.closed.Add(1)
	return c.err
}

func TestRegistry_PublishDelivers(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()

	sub, ch := chanSubscriber(4)
	id, err := reg.Subscribe(InboxTopic("inbox-1"), sub)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	other, otherCh := chanSubscriber(4)
	_, err = reg.Subscribe(InboxTopic("inbox-2"), other)
	require.NoError(t, err)

	ok := reg.Publish(InboxTopic("inbox-1"), Event{Type: EventNewMessage, Data: map[string]any{"k": "v"}})
	assert.True(t, ok)

	ev := receive(t, ch)
	assert.Equal(t, EventNewMessage, ev.Type)
	assert.Equal(t, "inbox:inbox-1", ev.Topic)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	select {
	case ev := <-otherCh:
		t.Fatalf("unexpected event on other topic: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_PublishWithoutSubscribers(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()
	assert.True(t, reg.Publish(ConversationTopic("c-1"), Event{Type: EventMessageCreated}))
}

func TestRegistry_InvalidTopic(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()

	sub, _ := chanSubscriber(1)
	for _, topic := range []string{"", "inbox", "inbox:", "team:1"} {
		_, err := reg.Subscribe(topic, sub)
		assert.ErrorIs(t, err, ErrInvalidTopic, topic)
	}
	assert.False(t, reg.Publish("bogus", Event{}))

	_, err := reg.Subscribe(InboxTopic("x"), nil)
	assert.Error(t, err)
}

func TestRegistry_FailingSubscriberIsolated(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()
	topic := InboxTopic("inbox-1")

	failing := SubscriberFunc(func(ctx context.Context, ev Event) error {
		return errors.New("socket gone")
	})
	panicking := SubscriberFunc(func(ctx context.Context, ev Event) error {
		panic("boom")
	})
	failID, err := reg.Subscribe(topic, failing)
	require.NoError(t, err)
	panicID, err := reg.Subscribe(topic, panicking)
	require.NoError(t, err)
	healthy, ch := chanSubscriber(4)
	_, err = reg.Subscribe(topic, healthy)
	require.NoError(t, err)

	assert.True(t, reg.Publish(topic, Event{Type: EventConversationResolved}))
	assert.Equal(t, EventConversationResolved, receive(t, ch).Type)

	assert.Eventually(t, func() bool {
		failed := map[string]uint64{}
		for _, info := range reg.ListActive() {
			failed[info.ID] = info.Failed
		}
		return failed[failID] == 1 && failed[panicID] == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The panicking subscriber's pump survives and keeps receiving.
	assert.True(t, reg.Publish(topic, Event{Type: EventNewMessage}))
	assert.Equal(t, EventNewMessage, receive(t, ch).Type)
}

func TestRegistry_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	reg := NewRegistry(Options{BufferSize: 1, DeliveryTimeout: time.Second})
	defer reg.Close()
	topic := ConversationTopic("c-1")

	release := make(chan struct{})
	blocked := SubscriberFunc(func(ctx context.Context, ev Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	slowID, err := reg.Subscribe(topic, blocked)
	require.NoError(t, err)
	fast, ch := chanSubscriber(32)
	_, err = reg.Subscribe(topic, fast)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range 10 {
			reg.Publish(topic, Event{Type: EventMessageCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	close(release)

	assert.Equal(t, EventMessageCreated, receive(t, ch).Type)

	var dropped uint64
	for _, info := range reg.ListActive() {
		if info.ID == slowID {
			dropped = info.Dropped
		}
	}
	assert.Positive(t, dropped)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()

	closer := &closingSubscriber{}
	id, err := reg.Subscribe(AgentTopic("agent-1"), closer)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Unsubscribe(id))
	assert.False(t, reg.Unsubscribe(id))
	assert.False(t, reg.Unsubscribe("never-existed"))
	assert.Equal(t, int32(1), closer.closed.Load())
	assert.Empty(t, reg.ListActive())
}

func TestRegistry_SubscribeContext(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()

	ctx, cancel := context.WithCancel(t.Context())
	sub, _ := chanSubscriber(1)
	_, err := reg.SubscribeContext(ctx, InboxTopic("inbox-1"), sub)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	cancel()
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegistry_ListActive(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()

	sub, _ := chanSubscriber(1)
	first, err := reg.Subscribe(InboxTopic("a"), sub)
	require.NoError(t, err)
	second, err := reg.Subscribe(ConversationTopic("b"), sub)
	require.NoError(t, err)

	active := reg.ListActive()
	require.Len(t, active, 2)
	ids := []string{active[0].ID, active[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	topics := []string{active[0].Topic, active[1].Topic}
	assert.ElementsMatch(t, []string{"inbox:a", "conversation:b"}, topics)
}

func TestRegistry_CloseTearsDownAll(t *testing.T) {
	reg := NewRegistry(Options{})

	ok := &closingSubscriber{}
	failing := &closingSubscriber{err: errors.New("already closed")}
	_, err := reg.Subscribe(InboxTopic("a"), ok)
	require.NoError(t, err)
	_, err = reg.Subscribe(InboxTopic("a"), failing)
	require.NoError(t, err)
	_, err = reg.Subscribe(ConversationTopic("b"), ok)
	require.NoError(t, err)

	reg.Close()

	assert.Equal(t, int32(2), ok.closed.Load())
	assert.Equal(t, int32(1), failing.closed.Load())
	assert.Zero(t, reg.Len())
	assert.False(t, reg.Publish(InboxTopic("a"), Event{}))

	sub, _ := chanSubscriber(1)
	_, err = reg.Subscribe(InboxTopic("a"), sub)
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-reg.Done():
	default:
		t.Fatal("Done not closed")
	}

	// Idempotent
	reg.Close()
}

func TestParseTopic(t *testing.T) {
	topic, err := ParseTopic("conversation:abc:def")
	require.NoError(t, err)
	assert.Equal(t, ScopeConversation, topic.Scope)
	assert.Equal(t, "abc:def", topic.ID)
	assert.Equal(t, "conversation:abc:def", topic.String())
}
