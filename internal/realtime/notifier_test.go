// ABOUTME: Tests for the Notifier
// ABOUTME: Verifies topic routing and best-effort failure reporting

package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topics []string
	events []Event
	result bool
}

func (p *recordingPublisher) Publish(topic string, ev Event) bool {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return p.result
}

func TestNotifier_Routing(t *testing.T) {
	pub := &recordingPublisher{result: true}
	n := NewNotifier(pub, nil)

	assert.True(t, n.NotifyAgents("inbox-1", Notification{
		Type:    EventNewMessage,
		Title:   "New message",
		Message: "hi",
		Data:    map[string]any{"conversation_id": "c-1"},
	}))
	assert.True(t, n.NotifyAgent("agent-7", Notification{Type: EventConversationAssigned}))
	assert.True(t, n.NotifyConversation("c-1", Event{Type: EventMessageCreated}))

	require.Len(t, pub.topics, 3)
	assert.Equal(t, []string{"inbox:inbox-1", "agent:agent-7", "conversation:c-1"}, pub.topics)
	assert.Equal(t, "New message", pub.events[0].Title)
	assert.Equal(t, "hi", pub.events[0].Message)
	assert.Equal(t, "c-1", pub.events[0].Data["conversation_id"])
}

func TestNotifier_FailureReported(t *testing.T) {
	n := NewNotifier(&recordingPublisher{result: false}, nil)
	assert.False(t, n.NotifyAgents("inbox-1", Notification{Type: EventNewMessage}))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.NotifyAgents("inbox-1", Notification{}))
}

func TestNotifier_WithRegistry(t *testing.T) {
	reg := NewRegistry(Options{})
	defer reg.Close()
	sub, ch := chanSubscriber(1)
	_, err := reg.Subscribe(InboxTopic("inbox-1"), sub)
	require.NoError(t, err)

	n := NewNotifier(reg, nil)
	require.True(t, n.NotifyAgents("inbox-1", Notification{Type: EventConversationResolved, Title: "Resolved"}))

	ev := receive(t, ch)
	assert.Equal(t, EventConversationResolved, ev.Type)
	assert.Equal(t, "Resolved", ev.Title)
}
