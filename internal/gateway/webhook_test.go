// ABOUTME: Tests for the inbound webhook endpoint
// ABOUTME: Covers first contact, replays, token checks, rejections and the new_message notification

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/realtime"
)

func upsertBody(id, text string) string {
	return fmt.Sprintf(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": %q},
			"pushName": "Maria",
			"message": {"conversation": %q},
			"messageTimestamp": 1700000000
		}
	}`, id, text)
}

func (e *testEnv) postWebhook(t *testing.T, inboxID, body string, headers ...string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, "/inboxes/"+inboxID+"/webhooks/evolution", body, headers...)
}

// ingest posts a message to inbox-1 and returns the decoded response.
func (e *testEnv) ingest(t *testing.T, id, text string) WebhookResponse {
	t.Helper()
	resp := e.postWebhook(t, "inbox-1", upsertBody(id, text))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out WebhookResponse
	decode(t, resp, &out)
	require.True(t, out.Success)
	require.NotNil(t, out.Data)
	return out
}

func TestWebhook_FirstContact(t *testing.T) {
	env := newTestEnv(t, nil)
	events := env.subscribe(t, realtime.InboxTopic("inbox-1"))

	out := env.ingest(t, "m1", "hi")

	require.NotNil(t, out.Data.Contact)
	assert.Equal(t, "5511999999999", out.Data.Contact.Phone)
	assert.Equal(t, "5511999999999@s.whatsapp.net", out.Data.Contact.ExternalID)
	assert.Equal(t, "whatsapp", out.Data.Contact.Platform)

	require.NotNil(t, out.Data.Conversation)
	assert.Equal(t, "open", out.Data.Conversation.Status)
	assert.Equal(t, "normal", out.Data.Conversation.Priority)

	require.NotNil(t, out.Data.Message)
	assert.Equal(t, "hi", out.Data.Message.Content)
	assert.Equal(t, "contact", out.Data.Message.SenderType)
	assert.Equal(t, "m1", out.Data.Message.ExternalID)
	_, err := time.Parse(time.RFC3339Nano, out.Data.Message.CreatedAt)
	assert.NoError(t, err, "timestamps are strings")
	assert.False(t, out.Duplicate)

	ev := waitEvent(t, events, realtime.EventNewMessage)
	assert.Equal(t, "New message from Maria", ev.Title)
	assert.Equal(t, out.Data.Conversation.ID, ev.Data["conversation_id"])
}

func TestWebhook_ReplayReturnsPriorResult(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.ingest(t, "m1", "hi")
	second := env.ingest(t, "m1", "hi")

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Data.Message.ID, second.Data.Message.ID)
	assert.Equal(t, first.Data.Conversation.ID, second.Data.Conversation.ID)
	assert.Equal(t, 1, env.store.MessageCount())
}

func TestWebhook_Token(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postWebhook(t, "inbox-2", upsertBody("m1", "hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.postWebhook(t, "inbox-2", upsertBody("m1", "hi"), auth.WebhookTokenHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.store.MessageCount())

	resp = env.postWebhook(t, "inbox-2", upsertBody("m1", "hi"), auth.WebhookTokenHeader, webhookToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.store.MessageCount())
}

func TestWebhook_Ignored(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postWebhook(t, "inbox-1", `{"event":"connection.update","instance":"main","data":{"state":"open"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out WebhookResponse
	decode(t, resp, &out)
	assert.True(t, out.Success)
	assert.True(t, out.Ignored)
	assert.Equal(t, "unsupported_event", out.Reason)
	assert.Nil(t, out.Data)

	echo := strings.Replace(upsertBody("m2", "outbound"), `"fromMe": false`, `"fromMe": true`, 1)
	resp = env.postWebhook(t, "inbox-1", echo)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = WebhookResponse{}
	decode(t, resp, &out)
	assert.True(t, out.Ignored)
	assert.Equal(t, "from_me", out.Reason)

	assert.Equal(t, 0, env.store.MessageCount())
}

func TestWebhook_Rejections(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Ingest.MaxBodyBytes = 2048
	})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown inbox", "/inboxes/nope/webhooks/evolution", upsertBody("m1", "hi"), http.StatusNotFound},
		{"malformed json", "/inboxes/inbox-1/webhooks/evolution", `{"event":`, http.StatusBadRequest},
		{"missing message", "/inboxes/inbox-1/webhooks/evolution", `{"event":"messages.upsert","data":{"key":{"remoteJid":"1@s.whatsapp.net","id":"x"}}}`, http.StatusBadRequest},
		{"unknown provider", "/inboxes/inbox-1/webhooks/telegram", upsertBody("m1", "hi"), http.StatusBadRequest},
		{"too large", "/inboxes/inbox-1/webhooks/evolution", upsertBody("m1", strings.Repeat("x", 4096)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			var body map[string]string
			decode(t, resp, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, 0, env.store.MessageCount())
}

func TestWebhook_ContactStoreFailureIsUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.CreateContactErr = errors.New("database is locked")

	resp := env.do(t, http.MethodPost, "/inboxes/inbox-1/webhooks/evolution", upsertBody("m1", "hi"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.NotContains(t, body["error"], "database is locked")
	assert.Equal(t, 0, env.store.MessageCount())
}

func TestWebhook_AliasProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/inboxes/inbox-1/webhooks/whatsapp", upsertBody("m1", "hi"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/inboxes/inbox-1/webhooks/evolution", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
