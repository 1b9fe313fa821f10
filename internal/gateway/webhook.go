// ABOUTME: Inbound channel webhook endpoint
// ABOUTME: POST /inboxes/{inboxId}/webhooks/{provider} feeds the ingestion pipeline

package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/ingest"
)

// handleWebhook handles POST /inboxes/{inboxId}/webhooks/{provider}.
// Providers always receive a definitive status: 200 for ingested, duplicate
// and ignored deliveries, 4xx for rejected ones, 503 when redelivery is safe.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	inboxID := r.PathValue("inboxId")
	provider := r.PathValue("provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Ingest.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := g.pipeline.Handle(r.Context(), ingest.Delivery{
		InboxID:  inboxID,
		Provider: provider,
		Token:    r.Header.Get(auth.WebhookTokenHeader),
		Body:     body,
	})
	if err != nil {
		if status := statusFor(err); status < http.StatusInternalServerError {
			g.logger.Warn("webhook rejected",
				"inbox_id", inboxID,
				"provider", provider,
				"status", status,
				"error", err)
		}
		g.sendServiceError(w, "webhook ingestion", err)
		return
	}

	if res.Ignored {
		g.writeJSON(w, http.StatusOK, WebhookResponse{Success: true, Ignored: true, Reason: string(res.Reason)})
		return
	}

	data := &WebhookData{Contact: toContactResponse(res.Contact)}
	if res.Conversation != nil {
		conv := toConversationResponse(res.Conversation)
		data.Conversation = &conv
	}
	if res.Message != nil {
		msg := toMessageResponse(res.Message)
		data.Message = &msg
	}
	g.writeJSON(w, http.StatusOK, WebhookResponse{Success: true, Data: data, Duplicate: res.Duplicate})
}
