// ABOUTME: Errors returned by the ingest pipeline
// ABOUTME: The HTTP layer maps these to 400, 401, 404 and 503 responses

package ingest

import (
	"errors"

	"github.com/2389/coven-inbox/internal/channel"
)

var (
	// ErrInboxNotFound is returned when the webhook targets an unknown inbox.
	ErrInboxNotFound = errors.New("inbox not found")
	// ErrUnauthorized is returned when the inbox requires a webhook token
	// and the delivery's token does not match.
	ErrUnauthorized = errors.New("invalid webhook token")
	// ErrInFlight is returned when another delivery of the same provider
	// message is still being processed. The provider should redeliver.
	ErrInFlight = errors.New("delivery already in flight")

	// ErrInvalidPayload and ErrUnknownProvider are re-exported from channel.
	ErrInvalidPayload  = channel.ErrInvalidPayload
	ErrUnknownProvider = channel.ErrUnknownProvider
)
