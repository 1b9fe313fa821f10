// ABOUTME: Router finds the active thread for a contact or opens a new one
// ABOUTME: Races on first contact are settled by the store's one-active-thread index

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/store"
)

// routeAttempts bounds find-or-create retries after losing a creation race.
const routeAttempts = 3

// Router implements thread reuse and rollover.
type Router struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter creates a Router.
func NewRouter(s Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  s,
		logger: logger.With("component", "router"),
		now:    time.Now,
	}
}

// Route returns the newest open, pending or snoozed conversation for the
// pair, or creates an open one. Resolved conversations are never reused.
// created reports whether a new conversation was opened.
func (r *Router) Route(ctx context.Context, inboxID, contactID string) (*store.Conversation, bool, error) {
	for attempt := 1; attempt <= routeAttempts; attempt++ {
		existing, err := r.store.FindActiveConversation(ctx, inboxID, contactID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: finding active conversation: %w", ErrStorage, err)
		}

		now := r.now().UTC()
		conv := &store.Conversation{
			ID:            uuid.New().String(),
			InboxID:       inboxID,
			ContactID:     contactID,
			Status:        store.StatusOpen,
			Priority:      store.PriorityNormal,
			LastMessageAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = r.store.CreateConversation(ctx, conv)
		switch {
		case err == nil:
			r.logger.Info("conversation opened",
				"conversation_id", conv.ID,
				"inbox_id", inboxID,
				"contact_id", contactID)
			return conv, true, nil
		case errors.Is(err, store.ErrConflict):
			r.logger.Debug("lost conversation creation race, retrying",
				"inbox_id", inboxID,
				"contact_id", contactID,
				"attempt", attempt)
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, false, fmt.Errorf("opening conversation: %w", err)
		default:
			return nil, false, fmt.Errorf("%w: opening conversation: %w", ErrStorage, err)
		}
	}
	return nil, false, fmt.Errorf("%w: no active conversation after %d attempts", ErrStorage, routeAttempts)
}
