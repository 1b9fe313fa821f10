// ABOUTME: Contact resolver finds or creates contacts by (external ID, platform)
// ABOUTME: Profile merges are best-effort and never block ingestion

package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/store"
)

// ErrMissingIdentity is returned when Resolve is called without an external ID
// or platform.
var ErrMissingIdentity = errors.New("contact identity requires external id and platform")

// ContactStore defines what the resolver needs from storage
type ContactStore interface {
	CreateContact(ctx context.Context, contact *store.Contact) error
	GetContactByIdentity(ctx context.Context, externalID string, platform store.Platform) (*store.Contact, error)
	UpdateContact(ctx context.Context, contact *store.Contact) error
}

// Identity is the incoming view of a contact carried by one inbound event.
type Identity struct {
	ExternalID  string
	Platform    store.Platform
	DisplayName string
	Phone       string
	Email       string
	// Metadata is merged into the stored bag; incoming keys win.
	Metadata map[string]any
}

// Resolver maps identities to contacts.
type Resolver struct {
	store  ContactStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(s ContactStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "contact"),
		now:    time.Now,
	}
}

// Resolve returns the contact for id, creating it on first sight and merging
// fresher profile fields otherwise. A failed merge is logged and the stored
// contact is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*store.Contact, error) {
	if strings.TrimSpace(id.ExternalID) == "" || id.Platform == "" {
		return nil, ErrMissingIdentity
	}

	existing, err := r.store.GetContactByIdentity(ctx, id.ExternalID, id.Platform)
	switch {
	case err == nil:
		return r.merge(ctx, existing, id), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up contact: %w", err)
	}

	created, err := r.create(ctx, id)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("creating contact: %w", err)
	}

	// Lost a first-contact race: the unique identity index rejected our
	// insert, so the winner's row is authoritative.
	winner, err := r.store.GetContactByIdentity(ctx, id.ExternalID, id.Platform)
	if err != nil {
		return nil, fmt.Errorf("refetching contact after conflict: %w", err)
	}
	r.logger.Debug("contact created concurrently, reusing",
		"contact_id", winner.ID,
		"external_id", id.ExternalID)
	return r.merge(ctx, winner, id), nil
}

func (r *Resolver) create(ctx context.Context, id Identity) (*store.Contact, error) {
	now := r.now().UTC()
	c := &store.Contact{
		ID:          uuid.New().String(),
		ExternalID:  id.ExternalID,
		Platform:    id.Platform,
		DisplayName: strings.TrimSpace(id.DisplayName),
		Phone:       strings.TrimSpace(id.Phone),
		Email:       strings.TrimSpace(id.Email),
		Metadata:    maps.Clone(id.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if err := r.store.CreateContact(ctx, c); err != nil {
		return nil, err
	}
	r.logger.Info("contact created",
		"contact_id", c.ID,
		"platform", c.Platform,
		"external_id", c.ExternalID)
	return c, nil
}

// merge applies fresher fields from id onto existing and persists them when
// anything changed.
func (r *Resolver) merge(ctx context.Context, existing *store.Contact, id Identity) *store.Contact {
	updated := *existing
	updated.Metadata = maps.Clone(existing.Metadata)
	if updated.Metadata == nil {
		updated.Metadata = map[string]any{}
	}

	changed := false
	if v := strings.TrimSpace(id.DisplayName); v != "" && v != existing.DisplayName {
		updated.DisplayName = v
		changed = true
	}
	if v := strings.TrimSpace(id.Phone); v != "" && v != existing.Phone {
		updated.Phone = v
		changed = true
	}
	if v := strings.TrimSpace(id.Email); v != "" && v != existing.Email {
		updated.Email = v
		changed = true
	}
	for k, v := range id.Metadata {
		if old, ok := updated.Metadata[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		updated.Metadata[k] = v
		changed = true
	}

	if !changed {
		return existing
	}

	updated.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateContact(ctx, &updated); err != nil {
		r.logger.Warn("contact profile merge failed, continuing with stored profile",
			"contact_id", existing.ID,
			"error", err)
		return existing
	}
	return &updated
}
