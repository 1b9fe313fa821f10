// ABOUTME: Canonical inbound event produced by channel normalizers
// ABOUTME: Also defines the Normalizer interface and the provider registry

package channel

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/2389/coven-inbox/internal/store"
)

// ErrInvalidPayload is returned for structurally malformed webhook bodies.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrUnknownProvider is returned by Registry.Lookup callers that need an error.
var ErrUnknownProvider = errors.New("unknown provider")

// SkipReason explains why a delivery was accepted but not ingested.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipUnsupportedEvent SkipReason = "unsupported_event"
	SkipFromMe           SkipReason = "from_me"
)

// InboundEvent is a provider-neutral inbound message.
type InboundEvent struct {
	Provider string
	Instance string

	RemoteIdentity string // provider-scoped address, the contact's external ID
	Platform       store.Platform
	DisplayName    string
	Phone          string

	Content Content
	Text    string            // Extract(Content)
	Type    store.MessageType // Classify(Content)

	ProviderMessageID string
	Timestamp         time.Time

	// ContactMetadata is merged into the contact's metadata bag.
	ContactMetadata map[string]any
	// MessageMetadata is stored on the message.
	MessageMetadata map[string]any

	Raw json.RawMessage
}

// Outcome is the result of normalizing one delivery. Exactly one of Event
// and Skip is set.
type Outcome struct {
	Event *InboundEvent
	Skip  SkipReason
	Kind  string // provider event name, for logging
}

// Skipped reports whether the delivery should be acknowledged and dropped.
func (o Outcome) Skipped() bool {
	return o.Skip != SkipNone
}

// Normalizer turns one provider's raw webhook body into an Outcome. It must
// not perform I/O.
type Normalizer interface {
	Normalize(body []byte) (Outcome, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(body []byte) (Outcome, error)

// Normalize calls f.
func (f NormalizerFunc) Normalize(body []byte) (Outcome, error) {
	return f(body)
}

// Registry maps the {provider} webhook path segment to a Normalizer.
// It is built once at startup and read concurrently afterwards.
type Registry struct {
	normalizers map[string]Normalizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]Normalizer)}
}

// DefaultRegistry returns a registry with the built-in providers:
// "evolution" and its alias "whatsapp".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	evo := NewEvolutionNormalizer()
	r.Register("evolution", evo)
	r.Register("whatsapp", evo)
	return r
}

// Register adds or replaces a provider. Not safe for use after serving starts.
func (r *Registry) Register(provider string, n Normalizer) {
	r.normalizers[strings.ToLower(provider)] = n
}

// Lookup finds the normalizer for provider, case-insensitively.
func (r *Registry) Lookup(provider string) (Normalizer, bool) {
	n, ok := r.normalizers[strings.ToLower(provider)]
	return n, ok
}

// Providers lists registered provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
