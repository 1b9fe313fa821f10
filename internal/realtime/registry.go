// ABOUTME: Subscription registry with per-subscriber delivery queues
// ABOUTME: Publish never blocks on, or fails because of, an individual subscriber

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("registry closed")

const (
	// DefaultBufferSize is the per-subscription queue length.
	DefaultBufferSize = 64
	// DefaultDeliveryTimeout bounds a single Deliver call.
	DefaultDeliveryTimeout = 5 * time.Second
)

// Options configures a Registry.
type Options struct {
	BufferSize      int
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

type subscription struct {
	id        string
	topic     string
	createdAt time.Time
	sub       Subscriber
	queue     chan Event
	done      chan struct{}
	stopOnce  sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func (s *subscription) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:        s.id,
		Topic:     s.topic,
		CreatedAt: s.createdAt,
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

// Registry holds live topic subscriptions. It is safe for concurrent use and
// holds no durable state.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*subscription
	byTopic map[string]map[string]*subscription // topic -> subID -> sub
	closed  bool

	bufferSize      int
	deliveryTimeout time.Duration
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup
}

// NewRegistry creates a registry. Zero options select the defaults.
func NewRegistry(opts Options) *Registry {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		byID:            make(map[string]*subscription),
		byTopic:         make(map[string]map[string]*subscription),
		bufferSize:      opts.BufferSize,
		deliveryTimeout: opts.DeliveryTimeout,
		logger:          opts.Logger.With("component", "realtime"),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Subscribe registers s for topic and returns the subscription ID. The caller
// owns the subscription and must Unsubscribe it.
func (r *Registry) Subscribe(topic string, s Subscriber) (string, error) {
	t, err := ParseTopic(topic)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", fmt.Errorf("subscribing to %s: nil subscriber", topic)
	}

	sub := &subscription{
		id:        uuid.New().String(),
		topic:     t.String(),
		createdAt: time.Now().UTC(),
		sub:       s,
		queue:     make(chan Event, r.bufferSize),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.byID[sub.id] = sub
	if _, ok := r.byTopic[sub.topic]; !ok {
		r.byTopic[sub.topic] = make(map[string]*subscription)
	}
	r.byTopic[sub.topic][sub.id] = sub
	r.pumps.Add(1)
	r.mu.Unlock()

	go r.pump(sub)

	r.logger.Debug("subscription added",
		"topic", sub.topic,
		"sub_id", sub.id)
	return sub.id, nil
}

// SubscribeContext is Subscribe with automatic Unsubscribe when ctx ends.
func (r *Registry) SubscribeContext(ctx context.Context, topic string, s Subscriber) (string, error) {
	id, err := r.Subscribe(topic, s)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	sub := r.byID[id]
	r.mu.RUnlock()
	if sub == nil {
		return id, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Unsubscribe(id)
		case <-sub.done:
		}
	}()
	return id, nil
}

// Unsubscribe removes a subscription. It reports whether the ID was live.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	sub, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	if subs := r.byTopic[sub.topic]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.byTopic, sub.topic)
		}
	}
	r.mu.Unlock()

	if err := r.teardown(sub); err != nil {
		r.logger.Warn("subscriber teardown failed", "sub_id", id, "error", err)
	}
	r.logger.Debug("subscription removed",
		"topic", sub.topic,
		"sub_id", id)
	return true
}

// ListActive returns the live subscriptions, oldest first.
func (r *Registry) ListActive() []SubscriptionInfo {
	r.mu.RLock()
	infos := make([]SubscriptionInfo, 0, len(r.byID))
	for _, sub := range r.byID {
		infos = append(infos, sub.info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(a, b int) bool {
		if !infos[a].CreatedAt.Equal(infos[b].CreatedAt) {
			return infos[a].CreatedAt.Before(infos[b].CreatedAt)
		}
		return infos[a].ID < infos[b].ID
	})
	return infos
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Publish queues ev for every subscription on topic. It returns false only
// when the registry itself cannot accept the event (closed, or an invalid
// topic); full or failing subscribers are counted and logged, never reported.
func (r *Registry) Publish(topic string, ev Event) bool {
	t, err := ParseTopic(topic)
	if err != nil {
		r.logger.Warn("publish to invalid topic", "topic", topic, "error", err)
		return false
	}
	ev.Topic = t.String()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	// Copy targets under read lock to avoid holding it during sends
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	subs := r.byTopic[ev.Topic]
	targets := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
		case sub.queue <- ev:
		default:
			sub.dropped.Add(1)
			r.logger.Debug("dropped event for slow subscriber",
				"topic", ev.Topic,
				"sub_id", sub.id,
				"event_type", ev.Type)
		}
	}
	return true
}

// Done is closed when the registry shuts down.
func (r *Registry) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Close tears down every live subscription and stops all delivery. Teardown
// errors are logged, not returned. Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		subs = append(subs, sub)
	}
	r.byID = make(map[string]*subscription)
	r.byTopic = make(map[string]map[string]*subscription)
	r.mu.Unlock()

	r.cancel()
	for _, sub := range subs {
		if err := r.teardown(sub); err != nil {
			r.logger.Warn("subscriber teardown failed during close",
				"sub_id", sub.id,
				"topic", sub.topic,
				"error", err)
		}
	}
	r.pumps.Wait()

	r.logger.Debug("registry closed", "subscriptions", len(subs))
}

// teardown stops the pump and closes the subscriber if it is an io.Closer.
func (r *Registry) teardown(sub *subscription) (err error) {
	sub.stopOnce.Do(func() {
		close(sub.done)
		if c, ok := sub.sub.(io.Closer); ok {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("closing subscriber: panic: %v", p)
				}
			}()
			err = c.Close()
		}
	})
	return err
}

func (r *Registry) pump(sub *subscription) {
	defer r.pumps.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			r.deliver(sub, ev)
		}
	}
}

func (r *Registry) deliver(sub *subscription, ev Event) {
	ctx, cancel := context.WithTimeout(r.ctx, r.deliveryTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			sub.failed.Add(1)
			r.logger.Error("subscriber panicked",
				"sub_id", sub.id,
				"topic", sub.topic,
				"panic", p)
		}
	}()

	if err := sub.sub.Deliver(ctx, ev); err != nil {
		sub.failed.Add(1)
		r.logger.Warn("event delivery failed",
			"sub_id", sub.id,
			"topic", sub.topic,
			"event_type", ev.Type,
			"error", err)
		return
	}
	sub.delivered.Add(1)
}
