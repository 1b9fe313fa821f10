// ABOUTME: Thread-safe TTL window of claimed webhook delivery keys
// ABOUTME: Lets one delivery of a provider message proceed while redeliveries back off

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type state int

const (
	statePending state = iota
	stateDone
)

// entry stores the claim time, state and list element for a key.
type entry struct {
	claimedAt time.Time
	state     state
	element   *list.Element
}

// Window tracks recently claimed keys with a TTL and a size bound. Uses a
// doubly-linked list in claim order for O(1) eviction.
type Window struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a window. A background goroutine removes expired keys until
// Close is called.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	w := &Window{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.cleanup()
	return w
}

// Claim atomically takes ownership of key. It returns false if key is
// already claimed, in flight or completed, and not yet expired.
func (w *Window) Claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if e, ok := w.entries[key]; ok {
		if now.Sub(e.claimedAt) < w.ttl {
			return false
		}
		w.order.Remove(e.element)
		delete(w.entries, key)
	}

	if len(w.entries) >= w.maxSize {
		w.evictOldest()
	}
	w.entries[key] = &entry{
		claimedAt: now,
		state:     statePending,
		element:   w.order.PushBack(key),
	}
	return true
}

// Complete marks a claimed key as processed. Redeliveries keep being
// refused until the TTL passes.
func (w *Window) Complete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[key]; ok {
		e.state = stateDone
	}
}

// Release drops a claim so the next delivery of key may retry.
func (w *Window) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[key]; ok {
		w.order.Remove(e.element)
		delete(w.entries, key)
	}
}

// InFlight reports whether key is claimed but neither completed nor released.
func (w *Window) InFlight(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	return ok && e.state == statePending && w.now().Sub(e.claimedAt) < w.ttl
}

// Len returns the number of tracked keys, expired ones included until the
// next cleanup.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// evictOldest removes the oldest claim. Must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.entries, key)
}

func (w *Window) cleanup() {
	interval := w.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.removeExpired()
		case <-w.done:
			return
		}
	}
}

// removeExpired walks from the oldest claim and stops at the first live one.
func (w *Window) removeExpired() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		e := w.entries[key]
		if e != nil && now.Sub(e.claimedAt) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.entries, key)
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
