package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the channel buffer for each subscriber.
const subscriberBuffer = 64

// ChangeKind names the part of the client state that changed.
type ChangeKind int

const (
	ChangeSession ChangeKind = iota
	ChangeDirectory
	ChangeSelection
	ChangeHistory
	ChangeConnection
)

// String returns the string representation of ChangeKind
func (k ChangeKind) String() string {
	switch k {
	case ChangeSession:
		return "SESSION"
	case ChangeDirectory:
		return "DIRECTORY"
	case ChangeSelection:
		return "SELECTION"
	case ChangeHistory:
		return "HISTORY"
	case ChangeConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Change tells subscribers to re-render. It carries no state; call
// Client.View for a snapshot.
type Change struct {
	Kind        ChangeKind
	Counterpart string
}

// Hub fans out Change notices to every subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	done        chan struct{}
	log         *slog.Logger
}

// NewHub creates a Hub. Pass nil logger for default.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]chan Change),
		done:        make(chan struct{}),
		log:         log.With("component", "hub"),
	}
}

// Subscribe registers a subscriber. The subscription is removed and its
// channel closed when ctx is cancelled or the Hub is closed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Change, string) {
	id := uuid.NewString()
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, id
	}
	h.subscribers[id] = ch
	h.mu.Unlock()

	h.log.Debug("Subscriber added", "sub_id", id)

	go func() {
		select {
		case <-ctx.Done():
			h.Unsubscribe(id)
		case <-h.done:
		}
	}()

	return ch, id
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(ch)
	h.log.Debug("Subscriber removed", "sub_id", id)
}

// Publish delivers change to every subscriber without blocking. Subscribers
// whose buffer is full miss the notice.
func (h *Hub) Publish(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- change:
		default:
			h.log.Debug("Dropped change for slow subscriber", "sub_id", id, "kind", change.Kind)
		}
	}
}

// SubscriberCount returns number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel and stops their watchers. Later
// subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true
	close(h.done)
}
