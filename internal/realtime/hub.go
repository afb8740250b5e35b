// Package realtime pushes in-app notification events to connected clients.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

const (
	EventNotificationCreated = "notification.created"

	subscriberBuffer = 16
)

// Event is one message on a user's realtime topic
type Event struct {
	Type         string           `json:"type"`
	UserID       uuid.UUID        `json:"userId"`
	Notification *db.Notification `json:"notification,omitempty"`
}

// Publisher delivers an event to the recipient's open streams
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub keeps process-local subscribers grouped by user
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe registers a stream for userID. The returned func must be called
// when the stream closes.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subscribers[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subscribers[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	metrics.AddRealtimeSubscribers(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subscribers, userID)
			}
			h.mu.Unlock()
			close(ch)
			metrics.AddRealtimeSubscribers(-1)
		})
	}
}

// Deliver hands ev to local subscribers of ev.UserID. Slow subscribers miss
// the event instead of blocking the caller. Returns how many received it.
func (h *Hub) Deliver(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subscribers[ev.UserID] {
		select {
		case ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Publish implements Publisher for single-instance deployments
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// Subscribers returns the number of open streams for userID
func (h *Hub) Subscribers(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
