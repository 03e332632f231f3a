// Package notify fans seat change events out to observers. Delivery is
// fire-and-forget: an observer that is not connected, or not keeping up,
// misses the event and re-fetches the seat list on its next update.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/domain"
)

const subscriberBuffer = 16

type subscriber struct {
	showID uuid.UUID
	ch     chan domain.ChangeEvent
}

// Hub delivers events to in-process subscribers such as SSE streams.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscriber)}
}

// Subscribe registers for events of one show, or of every show when showID
// is uuid.Nil. The returned cancel func must be called to unsubscribe.
func (h *Hub) Subscribe(showID uuid.UUID) (<-chan domain.ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := subscriber{showID: showID, ch: make(chan domain.ChangeEvent, subscriberBuffer)}
	h.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish never blocks. Events without a show go to every subscriber.
func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if ev.ShowID != uuid.Nil && sub.showID != uuid.Nil && sub.showID != ev.ShowID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
