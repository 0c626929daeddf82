// Package events is the in-process progress hub. The pipeline publishes,
// WebSocket sessions and loggers subscribe. Publishing never blocks: a
// subscriber whose buffer is full loses events rather than stalling a job.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lexmap/lexmap/pipeline"
)

const subscriberBuffer = 256

// Hub fans events out to subscribers. Implements pipeline.Emitter.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan pipeline.Event
	logger *slog.Logger

	dropped atomic.Uint64 // events lost to full buffers
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]chan pipeline.Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its channel and a cancel
// function. The channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan pipeline.Event, func()) {
	id := uuid.NewString()
	ch := make(chan pipeline.Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	total := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("events: subscriber added", "id", id, "total", total)

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
		h.logger.Debug("events: subscriber removed", "id", id)
	}
	return ch, cancel
}

// Emit delivers ev to every subscriber without blocking.
func (h *Hub) Emit(ev pipeline.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
