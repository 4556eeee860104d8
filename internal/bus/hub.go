// Package bus provides the in-process event hub that fans stored events
// out to live stream subscribers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/trakhq/trak/pkg/models"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must detach long work to their own goroutine.
type Handler func(e *models.Event)

type subscription struct {
	id      string
	project string // empty matches every project
	handler Handler
}

// Hub is a small publish/subscribe fan-out with a per-subscriber project
// filter. It is intended for a handful of interactive subscribers; there
// is no buffering or backpressure here, slow consumers are the SSE
// layer's problem.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for events whose project name matches
// project (empty project subscribes to everything). Returns an id for
// Unsubscribe.
func (h *Hub) Subscribe(project string, handler Handler) string {
	sub := &subscription{
		id:      uuid.New().String(),
		project: project,
		handler: handler,
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	h.logger.Debug("subscriber added", "id", sub.id, "project", project)
	return sub.id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Publish delivers an event to every matching subscriber in
// registration-independent order. Handler panics are contained so a bad
// subscriber cannot take down the ingest path.
func (h *Hub) Publish(e *models.Event) {
	h.mu.RLock()
	matched := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.project == "" || sub.project == e.ProjectName {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range matched {
		h.invoke(sub, e)
	}
}

func (h *Hub) invoke(sub *subscription, e *models.Event) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("subscriber panicked", "id", sub.id, "panic", p)
		}
	}()
	sub.handler(e)
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
