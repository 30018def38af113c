package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler reacts to an event. Errors are logged by the hub and never
// propagated back to the publisher.
type Handler func(ctx context.Context, ev Event) error

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Hub dispatches events synchronously to subscribers registered per event name.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	logger   logrus.FieldLogger
}

type namedHandler struct {
	name string
	fn   Handler
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// Subscribe registers fn for every event name in names. subscriber is used in logs.
func (h *Hub) Subscribe(subscriber string, fn Handler, names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range names {
		h.handlers[n] = append(h.handlers[n], namedHandler{name: subscriber, fn: fn})
	}
}

// Publish runs the subscribers of ev in registration order. A panicking or
// failing subscriber does not stop the others.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.mu.RLock()
	subs := h.handlers[ev.EventName()]
	h.mu.RUnlock()

	for _, s := range subs {
		if err := h.invoke(ctx, s, ev); err != nil {
			h.logger.WithFields(logrus.Fields{
				"event":      ev.EventName(),
				"subscriber": s.name,
			}).WithError(err).Error("event subscriber failed")
		}
	}
}

func (h *Hub) invoke(ctx context.Context, s namedHandler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, ev)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
