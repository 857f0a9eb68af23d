// Package dispatch fans classified events out to every registered sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// Sink consumes events. Handle is called from the dispatching goroutine.
type Sink interface {
	Handle(ctx context.Context, ev event.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev event.Event) error

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}

type entry struct {
	name string
	sink Sink
}

// Hub manages named sinks and delivers each event to all of them in
// registration order.
type Hub struct {
	sinks  []entry
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates an empty Hub. If logger is nil, slog.Default() is used.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

// Register adds sink under name, replacing any sink already using that name.
func (h *Hub) Register(name string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.index(name); i >= 0 {
		h.sinks[i].sink = sink
		return
	}
	h.sinks = append(h.sinks, entry{name: name, sink: sink})
}

// Unregister removes the sink registered under name.
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.index(name); i >= 0 {
		h.sinks = slices.Delete(h.sinks, i, i+1)
	}
}

func (h *Hub) index(name string) int {
	return slices.IndexFunc(h.sinks, func(e entry) bool { return e.name == name })
}

// SinkCount returns the number of registered sinks.
func (h *Hub) SinkCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Dispatch delivers ev to every sink. A failing sink does not stop delivery
// to the others; all failures are logged and returned joined.
func (h *Hub) Dispatch(ctx context.Context, ev event.Event) error {
	h.mu.RLock()
	sinks := slices.Clone(h.sinks)
	h.mu.RUnlock()

	var errs []error
	for _, e := range sinks {
		if err := e.sink.Handle(ctx, ev); err != nil {
			h.logger.Warn("sink failed to handle event", "sink", e.name, "cmd", ev.Command(), "error", err)
			errs = append(errs, fmt.Errorf("sink %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
