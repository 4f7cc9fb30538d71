// Package eventbus delivers post-commit change notifications.
//
// The engines record audit events inside their transaction and hand them
// to a Publisher once the transaction has committed. Delivery is best
// effort: a failing handler is logged and never changes the outcome of the
// operation that produced the event.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Bus dispatches events to registered handlers.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// New creates a new event bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to all registered handlers that handle its type.
// Handler errors are logged but do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	result := &Result{}
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Warn("eventbus handler failed",
				"handler", h.ID(), "type", event.Type, "identifier", event.Identifier, "error", err)
			result.Failed = append(result.Failed, h.ID())
			continue
		}
		result.Delivered = append(result.Delivered, h.ID())
	}
	return result, nil
}

// Publish dispatches each event in order, ignoring the results.
func (b *Bus) Publish(ctx context.Context, events ...*Event) {
	for _, e := range events {
		if _, err := b.Dispatch(ctx, e); err != nil {
			b.logger.Debug("eventbus publish stopped", "error", err)
			return
		}
	}
}

// Handlers returns all registered handlers.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		if ts := h.Handles(); len(ts) == 0 || slices.Contains(ts, eventType) {
			matched = append(matched, h)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
