package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// LogHandler writes every event to a structured logger.
// Priority 10 (runs first).
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) ID() string           { return "log" }
func (h *LogHandler) Handles() []EventType { return nil }
func (h *LogHandler) Priority() int        { return 10 }

func (h *LogHandler) Handle(ctx context.Context, event *Event) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "workboard event",
		"type", event.Type,
		"board", event.BoardID,
		"identifier", event.Identifier,
		"actor", event.Actor,
		"old", event.OldValue,
		"new", event.NewValue,
	)
	return nil
}

// NATSHandler publishes events as JSON on workboard.<board>.<type>.
// Priority 20.
type NATSHandler struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSHandler publishes on conn. A non-empty prefix replaces the
// default subject prefix.
func NewNATSHandler(conn *nats.Conn, prefix string) *NATSHandler {
	if prefix == "" {
		prefix = SubjectPrefix
	}
	return &NATSHandler{conn: conn, prefix: prefix}
}

// SetJetStream routes publishes through JetStream so they are persisted by
// the workboard stream. Pass nil to return to core NATS publishing.
func (h *NATSHandler) SetJetStream(js nats.JetStreamContext) {
	h.js = js
}

// JetStreamEnabled reports whether publishes go through JetStream.
func (h *NATSHandler) JetStreamEnabled() bool {
	return h.js != nil
}

func (h *NATSHandler) ID() string           { return "nats" }
func (h *NATSHandler) Handles() []EventType { return nil }
func (h *NATSHandler) Priority() int        { return 20 }

func (h *NATSHandler) Handle(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := subjectWithPrefix(h.prefix, event.BoardID, event.Type)
	if h.js != nil {
		if _, err := h.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", subject, err)
		}
		return nil
	}
	if err := h.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}
