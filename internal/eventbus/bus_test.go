package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/workboard/workboard/internal/types"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event) error {
	if h.fn != nil {
		return h.fn(ctx, event)
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New(quietLogger())
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchPriorityAndFiltering(t *testing.T) {
	bus := New(quietLogger())
	var order []string
	record := func(id string) func(context.Context, *Event) error {
		return func(context.Context, *Event) error { order = append(order, id); return nil }
	}
	bus.Register(&testHandler{id: "late", priority: 30, fn: record("late")})
	bus.Register(&testHandler{id: "claims-only", priority: 5, handles: []EventType{types.EventClaimed}, fn: record("claims-only")})
	bus.Register(&testHandler{id: "early", priority: 1, fn: record("early")})

	res, err := bus.Dispatch(context.Background(), &Event{Type: types.EventCompleted})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if strings.Join(order, ",") != "early,late" {
		t.Errorf("order = %v", order)
	}
	if len(res.Delivered) != 2 {
		t.Errorf("delivered = %v", res.Delivered)
	}

	order = nil
	if _, err := bus.Dispatch(context.Background(), &Event{Type: types.EventClaimed}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if strings.Join(order, ",") != "early,claims-only,late" {
		t.Errorf("order = %v", order)
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	var logged bytes.Buffer
	bus := New(slog.New(slog.NewTextHandler(&logged, nil)))
	called := false
	bus.Register(&testHandler{id: "broken", priority: 1, fn: func(context.Context, *Event) error {
		return errors.New("boom")
	}})
	bus.Register(&testHandler{id: "after", priority: 2, fn: func(context.Context, *Event) error {
		called = true
		return nil
	}})

	res, err := bus.Dispatch(context.Background(), &Event{Type: types.EventMoved, Identifier: "W1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("handler after the failing one was not called")
	}
	if len(res.Failed) != 1 || res.Failed[0] != "broken" {
		t.Errorf("failed = %v", res.Failed)
	}
	if !strings.Contains(logged.String(), "boom") {
		t.Errorf("handler error not logged: %s", logged.String())
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	bus := New(quietLogger())
	bus.Register(&testHandler{id: "h"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Dispatch(ctx, &Event{Type: types.EventCreated}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &LogHandler{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	err := h.Handle(context.Background(), &Event{Type: types.EventClaimed, BoardID: 2, Identifier: "W4", Actor: "agent-a"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	for _, want := range []string{"type=claimed", "identifier=W4", "actor=agent-a"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line missing %q: %s", want, buf.String())
		}
	}
}

func TestSubjectFor(t *testing.T) {
	if got := SubjectFor(3, types.EventClaimed); got != "workboard.3.claimed" {
		t.Errorf("SubjectFor() = %q", got)
	}
}

// startTestNATS starts an embedded NATS server with JetStream for testing.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{
		Port:               -1, // random available port
		JetStream:          true,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  64 << 20,
		StoreDir:           t.TempDir(),
		NoLog:              true,
		NoSigs:             true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}

	nc, err := Connect(ns.ClientURL(), "workboard-test", 5*time.Second)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("connect to test NATS: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestNATSHandlerPublishesOnBoardSubject(t *testing.T) {
	nc := startTestNATS(t)
	sub, err := nc.SubscribeSync("workboard.7.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus := New(quietLogger())
	bus.Register(NewNATSHandler(nc, ""))
	bus.Publish(context.Background(), &Event{Type: types.EventCompleted, BoardID: 7, Identifier: "W9"})
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message: %v", err)
	}
	if msg.Subject != "workboard.7.completed" {
		t.Errorf("subject = %q", msg.Subject)
	}
	var got Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Identifier != "W9" || got.BoardID != 7 {
		t.Errorf("event = %+v", got)
	}
}

func TestNATSHandlerJetStream(t *testing.T) {
	nc := startTestNATS(t)
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("JetStream: %v", err)
	}
	if err := EnsureStream(js, ""); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	// Second call finds the existing stream.
	if err := EnsureStream(js, ""); err != nil {
		t.Fatalf("EnsureStream again: %v", err)
	}

	h := NewNATSHandler(nc, "")
	if h.JetStreamEnabled() {
		t.Error("expected JetStreamEnabled=false before SetJetStream")
	}
	h.SetJetStream(js)
	if err := h.Handle(context.Background(), &Event{Type: types.EventClaimed, BoardID: 1, Identifier: "W1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	info, err := js.StreamInfo(StreamName)
	if err != nil {
		t.Fatalf("StreamInfo: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("stream holds %d messages, want 1", info.State.Msgs)
	}
}
