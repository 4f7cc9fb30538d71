package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/workboard/workboard/internal/claim"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/server"
	"github.com/workboard/workboard/internal/storage/memory"
	"github.com/workboard/workboard/internal/types"
)

func newTestClient(t *testing.T, who types.Requester) *Client {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	eng := lifecycle.New(store, nil)
	coord := claim.New(store, claim.WithGate(eng.Gate()))
	ts := httptest.NewServer(server.New(eng, coord, "", nil).Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", who)
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, types.Requester{Name: "agent-1", Agent: true})

	var board types.Board
	if err := c.do(ctx, http.MethodPost, "/boards", map[string]string{"name": "ops"}, &board); err != nil {
		t.Fatalf("create board: %v", err)
	}
	if board.ID == 0 || board.Name != "ops" {
		t.Fatalf("board = %+v", board)
	}

	in := lifecycle.Input{Task: &lifecycle.TaskInput{Title: "rotate keys", Stage: types.StageReady}}
	var created lifecycle.Created
	if err := c.do(ctx, http.MethodPost, boardPath(board.ID, "/tasks"), in, &created); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.Task == nil {
		t.Fatal("no task in response")
	}

	req := claim.ClaimRequest{BeforeDoing: &types.HookResult{ExitCode: 0}}
	var out lifecycle.Outcome
	if err := c.do(ctx, http.MethodPost, boardPath(board.ID, "/claim"), req, &out); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out.Task.Identifier != created.Task.Identifier || out.Task.AssignedTo() != "agent-1" {
		t.Errorf("claimed %s by %q", out.Task.Identifier, out.Task.AssignedTo())
	}
	if out.Next == nil || out.Next.Name != types.HookAfterDoing {
		t.Errorf("next hook = %+v, want after_doing", out.Next)
	}

	if err := c.do(ctx, http.MethodDelete, taskPath(board.ID, "W404", ""), nil, nil); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("delete missing = %v, want not_found", err)
	}
}

func TestClientDecodesStructuredErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, types.Requester{Name: "agent-1", Agent: true})

	var board types.Board
	if err := c.do(ctx, http.MethodPost, "/boards", map[string]string{"name": "ops"}, &board); err != nil {
		t.Fatal(err)
	}

	err := c.do(ctx, http.MethodPost, boardPath(board.ID, "/claim"), claim.ClaimRequest{BeforeDoing: &types.HookResult{ExitCode: 0}}, nil)
	e, ok := types.AsError(err)
	if !ok {
		t.Fatalf("err = %v, want *types.Error", err)
	}
	if e.Kind != types.KindConflict {
		t.Errorf("kind = %s, want conflict", e.Kind)
	}
	if got := exitCode(err); got != 3 {
		t.Errorf("exitCode = %d, want 3", got)
	}

	anon := newTestClient(t, types.Requester{})
	err = anon.do(ctx, http.MethodGet, "/boards", nil, nil)
	if !types.IsKind(err, types.KindForbidden) {
		t.Errorf("anonymous list = %v, want forbidden", err)
	}
}

func TestClientReportsPartialBatch(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, types.Requester{Name: "ops"})

	var board types.Board
	if err := c.do(ctx, http.MethodPost, "/boards", map[string]string{"name": "ops"}, &board); err != nil {
		t.Fatal(err)
	}
	items := []lifecycle.Input{
		{Task: &lifecycle.TaskInput{Title: "first"}},
		{Task: &lifecycle.TaskInput{Title: "second", Priority: "urgent"}},
	}
	err := c.do(ctx, http.MethodPost, boardPath(board.ID, "/tasks"), map[string]any{"items": items}, nil)

	var partial *partialBatchError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want a partial batch", err)
	}
	if len(partial.created) != 1 || partial.created[0].Task.Title != "first" {
		t.Errorf("created = %+v", partial.created)
	}
	e, ok := types.AsError(err)
	if !ok || e.Index == nil || *e.Index != 1 {
		t.Errorf("err = %v, want item 1", err)
	}
	if got := exitCode(err); got != 5 {
		t.Errorf("exitCode = %d, want 5", got)
	}
}

func TestClientTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", types.Requester{Name: "x"})
	err := c.do(context.Background(), http.MethodGet, "/healthz", nil, nil)
	if err == nil {
		t.Fatal("expected an error from a closed port")
	}
	var e *types.Error
	if errors.As(err, &e) {
		t.Errorf("transport failure decoded as %v", e)
	}
	if got := exitCode(err); got != 1 {
		t.Errorf("exitCode = %d, want 1", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.NewConflict(types.ReasonNotClaimable, "full"), 3},
		{types.NewForbidden("no"), 4},
		{types.NewValidation("title", "required"), 5},
		{types.NewNotFound("gone"), 6},
		{errors.New("boom"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
