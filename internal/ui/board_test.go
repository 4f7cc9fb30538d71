package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

func useASCIIRenderer(t *testing.T) {
	t.Helper()
	original := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.Ascii)
	t.Cleanup(func() { lipgloss.SetColorProfile(original) })
}

func sampleBoard() *types.Board {
	b := types.NewBoard("ops", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	b.ID = 1
	for i, c := range b.Columns {
		c.ID = int64(i + 1)
		c.BoardID = 1
	}
	b.Column(types.StageDoing).WIPLimit = 2
	return b
}

func sampleTask(ident, title string, col int64) *types.Task {
	return &types.Task{
		Item: types.Item{Identifier: ident, Title: title, ColumnID: col, Status: types.StatusOpen, Priority: types.PriorityMedium},
		Kind: types.KindWork,
	}
}

func TestRenderTask(t *testing.T) {
	useASCIIRenderer(t)
	board := sampleBoard()
	task := sampleTask("W4", "Wire the claim endpoint", board.Column(types.StageDoing).ID)
	task.Status = types.StatusInProgress
	task.Dependencies = []string{"W1", "W2"}
	task.KeyFiles = []types.KeyFile{{Path: "internal/server/server.go"}}
	task.Assignment = &types.Assignment{AssignedTo: "agent-7", ExpiresAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)}
	task.NeedsReview = true

	var buf bytes.Buffer
	RenderTask(&buf, board, task)
	out := buf.String()
	for _, want := range []string{
		"W4 Wire the claim endpoint",
		"in_progress",
		"Doing",
		"agent-7",
		"2026-01-03T00:00:00Z",
		"W1, W2",
		"internal/server/server.go",
		"pending",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderTask output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "summary") {
		t.Errorf("empty fields should be skipped:\n%s", out)
	}
}

func TestRenderGoalTree(t *testing.T) {
	useASCIIRenderer(t)
	board := sampleBoard()
	goal := &types.Goal{Item: types.Item{Identifier: "G1", Title: "Ship v1", Status: types.StatusInProgress, ColumnID: 3}}
	goal.Children = []*types.Task{sampleTask("W1", "first", 3), sampleTask("W2", "second", 2)}

	var buf bytes.Buffer
	RenderItem(&buf, board, &lifecycle.Item{Goal: goal})
	out := buf.String()
	if !strings.Contains(out, TreeChild+"W1") || !strings.Contains(out, TreeLast+"W2") {
		t.Errorf("children not drawn as a tree:\n%s", out)
	}
	if !strings.Contains(out, "(Ready)") {
		t.Errorf("child column missing:\n%s", out)
	}
}

func TestRenderBoard(t *testing.T) {
	useASCIIRenderer(t)
	board := sampleBoard()
	parent := int64(9)
	child := sampleTask("W2", "child", 3)
	child.ParentID = &parent
	child.Assignment = &types.Assignment{AssignedTo: "agent-1"}
	views := make([]lifecycle.ColumnView, len(board.Columns))
	for i, c := range board.Columns {
		views[i] = lifecycle.ColumnView{Column: c}
	}
	views[2].Items = []lifecycle.Item{
		{Goal: &types.Goal{Item: types.Item{Identifier: "G1", Title: "goal", Status: types.StatusInProgress}}},
		{Task: child},
	}

	var buf bytes.Buffer
	RenderBoard(&buf, board, views)
	out := buf.String()
	if !strings.Contains(out, "DOING (1/2)") {
		t.Errorf("WIP header should count tasks only:\n%s", out)
	}
	if !strings.Contains(out, "BACKLOG (0)") || !strings.Contains(out, "empty") {
		t.Errorf("empty column not rendered:\n%s", out)
	}
	if !strings.Contains(out, TreeIndent+TreeIndent+"W2") || !strings.Contains(out, "@agent-1") {
		t.Errorf("goal child not indented under its goal:\n%s", out)
	}
}

func TestRenderHistory(t *testing.T) {
	useASCIIRenderer(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	RenderHistory(&buf, []*types.Event{
		{EventType: types.EventUnclaimed, Actor: "agent-1", OldValue: "in_progress", NewValue: "open", Comment: "stuck", CreatedAt: at},
	})
	out := buf.String()
	for _, want := range []string{"2026-01-02T03:04:05Z", "unclaimed", "in_progress → open", "(stuck)"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderHistory output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	RenderHistory(&buf, nil)
	if strings.TrimSpace(buf.String()) != "no history" {
		t.Errorf("empty history = %q", buf.String())
	}
}

func TestRenderDependencies(t *testing.T) {
	useASCIIRenderer(t)
	var buf bytes.Buffer
	RenderDependencies(&buf, []types.DependencyNode{
		{Identifier: "W1", Title: "base", Status: types.StatusCompleted, Depth: 1},
		{Identifier: "W0", Depth: 2, Missing: true},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], TreeIndent+"W0") || !strings.Contains(lines[1], "missing") {
		t.Errorf("nested missing dependency = %q", lines[1])
	}
}

func TestRenderOutcomeAndError(t *testing.T) {
	useASCIIRenderer(t)
	var buf bytes.Buffer
	RenderOutcome(&buf, "claimed", &lifecycle.Outcome{
		Task: sampleTask("W3", "task", 3),
		Next: &types.HookSpec{Name: types.HookAfterDoing, TimeoutSecs: 120, Blocking: false},
	})
	if !strings.Contains(buf.String(), "claimed W3") || !strings.Contains(buf.String(), "after_doing (advisory, 120s)") {
		t.Errorf("RenderOutcome = %q", buf.String())
	}

	buf.Reset()
	RenderError(&buf, types.NewValidation("title", "title is required"))
	if !strings.Contains(buf.String(), "validation_failed: title: title is required") {
		t.Errorf("RenderError = %q", buf.String())
	}
	buf.Reset()
	RenderError(&buf, errors.New("connection refused"))
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("RenderError plain = %q", buf.String())
	}
}
