// Package storagetest is a conformance suite run against every backend.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"BoardColumns", testBoardColumns},
		{"IdentifiersNeverReused", testIdentifiersNeverReused},
		{"TaskRoundTrip", testTaskRoundTrip},
		{"UpdateTaskConflict", testUpdateTaskConflict},
		{"ClaimTask", testClaimTask},
		{"ColumnItems", testColumnItems},
		{"StatusesAndFilters", testStatusesAndFilters},
		{"RollbackDiscardsWrites", testRollback},
		{"Events", testEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

var epoch = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func tx(t *testing.T, s storage.Store, fn func(tx storage.Transaction) error) {
	t.Helper()
	if err := s.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func seedBoard(t *testing.T, s storage.Store) *types.Board {
	t.Helper()
	b := types.NewBoard("conformance", epoch)
	tx(t, s, func(tx storage.Transaction) error { return tx.CreateBoard(context.Background(), b) })
	return b
}

func newTask(b *types.Board, stage types.Stage, identifier string, pos int) *types.Task {
	return &types.Task{
		Item: types.Item{
			Identifier: identifier,
			BoardID:    b.ID,
			ColumnID:   b.Column(stage).ID,
			Position:   pos,
			Title:      "task " + identifier,
			Status:     types.StatusOpen,
			Priority:   types.PriorityHigh,
			CreatedAt:  epoch,
			UpdatedAt:  epoch,
		},
		Kind: types.KindWork,
	}
}

func insert(t *testing.T, s storage.Store, tasks ...*types.Task) {
	t.Helper()
	tx(t, s, func(tx storage.Transaction) error {
		for _, task := range tasks {
			if err := tx.CreateTask(context.Background(), task); err != nil {
				return err
			}
		}
		return nil
	})
}

func testBoardColumns(t *testing.T, s storage.Store) {
	b := seedBoard(t, s)
	got, err := s.GetBoard(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if len(got.Columns) != len(types.Pipeline) {
		t.Fatalf("got %d columns, want %d", len(got.Columns), len(types.Pipeline))
	}
	for i, stage := range types.Pipeline {
		if got.Columns[i].Stage != stage {
			t.Errorf("column %d stage = %s, want %s", i, got.Columns[i].Stage, stage)
		}
	}

	col := got.Column(types.StageDoing)
	col.WIPLimit = 3
	tx(t, s, func(tx storage.Transaction) error { return tx.UpdateColumn(context.Background(), col) })
	reloaded, err := s.GetColumn(context.Background(), col.ID)
	if err != nil {
		t.Fatalf("GetColumn: %v", err)
	}
	if reloaded.WIPLimit != 3 {
		t.Errorf("WIPLimit = %d, want 3", reloaded.WIPLimit)
	}

	if _, err := s.GetBoard(context.Background(), b.ID+1000); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing board: got %v, want ErrNotFound", err)
	}
}

func testIdentifiersNeverReused(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	var ids []string
	tx(t, s, func(tx storage.Transaction) error {
		for _, prefix := range []string{"W", "W", "D", "W", "G"} {
			id, err := tx.NextIdentifier(ctx, b.ID, prefix)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	want := []string{"W1", "W2", "D1", "W3", "G1"}
	if !slices.Equal(ids, want) {
		t.Fatalf("identifiers = %v, want %v", ids, want)
	}

	task := newTask(b, types.StageReady, "W3", 0)
	insert(t, s, task)
	tx(t, s, func(tx storage.Transaction) error { return tx.DeleteTask(ctx, task.ID) })

	var next string
	tx(t, s, func(tx storage.Transaction) error {
		var err error
		next, err = tx.NextIdentifier(ctx, b.ID, "W")
		return err
	})
	if next != "W4" {
		t.Errorf("after delete next = %s, want W4", next)
	}
}

func testTaskRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	task := newTask(b, types.StageReady, "W1", 0)
	task.Dependencies = []string{"W9", "G2"}
	task.KeyFiles = []types.KeyFile{{Path: "lib/auth.ex", Note: "session", Position: 0}, {Path: "lib/user.ex", Position: 1}}
	task.RequiredCapabilities = types.NewCapabilitySet(types.CapabilityTesting, types.CapabilityDevOps)
	task.Complexity = types.ComplexityLarge
	task.NeedsReview = true
	insert(t, s, task)

	got, err := s.GetTaskByIdentifier(ctx, b.ID, "W1")
	if err != nil {
		t.Fatalf("GetTaskByIdentifier: %v", err)
	}
	if !slices.Equal(got.Dependencies, task.Dependencies) {
		t.Errorf("Dependencies = %v, want %v", got.Dependencies, task.Dependencies)
	}
	if !slices.Equal(got.KeyFiles, task.KeyFiles) {
		t.Errorf("KeyFiles = %v, want %v", got.KeyFiles, task.KeyFiles)
	}
	if got.RequiredCapabilities.String() != "devops,testing" {
		t.Errorf("RequiredCapabilities = %s", got.RequiredCapabilities)
	}
	if !got.NeedsReview || got.Complexity != types.ComplexityLarge {
		t.Errorf("NeedsReview/Complexity not persisted: %+v", got)
	}
	if got.Assignment != nil {
		t.Errorf("Assignment = %+v, want nil", got.Assignment)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, epoch)
	}

	if _, err := s.GetGoal(ctx, task.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetGoal on a task: got %v, want ErrNotFound", err)
	}

	dup := newTask(b, types.StageReady, "W1", 1)
	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error { return tx.CreateTask(ctx, dup) })
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate identifier: got %v, want ErrConflict", err)
	}
}

func testUpdateTaskConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	task := newTask(b, types.StageReady, "W1", 0)
	insert(t, s, task)

	task.Status = types.StatusBlocked
	task.Dependencies = []string{"W2"}
	tx(t, s, func(tx storage.Transaction) error { return tx.UpdateTask(ctx, task, types.StatusOpen) })

	task.Status = types.StatusOpen
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpdateTask(ctx, task, types.StatusOpen)
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale expected status: got %v, want ErrConflict", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != types.StatusBlocked || !slices.Equal(got.Dependencies, []string{"W2"}) {
		t.Errorf("task changed by failed update: %+v", got)
	}
}

func testClaimTask(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	task := newTask(b, types.StageReady, "W1", 0)
	insert(t, s, task)
	doing := b.Column(types.StageDoing).ID

	first := types.Assignment{AssignedTo: "agent-a", Agent: true, ClaimedAt: epoch, ExpiresAt: epoch.Add(types.DefaultLeaseTTL)}
	tx(t, s, func(tx storage.Transaction) error { return tx.ClaimTask(ctx, task.ID, first, doing, 0) })

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != types.StatusInProgress || got.ColumnID != doing || got.AssignedTo() != "agent-a" {
		t.Fatalf("after claim: %+v", got)
	}
	if !got.Assignment.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.Assignment.ExpiresAt, first.ExpiresAt)
	}

	early := epoch.Add(time.Hour)
	second := types.Assignment{AssignedTo: "agent-b", ClaimedAt: early, ExpiresAt: early.Add(types.DefaultLeaseTTL)}
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error { return tx.ClaimTask(ctx, task.ID, second, doing, 0) })
	if !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("claim under live lease: got %v, want ErrAlreadyClaimed", err)
	}

	late := epoch.Add(25 * time.Hour)
	third := types.Assignment{AssignedTo: "agent-b", ClaimedAt: late, ExpiresAt: late.Add(types.DefaultLeaseTTL)}
	tx(t, s, func(tx storage.Transaction) error { return tx.ClaimTask(ctx, task.ID, third, doing, 0) })
	got, _ = s.GetTask(ctx, task.ID)
	if got.AssignedTo() != "agent-b" {
		t.Errorf("expired lease not reclaimed, assignee = %s", got.AssignedTo())
	}
}

func testColumnItems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	ready := b.Column(types.StageReady).ID
	goal := &types.Goal{Item: types.Item{
		Identifier: "G1", BoardID: b.ID, ColumnID: ready, Position: 1,
		Title: "goal", Status: types.StatusOpen, Priority: types.PriorityMedium, CreatedAt: epoch, UpdatedAt: epoch,
	}}
	w1 := newTask(b, types.StageReady, "W1", 0)
	w2 := newTask(b, types.StageReady, "W2", 2)
	insert(t, s, w1, w2)
	tx(t, s, func(tx storage.Transaction) error { return tx.CreateGoal(ctx, goal) })

	items, err := s.ListColumnItems(ctx, ready)
	if err != nil {
		t.Fatalf("ListColumnItems: %v", err)
	}
	var order []string
	for _, it := range items {
		order = append(order, it.Identifier)
	}
	if !slices.Equal(order, []string{"W1", "G1", "W2"}) {
		t.Fatalf("order = %v", order)
	}
	if !items[1].IsGoal || items[0].IsGoal {
		t.Errorf("IsGoal flags wrong: %+v", items)
	}

	n, err := s.CountColumnTasks(ctx, ready)
	if err != nil || n != 2 {
		t.Errorf("CountColumnTasks = %d, %v; want 2 (goals excluded)", n, err)
	}

	done := b.Column(types.StageDone).ID
	tx(t, s, func(tx storage.Transaction) error {
		return tx.SetPositions(ctx, done, []int64{w2.ID, goal.ID})
	})
	got, _ := s.GetGoal(ctx, goal.ID)
	if got.ColumnID != done || got.Position != 1 {
		t.Errorf("goal after SetPositions: column=%d pos=%d", got.ColumnID, got.Position)
	}
}

func testStatusesAndFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	w1 := newTask(b, types.StageDone, "W1", 0)
	w1.Status = types.StatusCompleted
	w2 := newTask(b, types.StageBacklog, "W2", 0)
	w2.Status = types.StatusBlocked
	w2.Dependencies = []string{"W1", "W7"}
	w3 := newTask(b, types.StageBacklog, "W3", 1)
	w3.Dependencies = []string{"W1"}
	insert(t, s, w1, w2, w3)

	st, err := s.StatusesByIdentifier(ctx, b.ID, []string{"W1", "W2", "W7"})
	if err != nil {
		t.Fatalf("StatusesByIdentifier: %v", err)
	}
	if st["W1"] != types.StatusCompleted || st["W2"] != types.StatusBlocked {
		t.Errorf("statuses = %v", st)
	}
	if _, ok := st["W7"]; ok {
		t.Error("unknown identifier must be absent")
	}

	dependents, err := s.ListTasks(ctx, storage.TaskFilter{BoardID: b.ID, DependsOn: "W1"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(dependents) != 2 {
		t.Errorf("dependents of W1 = %d, want 2", len(dependents))
	}

	blocked, err := s.ListTasks(ctx, storage.TaskFilter{BoardID: b.ID, Statuses: []types.Status{types.StatusBlocked}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(blocked) != 1 || blocked[0].Identifier != "W2" {
		t.Errorf("blocked = %v", blocked)
	}
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateTask(ctx, newTask(b, types.StageReady, "W1", 0)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction = %v, want boom", err)
	}
	if _, err := s.GetTaskByIdentifier(ctx, b.ID, "W1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rolled back task still visible: %v", err)
	}
}

func testEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := seedBoard(t, s)
	task := newTask(b, types.StageReady, "W1", 0)
	insert(t, s, task)
	tx(t, s, func(tx storage.Transaction) error {
		for i, et := range []types.EventType{types.EventCreated, types.EventClaimed, types.EventUnclaimed} {
			if err := tx.AppendEvent(ctx, &types.Event{
				ItemID: task.ID, Identifier: "W1", EventType: et, Actor: "agent-a",
				CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	events, err := s.GetEvents(ctx, task.ID, 2)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 || events[0].EventType != types.EventUnclaimed {
		t.Errorf("events = %+v, want newest first, limited to 2", events)
	}
}
