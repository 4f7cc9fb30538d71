// Package teststore provides store fixtures for engine tests.
//
// All helpers operate through the storage interfaces, so tests stay
// backend-agnostic. New returns the in-memory backend; NewSQLite returns a
// file-backed SQLite store in a temp directory.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    w1 := env.Task(types.StageReady, teststore.Title("fix the widget"))
//	    ...
//	}
package teststore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/storage/memory"
	"github.com/workboard/workboard/internal/storage/sqlstore"
	"github.com/workboard/workboard/internal/types"
)

// Epoch is the fixed creation time used by fixtures.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// New creates an isolated in-memory store.
func New(t testing.TB) storage.Store {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewSQLite creates an isolated SQLite store under t.TempDir().
func NewSQLite(t testing.TB) storage.Store {
	t.Helper()
	s, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "workboard.db"))
	if err != nil {
		t.Fatalf("teststore: failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Env is a store with one seeded board.
type Env struct {
	T     testing.TB
	Ctx   context.Context
	Store storage.Store
	Board *types.Board

	clock time.Time
}

// NewEnv seeds a board on an in-memory store.
func NewEnv(t testing.TB) *Env {
	return NewEnvWith(t, New(t))
}

// NewEnvWith seeds a board on the given store.
func NewEnvWith(t testing.TB, s storage.Store) *Env {
	t.Helper()
	e := &Env{T: t, Ctx: context.Background(), Store: s, clock: Epoch}
	board := types.NewBoard("test", Epoch)
	e.Tx(func(tx storage.Transaction) error { return tx.CreateBoard(e.Ctx, board) })
	e.Board = board
	return e
}

// Tx runs fn in a transaction and fails the test on error.
func (e *Env) Tx(fn func(tx storage.Transaction) error) {
	e.T.Helper()
	if err := e.Store.RunInTransaction(e.Ctx, fn); err != nil {
		e.T.Fatalf("teststore: transaction failed: %v", err)
	}
}

// Column returns the seeded column for a stage.
func (e *Env) Column(stage types.Stage) *types.Column {
	return e.Board.Column(stage)
}

// SetWIPLimit updates a column's limit.
func (e *Env) SetWIPLimit(stage types.Stage, limit int) {
	e.T.Helper()
	col := e.Column(stage)
	col.WIPLimit = limit
	e.Tx(func(tx storage.Transaction) error { return tx.UpdateColumn(e.Ctx, col) })
}

// Option customizes a fixture task.
type Option func(*types.Task)

// Title sets the title.
func Title(s string) Option { return func(t *types.Task) { t.Title = s } }

// Priority sets the priority.
func Priority(p types.Priority) Option { return func(t *types.Task) { t.Priority = p } }

// Status sets the status.
func Status(s types.Status) Option { return func(t *types.Task) { t.Status = s } }

// DependsOn sets the dependency identifiers.
func DependsOn(ids ...string) Option { return func(t *types.Task) { t.Dependencies = ids } }

// Files sets the key file paths.
func Files(paths ...string) Option {
	return func(t *types.Task) {
		t.KeyFiles = nil
		for i, p := range paths {
			t.KeyFiles = append(t.KeyFiles, types.KeyFile{Path: p, Position: i})
		}
	}
}

// Requires sets the required capabilities.
func Requires(caps ...types.Capability) Option {
	return func(t *types.Task) { t.RequiredCapabilities = types.NewCapabilitySet(caps...) }
}

// NeedsReview marks the task for review.
func NeedsReview() Option { return func(t *types.Task) { t.NeedsReview = true } }

// Parent sets the parent goal.
func Parent(g *types.Goal) Option { return func(t *types.Task) { id := g.ID; t.ParentID = &id } }

// ClaimedBy gives the task a live assignment starting at at.
func ClaimedBy(who string, at time.Time) Option {
	return func(t *types.Task) {
		t.Status = types.StatusInProgress
		t.Assignment = &types.Assignment{AssignedTo: who, Agent: true, ClaimedAt: at, ExpiresAt: at.Add(types.DefaultLeaseTTL)}
	}
}

// Task inserts a task at the end of a stage's column. Each call advances
// the fixture clock by a minute so creation order is deterministic.
func (e *Env) Task(stage types.Stage, opts ...Option) *types.Task {
	e.T.Helper()
	e.clock = e.clock.Add(time.Minute)
	task := &types.Task{
		Item: types.Item{
			BoardID:   e.Board.ID,
			ColumnID:  e.Column(stage).ID,
			Title:     "task",
			Status:    types.StatusOpen,
			Priority:  types.PriorityMedium,
			CreatedBy: "fixture",
			CreatedAt: e.clock,
			UpdatedAt: e.clock,
		},
		Kind: types.KindWork,
	}
	for _, opt := range opts {
		opt(task)
	}
	e.Tx(func(tx storage.Transaction) error {
		id, err := tx.NextIdentifier(e.Ctx, e.Board.ID, task.Kind.Prefix())
		if err != nil {
			return err
		}
		task.Identifier = id
		items, err := tx.ListColumnItems(e.Ctx, task.ColumnID)
		if err != nil {
			return err
		}
		task.Position = len(items)
		return tx.CreateTask(e.Ctx, task)
	})
	return task
}

// Goal inserts a goal at the end of a stage's column.
func (e *Env) Goal(stage types.Stage, title string) *types.Goal {
	e.T.Helper()
	e.clock = e.clock.Add(time.Minute)
	goal := &types.Goal{Item: types.Item{
		BoardID:   e.Board.ID,
		ColumnID:  e.Column(stage).ID,
		Title:     title,
		Status:    types.StatusOpen,
		Priority:  types.PriorityMedium,
		CreatedBy: "fixture",
		CreatedAt: e.clock,
		UpdatedAt: e.clock,
	}}
	e.Tx(func(tx storage.Transaction) error {
		id, err := tx.NextIdentifier(e.Ctx, e.Board.ID, types.PrefixGoal)
		if err != nil {
			return err
		}
		goal.Identifier = id
		items, err := tx.ListColumnItems(e.Ctx, goal.ColumnID)
		if err != nil {
			return err
		}
		goal.Position = len(items)
		return tx.CreateGoal(e.Ctx, goal)
	})
	return goal
}

// Reload fetches the current stored state of a task.
func (e *Env) Reload(task *types.Task) *types.Task {
	e.T.Helper()
	got, err := e.Store.GetTask(e.Ctx, task.ID)
	if err != nil {
		e.T.Fatalf("teststore: reload %s: %v", task.Identifier, err)
	}
	return got
}

// ReloadGoal fetches the current stored state of a goal.
func (e *Env) ReloadGoal(goal *types.Goal) *types.Goal {
	e.T.Helper()
	got, err := e.Store.GetGoal(e.Ctx, goal.ID)
	if err != nil {
		e.T.Fatalf("teststore: reload %s: %v", goal.Identifier, err)
	}
	return got
}

// ColumnOrder lists the identifiers of a stage's column in position order.
func (e *Env) ColumnOrder(stage types.Stage) []string {
	e.T.Helper()
	items, err := e.Store.ListColumnItems(e.Ctx, e.Column(stage).ID)
	if err != nil {
		e.T.Fatalf("teststore: list column: %v", err)
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Identifier
	}
	return ids
}
