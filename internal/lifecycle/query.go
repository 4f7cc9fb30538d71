package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Item is a task or a goal returned by Show. Exactly one field is set.
type Item struct {
	Task *types.Task `json:"task,omitempty"`
	Goal *types.Goal `json:"goal,omitempty"`
}

// Show returns a task, or a goal with its children in column order.
func (e *Engine) Show(ctx context.Context, boardID int64, identifier string, req types.Requester) (*Item, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	if !types.IsGoalIdentifier(identifier) {
		t, err := LoadTask(ctx, e.store, boardID, identifier)
		if err != nil {
			return nil, err
		}
		return &Item{Task: t}, nil
	}
	g, err := e.store.GetGoalByIdentifier(ctx, boardID, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewNotFound("goal %s not found on board %d", identifier, boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", identifier, err)
	}
	if g.Children, err = e.store.ListTasks(ctx, storage.TaskFilter{BoardID: boardID, ParentID: &g.ID}); err != nil {
		return nil, fmt.Errorf("list children of %s: %w", identifier, err)
	}
	// Columns are seeded in pipeline order, so column id orders stages.
	slices.SortFunc(g.Children, func(a, b *types.Task) int {
		if c := cmp.Compare(a.ColumnID, b.ColumnID); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	return &Item{Goal: g}, nil
}

// itemID resolves the store id of a task or goal identifier.
func (e *Engine) itemID(ctx context.Context, boardID int64, identifier string) (int64, error) {
	if types.IsGoalIdentifier(identifier) {
		g, err := e.store.GetGoalByIdentifier(ctx, boardID, identifier)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, types.NewNotFound("goal %s not found on board %d", identifier, boardID)
		}
		if err != nil {
			return 0, err
		}
		return g.ID, nil
	}
	t, err := LoadTask(ctx, e.store, boardID, identifier)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// History lists the audit trail of a task or goal, newest first. A
// non-positive limit returns everything.
func (e *Engine) History(ctx context.Context, boardID int64, identifier string, limit int, req types.Requester) ([]*types.Event, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	id, err := e.itemID(ctx, boardID, identifier)
	if err != nil {
		return nil, err
	}
	events, err := e.store.GetEvents(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("get history of %s: %w", identifier, err)
	}
	return events, nil
}

// Dependencies walks what identifier depends on.
func (e *Engine) Dependencies(ctx context.Context, boardID int64, identifier string, recursive bool, req types.Requester) ([]types.DependencyNode, error) {
	g, err := e.graph(ctx, boardID, identifier, req)
	if err != nil {
		return nil, err
	}
	return g.Dependencies(identifier, recursive), nil
}

// Dependents walks what depends on identifier.
func (e *Engine) Dependents(ctx context.Context, boardID int64, identifier string, recursive bool, req types.Requester) ([]types.DependencyNode, error) {
	g, err := e.graph(ctx, boardID, identifier, req)
	if err != nil {
		return nil, err
	}
	return g.Dependents(identifier, recursive), nil
}

func (e *Engine) graph(ctx context.Context, boardID int64, identifier string, req types.Requester) (*deps.Graph, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	if _, err := e.itemID(ctx, boardID, identifier); err != nil {
		return nil, err
	}
	return deps.LoadGraph(ctx, e.store, boardID)
}

// ColumnView is a column with its items in position order.
type ColumnView struct {
	Column *types.Column `json:"column"`
	Items  []Item        `json:"items"`
}

// Columns returns every column of a board with its items.
func (e *Engine) Columns(ctx context.Context, boardID int64, req types.Requester) ([]ColumnView, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	board, err := LoadBoard(ctx, e.store, boardID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.ListTasks(ctx, storage.TaskFilter{BoardID: boardID})
	if err != nil {
		return nil, err
	}
	goals, err := e.store.ListGoals(ctx, boardID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Item, len(tasks)+len(goals))
	for _, t := range tasks {
		byID[t.ID] = Item{Task: t}
	}
	for _, g := range goals {
		byID[g.ID] = Item{Goal: g}
	}

	views := make([]ColumnView, 0, len(board.Columns))
	for _, col := range board.Columns {
		entries, err := e.store.ListColumnItems(ctx, col.ID)
		if err != nil {
			return nil, err
		}
		v := ColumnView{Column: col, Items: make([]Item, 0, len(entries))}
		for _, en := range entries {
			if it, ok := byID[en.ID]; ok {
				v.Items = append(v.Items, it)
			}
		}
		views = append(views, v)
	}
	return views, nil
}
