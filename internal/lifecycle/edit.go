package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// UpdateDependencies replaces a task's dependency list. Each new edge is
// checked for cycles and the task is re-evaluated between open and blocked.
// Only tasks that have not started can change dependencies.
func (e *Engine) UpdateDependencies(ctx context.Context, boardID int64, identifier string, dependencies []string, req types.Requester) (*types.Task, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	var out *types.Task
	err := e.run(ctx, boardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		t, err := LoadTask(ctx, tx, boardID, identifier)
		if err != nil {
			return err
		}
		if t.Status != types.StatusOpen && t.Status != types.StatusBlocked {
			return types.NewValidation("status", "%s is %s; dependencies can only change before work starts", t.Identifier, t.Status)
		}
		if err := deps.Validate(ctx, tx, t, dependencies); err != nil {
			return err
		}
		prior, old := t.Status, strings.Join(t.Dependencies, ",")
		t.Dependencies = append([]string(nil), dependencies...)
		if _, err := deps.Recompute(ctx, tx, t); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t, prior); err != nil {
			return casError(t.Identifier, err)
		}
		out = t
		return rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventDependenciesChanged,
			Actor:      req.Name,
			OldValue:   old,
			NewValue:   strings.Join(t.Dependencies, ","),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a task. A task that others depend on cannot be deleted.
// Deleting the last child of a goal deletes the goal too; either way the
// columns involved are renumbered to close the gap.
func (e *Engine) Delete(ctx context.Context, boardID int64, identifier string, req types.Requester) error {
	if err := CheckAccess(req, boardID); err != nil {
		return err
	}
	return e.run(ctx, boardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		t, err := LoadTask(ctx, tx, boardID, identifier)
		if err != nil {
			return err
		}
		dependents, err := tx.ListTasks(ctx, storage.TaskFilter{BoardID: boardID, DependsOn: t.Identifier})
		if err != nil {
			return fmt.Errorf("list dependents of %s: %w", t.Identifier, err)
		}
		if len(dependents) > 0 {
			names := make([]string, len(dependents))
			for i, d := range dependents {
				names[i] = d.Identifier
			}
			return types.NewValidation("dependents", "%s cannot be deleted; %s depend on it", t.Identifier, strings.Join(names, ", "))
		}
		if err := tx.DeleteTask(ctx, t.ID); err != nil {
			return fmt.Errorf("delete task %s: %w", t.Identifier, err)
		}
		if err := closeGap(ctx, tx, t.ColumnID, t.ID); err != nil {
			return err
		}
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventDeleted,
			Actor:      req.Name,
			OldValue:   string(t.Status),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return removeChild(ctx, tx, rec, t, req.Name, now)
	})
}
