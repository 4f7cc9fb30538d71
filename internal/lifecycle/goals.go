package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// AggregateGoal re-derives the placement of child's parent goal after the
// child changed column.
//
// If every child sits in one column the goal moves there, immediately
// before anchor (or to the end when that column is Done). Children split
// across columns leave the goal where it is. A goal is completed exactly
// when it sits in Done; when its completion flips, its dependents are
// re-evaluated in the same transaction.
//
// anchor is the id of the triggering child; 0 anchors on the first child
// in column order.
func AggregateGoal(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, child *types.Task, anchor int64, actor string, now time.Time) error {
	if child.ParentID == nil {
		return nil
	}
	goal, err := tx.GetGoal(ctx, *child.ParentID)
	if err != nil {
		return fmt.Errorf("get goal of %s: %w", child.Identifier, err)
	}
	children, err := tx.ListTasks(ctx, storage.TaskFilter{BoardID: goal.BoardID, ParentID: &goal.ID})
	if err != nil {
		return fmt.Errorf("list children of %s: %w", goal.Identifier, err)
	}
	if len(children) == 0 {
		return nil
	}

	shared := children[0].ColumnID
	for _, c := range children[1:] {
		if c.ColumnID != shared {
			shared = 0
			break
		}
	}

	prevColumn, prevStatus := goal.ColumnID, goal.Status
	var stage types.Stage
	if shared != 0 {
		col, err := tx.GetColumn(ctx, shared)
		if err != nil {
			return fmt.Errorf("get column %d: %w", shared, err)
		}
		stage = col.Stage
		goal.ColumnID = shared
	} else {
		col, err := tx.GetColumn(ctx, goal.ColumnID)
		if err != nil {
			return fmt.Errorf("get column %d: %w", goal.ColumnID, err)
		}
		stage = col.Stage
	}
	setGoalStatus(goal, shared != 0 && stage == types.StageDone, actor, now)

	if shared == 0 && goal.Status == prevStatus {
		return nil
	}

	goal.UpdatedAt = now
	if err := tx.UpdateGoal(ctx, goal); err != nil {
		return fmt.Errorf("update goal %s: %w", goal.Identifier, err)
	}

	if shared != 0 {
		index := -1
		if stage != types.StageDone {
			if index, err = anchorIndex(ctx, tx, shared, goal.ID, anchor); err != nil {
				return err
			}
		}
		if goal.Position, err = Relocate(ctx, tx, goal.ID, prevColumn, shared, index); err != nil {
			return err
		}
	}

	if goal.ColumnID != prevColumn {
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     goal.ID,
			Identifier: goal.Identifier,
			EventType:  types.EventMoved,
			Actor:      actor,
			OldValue:   fmt.Sprint(prevColumn),
			NewValue:   fmt.Sprint(goal.ColumnID),
			Comment:    "following " + child.Identifier,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
	}
	if goal.Status != prevStatus {
		if err := refreshDependents(ctx, tx, rec, goal.BoardID, goal.Identifier, actor, now); err != nil {
			return err
		}
	}
	return nil
}

func setGoalStatus(goal *types.Goal, done bool, actor string, now time.Time) {
	switch {
	case done && goal.Status != types.StatusCompleted:
		goal.Status = types.StatusCompleted
		goal.CompletedBy = actor
		t := now
		goal.CompletedAt = &t
	case !done && goal.Status == types.StatusCompleted:
		goal.Status = types.StatusOpen
		goal.CompletedBy = ""
		goal.CompletedAt = nil
	}
}

// anchorIndex finds where the goal goes in column: at the anchor child's
// slot once the goal itself is taken out of the ordering.
func anchorIndex(ctx context.Context, tx storage.Reader, columnID, goalID, anchor int64) (int, error) {
	items, err := tx.ListColumnItems(ctx, columnID)
	if err != nil {
		return 0, fmt.Errorf("list column %d: %w", columnID, err)
	}
	ids := without(storage.IDs(items), goalID)
	for i, id := range ids {
		if id == anchor {
			return i, nil
		}
	}
	// Anchor gone: sit before the first of the goal's children.
	for i, it := range items {
		if !it.IsGoal && it.ID != goalID {
			t, err := tx.GetTask(ctx, it.ID)
			if err != nil {
				return 0, fmt.Errorf("get task %d: %w", it.ID, err)
			}
			if t.ParentID != nil && *t.ParentID == goalID {
				return indexIn(ids, items[i].ID), nil
			}
		}
	}
	return -1, nil
}

func indexIn(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// refreshDependents flips dependents of identifier and queues notifications
// for the ones that changed.
func refreshDependents(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, boardID int64, identifier, actor string, now time.Time) error {
	changed, err := deps.RefreshDependents(ctx, tx, boardID, identifier, actor, now)
	if err != nil {
		return err
	}
	for _, t := range changed {
		et := types.EventUnblocked
		if t.Status == types.StatusBlocked {
			et = types.EventDependenciesChanged
		}
		rec.Add(&eventbus.Event{
			Type:       et,
			BoardID:    boardID,
			ItemID:     t.ID,
			Identifier: t.Identifier,
			Actor:      actor,
			NewValue:   string(t.Status),
			Comment:    identifier,
			At:         now,
		})
	}
	return nil
}

// removeChild deletes goal when child was its last child; otherwise it
// re-derives the goal's placement from the remaining children.
func removeChild(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, child *types.Task, actor string, now time.Time) error {
	if child.ParentID == nil {
		return nil
	}
	remaining, err := tx.ListTasks(ctx, storage.TaskFilter{BoardID: child.BoardID, ParentID: child.ParentID})
	if err != nil {
		return fmt.Errorf("list siblings of %s: %w", child.Identifier, err)
	}
	if len(remaining) > 0 {
		return AggregateGoal(ctx, tx, rec, remaining[0], 0, actor, now)
	}

	goal, err := tx.GetGoal(ctx, *child.ParentID)
	if err != nil {
		return fmt.Errorf("get goal of %s: %w", child.Identifier, err)
	}
	dependents, err := tx.ListTasks(ctx, storage.TaskFilter{BoardID: goal.BoardID, DependsOn: goal.Identifier})
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return types.NewValidation("dependents", "deleting %s would delete goal %s, which %s depends on",
			child.Identifier, goal.Identifier, dependents[0].Identifier)
	}
	if err := tx.DeleteGoal(ctx, goal.ID); err != nil {
		return fmt.Errorf("delete goal %s: %w", goal.Identifier, err)
	}
	if err := closeGap(ctx, tx, goal.ColumnID, goal.ID); err != nil {
		return err
	}
	return rec.Append(ctx, tx, &types.Event{
		ItemID:     goal.ID,
		Identifier: goal.Identifier,
		EventType:  types.EventDeleted,
		Actor:      actor,
		Comment:    "last child " + child.Identifier + " deleted",
		CreatedAt:  now,
	})
}
