package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

func (s *state) CreateBoard(ctx context.Context, board *types.Board) error {
	board.ID = s.nextID()
	stored := *board
	stored.Columns = nil
	s.boards[board.ID] = &stored
	for _, col := range board.Columns {
		col.ID = s.nextID()
		col.BoardID = board.ID
		c := *col
		s.columns[col.ID] = &c
	}
	return nil
}

func (s *state) UpdateColumn(ctx context.Context, column *types.Column) error {
	if _, ok := s.columns[column.ID]; !ok {
		return fmt.Errorf("column %d: %w", column.ID, storage.ErrNotFound)
	}
	c := *column
	s.columns[column.ID] = &c
	return nil
}

func (s *state) NextIdentifier(ctx context.Context, boardID int64, prefix string) (string, error) {
	if _, ok := s.boards[boardID]; !ok {
		return "", fmt.Errorf("board %d: %w", boardID, storage.ErrNotFound)
	}
	key := counterKey{board: boardID, prefix: prefix}
	s.counters[key]++
	return types.FormatIdentifier(prefix, s.counters[key]), nil
}

func (s *state) identifierTaken(boardID int64, identifier string) bool {
	for _, t := range s.tasks {
		if t.BoardID == boardID && t.Identifier == identifier {
			return true
		}
	}
	for _, g := range s.goals {
		if g.BoardID == boardID && g.Identifier == identifier {
			return true
		}
	}
	return false
}

func (s *state) CreateTask(ctx context.Context, task *types.Task) error {
	if s.identifierTaken(task.BoardID, task.Identifier) {
		return fmt.Errorf("identifier %s: %w", task.Identifier, storage.ErrConflict)
	}
	task.ID = s.nextID()
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *state) CreateGoal(ctx context.Context, goal *types.Goal) error {
	if s.identifierTaken(goal.BoardID, goal.Identifier) {
		return fmt.Errorf("identifier %s: %w", goal.Identifier, storage.ErrConflict)
	}
	goal.ID = s.nextID()
	s.goals[goal.ID] = copyGoal(goal)
	return nil
}

func (s *state) UpdateTask(ctx context.Context, task *types.Task, expected types.Status) error {
	cur, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %d: %w", task.ID, storage.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("task %s is %s, expected %s: %w", cur.Identifier, cur.Status, expected, storage.ErrConflict)
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *state) UpdateGoal(ctx context.Context, goal *types.Goal) error {
	if _, ok := s.goals[goal.ID]; !ok {
		return fmt.Errorf("goal %d: %w", goal.ID, storage.ErrNotFound)
	}
	s.goals[goal.ID] = copyGoal(goal)
	return nil
}

func (s *state) ClaimTask(ctx context.Context, id int64, claim types.Assignment, columnID int64, position int) error {
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	claimable := t.Status == types.StatusOpen ||
		(t.Status == types.StatusInProgress && t.Assignment != nil && !claim.ClaimedAt.Before(t.Assignment.ExpiresAt))
	if !claimable {
		return fmt.Errorf("task %s: %w", t.Identifier, storage.ErrAlreadyClaimed)
	}
	a := claim
	t.Status = types.StatusInProgress
	t.Assignment = &a
	t.ColumnID = columnID
	t.Position = position
	t.UpdatedAt = claim.ClaimedAt
	return nil
}

func (s *state) SetPositions(ctx context.Context, columnID int64, itemIDs []int64) error {
	for i, id := range itemIDs {
		switch {
		case s.tasks[id] != nil:
			s.tasks[id].ColumnID = columnID
			s.tasks[id].Position = i
		case s.goals[id] != nil:
			s.goals[id].ColumnID = columnID
			s.goals[id].Position = i
		default:
			return fmt.Errorf("item %d: %w", id, storage.ErrNotFound)
		}
	}
	return nil
}

func (s *state) DeleteTask(ctx context.Context, id int64) error {
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

func (s *state) DeleteGoal(ctx context.Context, id int64) error {
	if _, ok := s.goals[id]; !ok {
		return fmt.Errorf("goal %d: %w", id, storage.ErrNotFound)
	}
	delete(s.goals, id)
	return nil
}

func (s *state) AppendEvent(ctx context.Context, event *types.Event) error {
	event.ID = s.nextID()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e := *event
	s.events = append(s.events, &e)
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
