package claim

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/capability"
	"github.com/workboard/workboard/internal/conflict"
	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// boardSnapshot is the state one selection pass works from.
type boardSnapshot struct {
	board *types.Board
	now   time.Time
	// pool holds open tasks in Ready plus tasks whose lease expired.
	pool   []*types.Task
	active []*types.Task
}

func snapshot(ctx context.Context, r storage.Reader, board *types.Board, now time.Time) (*boardSnapshot, error) {
	ready := board.Column(types.StageReady)
	if ready == nil {
		return nil, fmt.Errorf("board %d has no ready column", board.ID)
	}
	tasks, err := r.ListTasks(ctx, storage.TaskFilter{
		BoardID:  board.ID,
		Statuses: []types.Status{types.StatusOpen, types.StatusInProgress},
	})
	if err != nil {
		return nil, fmt.Errorf("list claim candidates: %w", err)
	}
	s := &boardSnapshot{board: board, now: now, active: conflict.Active(tasks, now)}
	for _, t := range tasks {
		if t.LeaseExpired(now) || (t.Status == types.StatusOpen && t.ColumnID == ready.ID) {
			s.pool = append(s.pool, t)
		}
	}
	return s, nil
}

// Candidates returns every task req could claim right now, best first.
func Candidates(ctx context.Context, r storage.Reader, board *types.Board, req types.Requester, now time.Time) ([]*types.Task, error) {
	s, err := snapshot(ctx, r, board, now)
	if err != nil {
		return nil, err
	}
	var out []*types.Task
	for _, t := range capability.Filter(req, s.pool) {
		why, err := reject(ctx, r, s, req, t)
		if err != nil {
			return nil, err
		}
		if why == "" {
			out = append(out, t)
		}
	}
	Sort(out)
	return out, nil
}

// reject explains why req cannot claim t, or returns "" if it can.
func reject(ctx context.Context, r storage.Reader, s *boardSnapshot, req types.Requester, t *types.Task) (string, error) {
	switch {
	case t.LeaseExpired(s.now):
	case t.Status != types.StatusOpen:
		return fmt.Sprintf("status is %s", t.Status), nil
	case stageOf(s.board, t.ColumnID) != types.StageReady:
		return fmt.Sprintf("it is in %s, not Ready", stageOf(s.board, t.ColumnID).Title()), nil
	}
	if missing := capability.Missing(req.Capabilities, t.RequiredCapabilities); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, c := range missing {
			names[i] = string(c)
		}
		return "requires " + strings.Join(names, ", "), nil
	}
	unmet, err := deps.Unmet(ctx, r, t)
	if err != nil {
		return "", err
	}
	if len(unmet) > 0 {
		return "waiting on " + strings.Join(unmet, ", "), nil
	}
	if hits := conflict.Conflicts(t, s.active); len(hits) > 0 {
		owners := conflict.OwnedFiles(s.active, t.ID)
		parts := make([]string, len(hits))
		for i, path := range hits {
			parts[i] = path + " (" + owners[path] + ")"
		}
		return "files in use: " + strings.Join(parts, ", "), nil
	}
	return "", nil
}

func stageOf(b *types.Board, columnID int64) types.Stage {
	for _, c := range b.Columns {
		if c.ID == columnID {
			return c.Stage
		}
	}
	return ""
}

// Sort orders tasks by priority (highest first), then creation time, then
// id so the order is total.
func Sort(tasks []*types.Task) {
	slices.SortStableFunc(tasks, func(a, b *types.Task) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
