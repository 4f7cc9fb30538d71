// Package memory implements the storage interface in process memory.
//
// Transactions run against a private copy of the state under an exclusive
// lock and replace the shared state only on success, so a failed unit of
// work leaves nothing behind. Used by tests and by `store.backend: memory`.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Verify interfaces at compile time
var (
	_ storage.Store       = (*MemoryStorage)(nil)
	_ storage.Transaction = (*memoryTx)(nil)
)

// MemoryStorage is a goroutine-safe in-memory Store.
type MemoryStorage struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{st: newState()}
}

type memoryTx struct {
	*state
}

// RunInTransaction executes fn against a copy of the state and commits the
// copy if fn succeeds.
func (m *MemoryStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}

	work := m.st.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// Close marks the store closed.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStorage) read() (*state, func()) {
	m.mu.RLock()
	return m.st, m.mu.RUnlock
}

func (m *MemoryStorage) GetBoard(ctx context.Context, id int64) (*types.Board, error) {
	st, done := m.read()
	defer done()
	return st.GetBoard(ctx, id)
}

func (m *MemoryStorage) ListBoards(ctx context.Context) ([]*types.Board, error) {
	st, done := m.read()
	defer done()
	return st.ListBoards(ctx)
}

func (m *MemoryStorage) GetColumn(ctx context.Context, id int64) (*types.Column, error) {
	st, done := m.read()
	defer done()
	return st.GetColumn(ctx, id)
}

func (m *MemoryStorage) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	st, done := m.read()
	defer done()
	return st.GetTask(ctx, id)
}

func (m *MemoryStorage) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	st, done := m.read()
	defer done()
	return st.GetGoal(ctx, id)
}

func (m *MemoryStorage) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	st, done := m.read()
	defer done()
	return st.GetTaskByIdentifier(ctx, boardID, identifier)
}

func (m *MemoryStorage) GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error) {
	st, done := m.read()
	defer done()
	return st.GetGoalByIdentifier(ctx, boardID, identifier)
}

func (m *MemoryStorage) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	st, done := m.read()
	defer done()
	return st.ListTasks(ctx, filter)
}

func (m *MemoryStorage) ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error) {
	st, done := m.read()
	defer done()
	return st.ListGoals(ctx, boardID)
}

func (m *MemoryStorage) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	st, done := m.read()
	defer done()
	return st.StatusesByIdentifier(ctx, boardID, identifiers)
}

func (m *MemoryStorage) ListColumnItems(ctx context.Context, columnID int64) ([]storage.ColumnItem, error) {
	st, done := m.read()
	defer done()
	return st.ListColumnItems(ctx, columnID)
}

func (m *MemoryStorage) CountColumnTasks(ctx context.Context, columnID int64) (int, error) {
	st, done := m.read()
	defer done()
	return st.CountColumnTasks(ctx, columnID)
}

func (m *MemoryStorage) GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error) {
	st, done := m.read()
	defer done()
	return st.GetEvents(ctx, itemID, limit)
}

type counterKey struct {
	board  int64
	prefix string
}

// state is the full dataset. Methods on *state implement both the read and
// write halves of storage.Transaction.
type state struct {
	seq      int64
	boards   map[int64]*types.Board
	columns  map[int64]*types.Column
	tasks    map[int64]*types.Task
	goals    map[int64]*types.Goal
	counters map[counterKey]int
	events   []*types.Event
}

func newState() *state {
	return &state{
		boards:   make(map[int64]*types.Board),
		columns:  make(map[int64]*types.Column),
		tasks:    make(map[int64]*types.Task),
		goals:    make(map[int64]*types.Goal),
		counters: make(map[counterKey]int),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) clone() *state {
	c := &state{
		seq:      s.seq,
		boards:   make(map[int64]*types.Board, len(s.boards)),
		columns:  make(map[int64]*types.Column, len(s.columns)),
		tasks:    make(map[int64]*types.Task, len(s.tasks)),
		goals:    make(map[int64]*types.Goal, len(s.goals)),
		counters: make(map[counterKey]int, len(s.counters)),
		events:   slices.Clone(s.events),
	}
	for id, b := range s.boards {
		bc := *b
		c.boards[id] = &bc
	}
	for id, col := range s.columns {
		cc := *col
		c.columns[id] = &cc
	}
	for id, t := range s.tasks {
		c.tasks[id] = copyTask(t)
	}
	for id, g := range s.goals {
		c.goals[id] = copyGoal(g)
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

func copyTask(t *types.Task) *types.Task {
	c := *t
	c.CompletedAt = copyTime(t.CompletedAt)
	if t.ParentID != nil {
		p := *t.ParentID
		c.ParentID = &p
	}
	if t.Assignment != nil {
		a := *t.Assignment
		c.Assignment = &a
	}
	c.Dependencies = slices.Clone(t.Dependencies)
	c.KeyFiles = slices.Clone(t.KeyFiles)
	c.RequiredCapabilities = slices.Clone(t.RequiredCapabilities)
	return &c
}

func copyGoal(g *types.Goal) *types.Goal {
	c := *g
	c.CompletedAt = copyTime(g.CompletedAt)
	c.Children = nil
	return &c
}

func (s *state) boardWithColumns(b *types.Board) *types.Board {
	c := *b
	c.Columns = nil
	for _, col := range s.columns {
		if col.BoardID == b.ID {
			cc := *col
			c.Columns = append(c.Columns, &cc)
		}
	}
	sort.Slice(c.Columns, func(i, j int) bool { return c.Columns[i].Position < c.Columns[j].Position })
	return &c
}

func (s *state) GetBoard(ctx context.Context, id int64) (*types.Board, error) {
	b, ok := s.boards[id]
	if !ok {
		return nil, fmt.Errorf("board %d: %w", id, storage.ErrNotFound)
	}
	return s.boardWithColumns(b), nil
}

func (s *state) ListBoards(ctx context.Context) ([]*types.Board, error) {
	var out []*types.Board
	for _, b := range s.boards {
		out = append(out, s.boardWithColumns(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetColumn(ctx context.Context, id int64) (*types.Column, error) {
	col, ok := s.columns[id]
	if !ok {
		return nil, fmt.Errorf("column %d: %w", id, storage.ErrNotFound)
	}
	c := *col
	return &c, nil
}

func (s *state) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	return copyTask(t), nil
}

func (s *state) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	g, ok := s.goals[id]
	if !ok {
		return nil, fmt.Errorf("goal %d: %w", id, storage.ErrNotFound)
	}
	return copyGoal(g), nil
}

func (s *state) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	for _, t := range s.tasks {
		if t.BoardID == boardID && t.Identifier == identifier {
			return copyTask(t), nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", identifier, storage.ErrNotFound)
}

func (s *state) GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error) {
	for _, g := range s.goals {
		if g.BoardID == boardID && g.Identifier == identifier {
			return copyGoal(g), nil
		}
	}
	return nil, fmt.Errorf("goal %s: %w", identifier, storage.ErrNotFound)
}

func (s *state) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	var out []*types.Task
	for _, t := range s.tasks {
		if filter.BoardID != 0 && t.BoardID != filter.BoardID {
			continue
		}
		if filter.ColumnID != 0 && t.ColumnID != filter.ColumnID {
			continue
		}
		if filter.ParentID != nil && (t.ParentID == nil || *t.ParentID != *filter.ParentID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		if len(filter.Identifiers) > 0 && !slices.Contains(filter.Identifiers, t.Identifier) {
			continue
		}
		if filter.DependsOn != "" && !slices.Contains(t.Dependencies, filter.DependsOn) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error) {
	var out []*types.Goal
	for _, g := range s.goals {
		if boardID == 0 || g.BoardID == boardID {
			out = append(out, copyGoal(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	out := make(map[string]types.Status, len(identifiers))
	for _, t := range s.tasks {
		if t.BoardID == boardID && slices.Contains(identifiers, t.Identifier) {
			out[t.Identifier] = t.Status
		}
	}
	for _, g := range s.goals {
		if g.BoardID == boardID && slices.Contains(identifiers, g.Identifier) {
			out[g.Identifier] = g.Status
		}
	}
	return out, nil
}

func (s *state) ListColumnItems(ctx context.Context, columnID int64) ([]storage.ColumnItem, error) {
	var out []storage.ColumnItem
	for _, t := range s.tasks {
		if t.ColumnID == columnID {
			out = append(out, storage.ColumnItem{ID: t.ID, Identifier: t.Identifier, Position: t.Position, CreatedAt: t.CreatedAt})
		}
	}
	for _, g := range s.goals {
		if g.ColumnID == columnID {
			out = append(out, storage.ColumnItem{ID: g.ID, Identifier: g.Identifier, IsGoal: true, Position: g.Position, CreatedAt: g.CreatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CountColumnTasks(ctx context.Context, columnID int64) (int, error) {
	n := 0
	for _, t := range s.tasks {
		if t.ColumnID == columnID {
			n++
		}
	}
	return n, nil
}

func (s *state) GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error) {
	var out []*types.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ItemID != itemID {
			continue
		}
		e := *s.events[i]
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
