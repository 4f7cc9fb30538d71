// Package storage defines the persistence contract for the workboard engine.
//
// Concrete backends live in the memory and sqlstore sub-packages. The engine
// packages (claim, lifecycle, deps) only see the interfaces declared here.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/workboard/workboard/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row because
// the row no longer has the expected state.
var ErrConflict = errors.New("conflict")

// ErrAlreadyClaimed is returned by ClaimTask when the task is neither open nor
// held under an expired lease at write time.
var ErrAlreadyClaimed = errors.New("task already claimed")

// Reader is the read side shared by Store and Transaction.
type Reader interface {
	GetBoard(ctx context.Context, id int64) (*types.Board, error)
	ListBoards(ctx context.Context) ([]*types.Board, error)
	GetColumn(ctx context.Context, id int64) (*types.Column, error)

	// GetTask and GetGoal return ErrNotFound when the row exists but is
	// the other variant.
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	GetGoal(ctx context.Context, id int64) (*types.Goal, error)
	GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error)
	GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error)

	ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error)
	ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error)

	// StatusesByIdentifier resolves identifiers of tasks or goals on a board.
	// Identifiers that do not resolve are absent from the result.
	StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error)

	// ListColumnItems returns tasks and goals of a column in position order.
	ListColumnItems(ctx context.Context, columnID int64) ([]ColumnItem, error)
	// CountColumnTasks counts non-goal tasks in a column.
	CountColumnTasks(ctx context.Context, columnID int64) (int, error)

	GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error)
}

// Store is the interface satisfied by every backend.
type Store interface {
	Reader

	// RunInTransaction executes fn atomically. If fn returns an error or
	// panics, every write made through tx is discarded.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
}

// Transaction provides atomic multi-operation support.
//
// Reads through a Transaction observe its own uncommitted writes. Engine
// operations compose several calls into one unit and never issue a pair of
// dependent writes outside a transaction boundary.
type Transaction interface {
	Reader

	CreateBoard(ctx context.Context, board *types.Board) error
	UpdateColumn(ctx context.Context, column *types.Column) error

	// NextIdentifier allocates the next identifier for a prefix on a board.
	// Identifiers are never reused, even after deletion.
	NextIdentifier(ctx context.Context, boardID int64, prefix string) (string, error)

	CreateTask(ctx context.Context, task *types.Task) error
	CreateGoal(ctx context.Context, goal *types.Goal) error

	// UpdateTask writes every mutable field of task, but only if the stored
	// status still equals expected. Returns ErrConflict otherwise.
	UpdateTask(ctx context.Context, task *types.Task, expected types.Status) error
	UpdateGoal(ctx context.Context, goal *types.Goal) error

	// ClaimTask is the compare-and-swap at the heart of claiming: it assigns
	// the task and moves it to column/position only if the row is open, or
	// in progress with claim_expires_at at or before claim.ClaimedAt.
	// Returns ErrAlreadyClaimed when no row matched.
	ClaimTask(ctx context.Context, id int64, claim types.Assignment, columnID int64, position int) error

	// SetPositions places the given items in columnID at positions 0..n-1.
	SetPositions(ctx context.Context, columnID int64, itemIDs []int64) error

	DeleteTask(ctx context.Context, id int64) error
	DeleteGoal(ctx context.Context, id int64) error

	AppendEvent(ctx context.Context, event *types.Event) error
}

// TaskFilter narrows ListTasks. Zero-valued fields do not filter.
type TaskFilter struct {
	BoardID     int64
	ColumnID    int64
	ParentID    *int64
	Statuses    []types.Status
	Identifiers []string
	DependsOn   string // Tasks whose dependency list contains this identifier
}

// ColumnItem is a position-ordered entry of a column.
type ColumnItem struct {
	ID         int64
	Identifier string
	IsGoal     bool
	Position   int
	CreatedAt  time.Time
}

// IDs returns the item ids in order.
func IDs(items []ColumnItem) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
