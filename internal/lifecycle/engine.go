// Package lifecycle implements the task state machine: creation, completion,
// review routing, manual moves, dependency edits and deletion, together
// with goal aggregation.
//
// Every operation runs in one store transaction. Derived changes (goal
// placement, dependents flipping between open and blocked, audit rows) are
// written in that same transaction; change notifications are published only
// after it commits.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/gate"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Engine applies lifecycle operations to a store.
type Engine struct {
	store    storage.Store
	gate     *gate.Gate
	pub      eventbus.Publisher
	now      func() time.Time
	leaseTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p eventbus.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithLeaseTTL sets the lease renewed when review bounces a task back.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.leaseTTL = ttl }
}

// New creates an engine. A nil gate uses the default hook configuration.
func New(store storage.Store, g *gate.Gate, opts ...Option) *Engine {
	if g == nil {
		g = gate.New(nil)
	}
	e := &Engine{
		store:    store,
		gate:     g,
		pub:      eventbus.Nop{},
		now:      time.Now,
		leaseTTL: types.DefaultLeaseTTL,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Gate returns the hook gate the engine validates against.
func (e *Engine) Gate() *gate.Gate { return e.gate }

func (e *Engine) clock() time.Time { return e.now().UTC() }

// run executes fn in a transaction and publishes what it recorded once the
// transaction has committed.
func (e *Engine) run(ctx context.Context, boardID int64, fn func(tx storage.Transaction, rec *eventbus.Recorder) error) error {
	rec := eventbus.NewRecorder(boardID)
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		rec.Reset()
		return fn(tx, rec)
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx, e.pub)
	return nil
}

// CheckAccess rejects requesters scoped away from a board.
func CheckAccess(req types.Requester, boardID int64) error {
	if !req.CanAccess(boardID) {
		return types.NewForbidden("requester %s has no access to board %d", req.Name, boardID)
	}
	return nil
}

// LoadBoard fetches a board or returns a NotFound error.
func LoadBoard(ctx context.Context, r storage.Reader, boardID int64) (*types.Board, error) {
	b, err := r.GetBoard(ctx, boardID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewNotFound("board %d not found", boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get board %d: %w", boardID, err)
	}
	return b, nil
}

// LoadTask resolves a non-goal task by identifier on a board.
func LoadTask(ctx context.Context, r storage.Reader, boardID int64, identifier string) (*types.Task, error) {
	if types.IsGoalIdentifier(identifier) {
		return nil, types.NewValidation("identifier", "%s is a goal; goals follow their children", identifier)
	}
	t, err := r.GetTaskByIdentifier(ctx, boardID, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewNotFound("task %s not found on board %d", identifier, boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", identifier, err)
	}
	return t, nil
}

// column returns the board column for a stage. Every board is seeded with
// the full pipeline, so a missing column is a storage fault.
func column(b *types.Board, stage types.Stage) (*types.Column, error) {
	c := b.Column(stage)
	if c == nil {
		return nil, fmt.Errorf("board %d has no %s column", b.ID, stage)
	}
	return c, nil
}

// stageOf returns the stage of the column a task sits in.
func stageOf(b *types.Board, columnID int64) types.Stage {
	for _, c := range b.Columns {
		if c.ID == columnID {
			return c.Stage
		}
	}
	return ""
}

// casError turns a lost compare-and-swap into a Conflict.
func casError(identifier string, err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return types.NewConflict("", "%s was changed concurrently; reload and retry", identifier)
	}
	return err
}

// CreateBoard creates a board seeded with the standard pipeline.
func (e *Engine) CreateBoard(ctx context.Context, name string, req types.Requester) (*types.Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewValidation("name", "board name is required")
	}
	now := e.clock()
	board := types.NewBoard(name, now)
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateBoard(ctx, board)
	})
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	e.pub.Publish(ctx, &eventbus.Event{
		Type:     eventbus.EventBoardCreated,
		BoardID:  board.ID,
		Actor:    req.Name,
		NewValue: board.Name,
		At:       now,
	})
	return board, nil
}

// GetBoard returns a board with its columns.
func (e *Engine) GetBoard(ctx context.Context, boardID int64, req types.Requester) (*types.Board, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	return LoadBoard(ctx, e.store, boardID)
}

// ListBoards returns the boards the requester can see.
func (e *Engine) ListBoards(ctx context.Context, req types.Requester) ([]*types.Board, error) {
	all, err := e.store.ListBoards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	out := all[:0]
	for _, b := range all {
		if req.CanAccess(b.ID) {
			out = append(out, b)
		}
	}
	return out, nil
}

// SetWIPLimit updates the WIP limit of a board's column. Zero removes it.
func (e *Engine) SetWIPLimit(ctx context.Context, boardID int64, stage types.Stage, limit int, req types.Requester) (*types.Column, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	if !stage.IsValid() {
		return nil, types.NewValidation("stage", "invalid stage: %q", stage)
	}
	if limit < 0 {
		return nil, types.NewValidation("wip_limit", "wip limit must not be negative (got %d)", limit)
	}
	var col *types.Column
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		b, err := LoadBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if col, err = column(b, stage); err != nil {
			return err
		}
		col.WIPLimit = limit
		return tx.UpdateColumn(ctx, col)
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}
