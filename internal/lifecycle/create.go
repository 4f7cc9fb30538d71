package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// TaskInput describes a task to create.
type TaskInput struct {
	Title                string              `json:"title" yaml:"title" toml:"title"`
	Description          string              `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Kind                 types.Kind          `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	Priority             types.Priority      `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty"`
	Complexity           types.Complexity    `json:"complexity,omitempty" yaml:"complexity,omitempty" toml:"complexity,omitempty"`
	Dependencies         []string            `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	KeyFiles             []types.KeyFile     `json:"key_files,omitempty" yaml:"key_files,omitempty" toml:"key_files,omitempty"`
	RequiredCapabilities types.CapabilitySet `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty" toml:"required_capabilities,omitempty"`
	NeedsReview          bool                `json:"needs_review,omitempty" yaml:"needs_review,omitempty" toml:"needs_review,omitempty"`
	Stage                types.Stage         `json:"stage,omitempty" yaml:"stage,omitempty" toml:"stage,omitempty"` // backlog (default) or ready
}

// GoalInput describes a goal and its children, created together.
type GoalInput struct {
	Title       string         `json:"title" yaml:"title" toml:"title"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Priority    types.Priority `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty"`
	Children    []TaskInput    `json:"children" yaml:"children" toml:"children"`
}

// Input is a task or a goal with children. Exactly one field is set.
type Input struct {
	Task *TaskInput `json:"task,omitempty" yaml:"task,omitempty" toml:"task,omitempty"`
	Goal *GoalInput `json:"goal,omitempty" yaml:"goal,omitempty" toml:"goal,omitempty"`
}

// Created is the result of one Input.
type Created struct {
	Task *types.Task `json:"task,omitempty"`
	Goal *types.Goal `json:"goal,omitempty"`
}

// Create creates one task, or one goal with all its children, in a single
// transaction.
func (e *Engine) Create(ctx context.Context, boardID int64, in Input, req types.Requester) (*Created, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	var out *Created
	err := e.run(ctx, boardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		var err error
		out, err = e.create(ctx, tx, rec, boardID, in, req.Name, e.clock())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBatch creates each input in its own transaction. On failure the
// inputs before the failing one stay committed; the returned error carries
// the failing index.
func (e *Engine) CreateBatch(ctx context.Context, boardID int64, inputs []Input, req types.Requester) ([]*Created, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	created := make([]*Created, 0, len(inputs))
	for i, in := range inputs {
		c, err := e.Create(ctx, boardID, in, req)
		if err != nil {
			if te, ok := types.AsError(err); ok {
				return created, te.WithIndex(i)
			}
			return created, &ItemError{Index: i, Err: err}
		}
		created = append(created, c)
	}
	return created, nil
}

// ItemError tags an unstructured batch failure with the index of the item
// that caused it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

func (e *Engine) create(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, boardID int64, in Input, actor string, now time.Time) (*Created, error) {
	board, err := LoadBoard(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	switch {
	case in.Task != nil && in.Goal != nil:
		return nil, types.NewValidation("type", "give either a task or a goal, not both")
	case in.Task != nil:
		t, err := e.createTask(ctx, tx, rec, board, *in.Task, nil, actor, now)
		if err != nil {
			return nil, err
		}
		return &Created{Task: t}, nil
	case in.Goal != nil:
		g, err := e.createGoal(ctx, tx, rec, board, *in.Goal, actor, now)
		if err != nil {
			return nil, err
		}
		return &Created{Goal: g}, nil
	}
	return nil, types.NewValidation("type", "nothing to create")
}

func (e *Engine) createTask(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, board *types.Board, in TaskInput, parent *types.Goal, actor string, now time.Time) (*types.Task, error) {
	stage := in.Stage
	if stage == "" {
		stage = types.StageBacklog
	}
	if stage != types.StageBacklog && stage != types.StageReady {
		return nil, types.NewValidation("stage", "tasks are created in backlog or ready, not %s", stage)
	}
	col, err := column(board, stage)
	if err != nil {
		return nil, err
	}

	task := &types.Task{
		Item: types.Item{
			BoardID:     board.ID,
			ColumnID:    col.ID,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			Status:      types.StatusOpen,
			Priority:    in.Priority,
			CreatedBy:   actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Kind:                 in.Kind,
		Complexity:           in.Complexity,
		KeyFiles:             append([]types.KeyFile(nil), in.KeyFiles...),
		RequiredCapabilities: in.RequiredCapabilities,
		NeedsReview:          in.NeedsReview,
	}
	if parent != nil {
		id := parent.ID
		task.ParentID = &id
	}
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if task.Identifier, err = tx.NextIdentifier(ctx, board.ID, task.Kind.Prefix()); err != nil {
		return nil, fmt.Errorf("allocate identifier: %w", err)
	}
	if len(in.Dependencies) > 0 {
		// An earlier task may already name this identifier as a dependency.
		if err := deps.Validate(ctx, tx, task, in.Dependencies); err != nil {
			return nil, err
		}
		task.Dependencies = append([]string(nil), in.Dependencies...)
	}
	if _, err := deps.Recompute(ctx, tx, task); err != nil {
		return nil, err
	}
	if task.Position, err = endOf(ctx, tx, col.ID); err != nil {
		return nil, err
	}
	if err := tx.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := rec.Append(ctx, tx, &types.Event{
		ItemID:     task.ID,
		Identifier: task.Identifier,
		EventType:  types.EventCreated,
		Actor:      actor,
		NewValue:   string(task.Status),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	return task, nil
}

func (e *Engine) createGoal(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, board *types.Board, in GoalInput, actor string, now time.Time) (*types.Goal, error) {
	if len(in.Children) == 0 {
		return nil, types.NewValidation("children", "a goal needs at least one child task")
	}
	goal := &types.Goal{Item: types.Item{
		BoardID:     board.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      types.StatusOpen,
		Priority:    in.Priority,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	if goal.Priority == "" {
		goal.Priority = types.PriorityMedium
	}
	if err := goal.Validate(); err != nil {
		return nil, err
	}

	// The goal starts in its first child's column; aggregation below settles it.
	first := in.Children[0].Stage
	if first == "" {
		first = types.StageBacklog
	}
	col := board.Column(first)
	if col == nil {
		return nil, types.NewValidation("stage", "invalid stage: %q", first)
	}
	goal.ColumnID = col.ID

	var err error
	if goal.Identifier, err = tx.NextIdentifier(ctx, board.ID, types.PrefixGoal); err != nil {
		return nil, fmt.Errorf("allocate identifier: %w", err)
	}
	if goal.Position, err = endOf(ctx, tx, col.ID); err != nil {
		return nil, err
	}
	if err := tx.CreateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	if err := rec.Append(ctx, tx, &types.Event{
		ItemID:     goal.ID,
		Identifier: goal.Identifier,
		EventType:  types.EventCreated,
		Actor:      actor,
		NewValue:   string(goal.Status),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	for i, child := range in.Children {
		t, err := e.createTask(ctx, tx, rec, board, child, goal, actor, now)
		if err != nil {
			if te, ok := types.AsError(err); ok && te.Field != "" {
				te.Field = fmt.Sprintf("children[%d].%s", i, te.Field)
			}
			return nil, err
		}
		goal.Children = append(goal.Children, t)
	}
	if err := AggregateGoal(ctx, tx, rec, goal.Children[0], goal.Children[0].ID, actor, now); err != nil {
		return nil, err
	}
	// Reload for the aggregated placement.
	stored, err := tx.GetGoal(ctx, goal.ID)
	if err != nil {
		return nil, err
	}
	stored.Children = goal.Children
	return stored, nil
}
