package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/capability"
	"github.com/workboard/workboard/internal/conflict"
	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/gate"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Outcome is a task after a transition plus the hook the requester must
// run next, if any.
type Outcome struct {
	Task *types.Task     `json:"task"`
	Next *types.HookSpec `json:"next_hook,omitempty"`
}

// CompleteRequest finishes work on a claimed task.
type CompleteRequest struct {
	BoardID      int64             `json:"-"`
	Identifier   string            `json:"-"`
	Requester    types.Requester   `json:"-"`
	AfterDoing   *types.HookResult `json:"after_doing"`
	BeforeReview *types.HookResult `json:"before_review"`
	Summary      string            `json:"completion_summary,omitempty"`
}

// Complete moves a task from Doing to Review (needs_review) or Done. Both
// hook results are checked before anything is written; a rejection leaves
// the task untouched.
func (e *Engine) Complete(ctx context.Context, r CompleteRequest) (*Outcome, error) {
	if err := CheckAccess(r.Requester, r.BoardID); err != nil {
		return nil, err
	}
	var out Outcome
	err := e.run(ctx, r.BoardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		board, err := LoadBoard(ctx, tx, r.BoardID)
		if err != nil {
			return err
		}
		t, err := LoadTask(ctx, tx, r.BoardID, r.Identifier)
		if err != nil {
			return err
		}
		if t.Status != types.StatusInProgress && t.Status != types.StatusBlocked {
			return types.NewValidation("status", "%s is %s; only in_progress or blocked tasks can be completed", t.Identifier, t.Status)
		}
		if who := t.AssignedTo(); who != "" && who != r.Requester.Name {
			return types.NewForbidden("%s is claimed by %s", t.Identifier, who)
		}
		results := map[types.HookPoint]*types.HookResult{
			types.HookAfterDoing:   r.AfterDoing,
			types.HookBeforeReview: r.BeforeReview,
		}
		if err := e.gate.ValidateAll(results, types.HookAfterDoing, types.HookBeforeReview); err != nil {
			return err
		}

		prior, from := t.Status, t.ColumnID
		t.CompletedBy = r.Requester.Name
		t.CompletionSummary = strings.TrimSpace(r.Summary)
		t.UpdatedAt = now
		stage, et := types.StageDone, types.EventCompleted
		if t.NeedsReview {
			stage, et = types.StageReview, types.EventSubmittedForReview
			t.Status = types.StatusReview
			t.ReviewStatus = types.ReviewPending
			out.Next = gate.ForTask(e.gate.Next(types.HookBeforeReview), t)
		} else {
			markCompleted(t, r.Requester.Name, now)
		}
		if err := e.place(ctx, tx, board, t, prior, from, stage, -1); err != nil {
			return err
		}
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  et,
			Actor:      r.Requester.Name,
			OldValue:   string(prior),
			NewValue:   string(t.Status),
			Comment:    t.CompletionSummary,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := e.settle(ctx, tx, rec, t, prior, r.Requester.Name, now); err != nil {
			return err
		}
		out.Task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetReviewStatus records a reviewer's verdict on a task in review. It does
// not move the task; MarkReviewed does.
func (e *Engine) SetReviewStatus(ctx context.Context, boardID int64, identifier string, status types.ReviewStatus, notes string, req types.Requester) (*types.Task, error) {
	if err := CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, types.NewValidation("review_status", "invalid review status: %q", status)
	}
	var out *types.Task
	err := e.run(ctx, boardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		t, err := LoadTask(ctx, tx, boardID, identifier)
		if err != nil {
			return err
		}
		if t.Status != types.StatusReview {
			return types.NewValidation("status", "%s is %s; review status can only be set in review", t.Identifier, t.Status)
		}
		old := t.ReviewStatus
		t.ReviewStatus = status
		t.ReviewNotes = notes
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t, types.StatusReview); err != nil {
			return casError(t.Identifier, err)
		}
		out = t
		return rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventReviewStatusChanged,
			Actor:      req.Name,
			OldValue:   string(old),
			NewValue:   string(status),
			Comment:    notes,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkReviewedRequest finalizes a review.
type MarkReviewedRequest struct {
	BoardID     int64             `json:"-"`
	Identifier  string            `json:"-"`
	Requester   types.Requester   `json:"-"`
	AfterReview *types.HookResult `json:"after_review"`
}

// MarkReviewed routes a reviewed task by its review_status: approved goes to
// Done; changes_requested and rejected go back to Doing with the original
// assignee and a renewed lease.
func (e *Engine) MarkReviewed(ctx context.Context, r MarkReviewedRequest) (*Outcome, error) {
	if err := CheckAccess(r.Requester, r.BoardID); err != nil {
		return nil, err
	}
	var out Outcome
	err := e.run(ctx, r.BoardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		board, err := LoadBoard(ctx, tx, r.BoardID)
		if err != nil {
			return err
		}
		t, err := LoadTask(ctx, tx, r.BoardID, r.Identifier)
		if err != nil {
			return err
		}
		if t.Status != types.StatusReview {
			return types.NewValidation("status", "%s is %s, not in review", t.Identifier, t.Status)
		}
		if !t.ReviewStatus.IsDecided() {
			return types.NewValidation("review_status", "%s has no review decision yet", t.Identifier)
		}
		if err := e.gate.Validate(types.HookAfterReview, r.AfterReview); err != nil {
			return err
		}

		prior, from := t.Status, t.ColumnID
		t.UpdatedAt = now
		stage := types.StageDone
		if t.ReviewStatus == types.ReviewApproved {
			markCompleted(t, t.CompletedBy, now)
		} else {
			stage = types.StageDoing
			assignee := t.AssignedTo()
			if assignee == "" {
				assignee = t.CompletedBy
			}
			t.Status = types.StatusInProgress
			t.Assignment = e.lease(t.Assignment, assignee, now)
			out.Next = gate.ForTask(e.gate.Spec(types.HookAfterDoing), t)
		}
		if err := e.place(ctx, tx, board, t, prior, from, stage, -1); err != nil {
			return err
		}
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventReviewed,
			Actor:      r.Requester.Name,
			OldValue:   string(prior),
			NewValue:   string(t.ReviewStatus),
			Comment:    t.ReviewNotes,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := e.settle(ctx, tx, rec, t, prior, r.Requester.Name, now); err != nil {
			return err
		}
		out.Task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveRequest is a manual move by a human operator.
type MoveRequest struct {
	BoardID    int64           `json:"-"`
	Identifier string          `json:"-"`
	Requester  types.Requester `json:"-"`
	Stage      types.Stage     `json:"stage"`
	Position   *int            `json:"position,omitempty"` // nil appends
}

// Move places a task in another column (or another slot of its own) and
// derives the status the destination implies. The destination's WIP limit
// applies. Goals cannot be moved; they follow their children.
//
// Only humans move tasks. A live claim moves only with its assignee, and
// Review and Done are reached through Complete and MarkReviewed so the
// hook gate is never skipped. A move into Doing passes the same
// capability and file filters as a claim.
func (e *Engine) Move(ctx context.Context, r MoveRequest) (*types.Task, error) {
	if err := CheckAccess(r.Requester, r.BoardID); err != nil {
		return nil, err
	}
	if r.Requester.Agent {
		return nil, types.NewForbidden("agents change task state through claim, complete and unclaim")
	}
	if !r.Stage.IsValid() {
		return nil, types.NewValidation("stage", "invalid stage: %q", r.Stage)
	}
	index := -1
	if r.Position != nil {
		if *r.Position < 0 {
			return nil, types.NewValidation("position", "position must not be negative")
		}
		index = *r.Position
	}
	var out *types.Task
	err := e.run(ctx, r.BoardID, func(tx storage.Transaction, rec *eventbus.Recorder) error {
		now := e.clock()
		board, err := LoadBoard(ctx, tx, r.BoardID)
		if err != nil {
			return err
		}
		t, err := LoadTask(ctx, tx, r.BoardID, r.Identifier)
		if err != nil {
			return err
		}
		dest, err := column(board, r.Stage)
		if err != nil {
			return err
		}
		if dest.ID != t.ColumnID {
			if err := checkMove(ctx, tx, board, t, r.Stage, r.Requester, now); err != nil {
				return err
			}
		}
		if dest.ID != t.ColumnID && dest.WIPLimit > 0 {
			n, err := tx.CountColumnTasks(ctx, dest.ID)
			if err != nil {
				return err
			}
			if n >= dest.WIPLimit {
				return types.NewConflict("", "column %s is at its WIP limit of %d", dest.Name, dest.WIPLimit)
			}
		}

		prior, from := t.Status, t.ColumnID
		fromStage := stageOf(board, from)
		t.UpdatedAt = now
		if err := e.applyStage(ctx, tx, t, r.Stage, r.Requester.Name, now); err != nil {
			return err
		}
		if err := e.place(ctx, tx, board, t, prior, from, r.Stage, index); err != nil {
			return err
		}
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventMoved,
			Actor:      r.Requester.Name,
			OldValue:   string(fromStage),
			NewValue:   string(r.Stage),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := e.settle(ctx, tx, rec, t, prior, r.Requester.Name, now); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkMove refuses cross-column moves that would bypass the claim or
// completion paths.
func checkMove(ctx context.Context, r storage.Reader, board *types.Board, t *types.Task, stage types.Stage, req types.Requester, now time.Time) error {
	if who := t.AssignedTo(); t.IsActive(now) && who != req.Name {
		return types.NewForbidden("%s is claimed by %s", t.Identifier, who)
	}
	switch {
	case stage == types.StageReview || stage == types.StageDone:
		return types.NewValidation("stage", "%s reaches %s through complete or mark_reviewed", t.Identifier, stage.Title())
	case t.Status == types.StatusReview:
		return types.NewValidation("status", "%s is in review; finish it with mark_reviewed", t.Identifier)
	case stage != types.StageDoing || t.IsActive(now):
		return nil
	}

	if missing := capability.Missing(req.Capabilities, t.RequiredCapabilities); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, c := range missing {
			names[i] = string(c)
		}
		return types.NotClaimable(t.Identifier, "requires "+strings.Join(names, ", "))
	}
	inProgress, err := r.ListTasks(ctx, storage.TaskFilter{BoardID: board.ID, Statuses: []types.Status{types.StatusInProgress}})
	if err != nil {
		return err
	}
	active := conflict.Active(inProgress, now)
	if hits := conflict.Conflicts(t, active); len(hits) > 0 {
		owners := conflict.OwnedFiles(active, t.ID)
		parts := make([]string, len(hits))
		for i, path := range hits {
			parts[i] = path + " (" + owners[path] + ")"
		}
		return types.NotClaimable(t.Identifier, "files in use: "+strings.Join(parts, ", "))
	}
	return nil
}

// applyStage sets the status a manual move into stage implies.
func (e *Engine) applyStage(ctx context.Context, r storage.Reader, t *types.Task, stage types.Stage, actor string, now time.Time) error {
	if stage != types.StageDone {
		clearCompletion(t)
	}
	switch stage {
	case types.StageBacklog, types.StageReady:
		t.Status = types.StatusOpen
		t.Assignment = nil
		t.ReviewStatus = ""
		_, err := deps.Recompute(ctx, r, t)
		return err
	case types.StageDoing:
		if t.Status == types.StatusInProgress {
			return nil
		}
		unmet, err := deps.Unmet(ctx, r, t)
		if err != nil {
			return err
		}
		if len(unmet) > 0 {
			return types.NewValidation("dependencies", "%s is waiting on %s", t.Identifier, strings.Join(unmet, ", "))
		}
		assignee := t.AssignedTo()
		if assignee == "" {
			assignee = actor
		}
		t.Status = types.StatusInProgress
		t.Assignment = e.lease(t.Assignment, assignee, now)
	case types.StageReview:
		if t.Status != types.StatusReview {
			t.ReviewStatus = types.ReviewPending
		}
		t.Status = types.StatusReview
	case types.StageDone:
		if t.Status != types.StatusCompleted {
			markCompleted(t, actor, now)
		}
	}
	return nil
}

// place writes t (guarded by its prior status) into the column for stage
// at index and renumbers both columns.
func (e *Engine) place(ctx context.Context, tx storage.Transaction, board *types.Board, t *types.Task, prior types.Status, from int64, stage types.Stage, index int) error {
	dest, err := column(board, stage)
	if err != nil {
		return err
	}
	t.ColumnID = dest.ID
	if err := tx.UpdateTask(ctx, t, prior); err != nil {
		return casError(t.Identifier, err)
	}
	t.Position, err = Relocate(ctx, tx, t.ID, from, dest.ID, index)
	return err
}

// settle runs the derived updates after t changed: dependents when its
// completion flipped, and its goal's placement.
func (e *Engine) settle(ctx context.Context, tx storage.Transaction, rec *eventbus.Recorder, t *types.Task, prior types.Status, actor string, now time.Time) error {
	if (prior == types.StatusCompleted) != (t.Status == types.StatusCompleted) {
		if err := refreshDependents(ctx, tx, rec, t.BoardID, t.Identifier, actor, now); err != nil {
			return err
		}
	}
	return AggregateGoal(ctx, tx, rec, t, t.ID, actor, now)
}

// lease returns an assignment for assignee starting at now. The agent flag
// of an existing assignment is kept.
func (e *Engine) lease(prev *types.Assignment, assignee string, now time.Time) *types.Assignment {
	a := &types.Assignment{AssignedTo: assignee, ClaimedAt: now, ExpiresAt: now.Add(e.leaseTTL)}
	if prev != nil && prev.AssignedTo == assignee {
		a.Agent = prev.Agent
	}
	return a
}

func markCompleted(t *types.Task, by string, now time.Time) {
	t.Status = types.StatusCompleted
	t.CompletedBy = by
	c := now
	t.CompletedAt = &c
}

func clearCompletion(t *types.Task) {
	t.CompletedAt = nil
	if t.Status == types.StatusCompleted {
		t.CompletedBy = ""
		t.CompletionSummary = ""
	}
}
