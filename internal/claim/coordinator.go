// Package claim hands out work: it picks the best task a requester may take
// and assigns it under a lease in a single conditional write.
//
// Selection reads a snapshot of the board; the write is guarded by the
// store's compare-and-swap, so the first writer wins and a racing loser
// gets a Conflict instead of a second assignment.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/workboard/workboard/internal/deps"
	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/gate"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/telemetry"
	"github.com/workboard/workboard/internal/types"
)

const meterName = "github.com/workboard/workboard/claim"

// Claim outcomes recorded on the workboard.claims counter.
const (
	OutcomeClaimed       = "claimed"
	OutcomeNoneAvailable = "none_available"
	OutcomeNotClaimable  = "not_claimable"
	OutcomeHookRejected  = "hook_rejected"
	OutcomeConflict      = "conflict"
	OutcomeError         = "error"
)

// Coordinator selects and claims tasks.
type Coordinator struct {
	store    storage.Store
	gate     *gate.Gate
	pub      eventbus.Publisher
	now      func() time.Time
	leaseTTL time.Duration
	claims   metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLeaseTTL sets how long a claim lasts before it becomes reclaimable.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.leaseTTL = ttl }
}

// WithPublisher sets where committed claims are announced.
func WithPublisher(p eventbus.Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithGate sets the hook gate. It should be the lifecycle engine's gate so
// both sides agree on hook configuration.
func WithGate(g *gate.Gate) Option {
	return func(c *Coordinator) { c.gate = g }
}

// New creates a coordinator over store.
func New(store storage.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		pub:      eventbus.Nop{},
		now:      time.Now,
		leaseTTL: types.DefaultLeaseTTL,
	}
	for _, o := range opts {
		o(c)
	}
	if c.gate == nil {
		c.gate = gate.New(nil)
	}
	counter, err := telemetry.Meter(meterName).Int64Counter("workboard.claims",
		metric.WithDescription("Claim attempts by outcome"),
		metric.WithUnit("{claim}"),
	)
	if err == nil {
		c.claims = counter
	}
	return c
}

func (c *Coordinator) clock() time.Time { return c.now().UTC() }

func (c *Coordinator) record(ctx context.Context, outcome string) {
	if c.claims != nil {
		c.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func outcomeOf(err error) string {
	e, ok := types.AsError(err)
	if !ok {
		return OutcomeError
	}
	switch {
	case e.Hook != "":
		return OutcomeHookRejected
	case e.Reason == types.ReasonNoneAvailable:
		return OutcomeNoneAvailable
	case e.Reason == types.ReasonNotClaimable:
		return OutcomeNotClaimable
	case e.Kind == types.KindConflict:
		return OutcomeConflict
	}
	return OutcomeError
}

// ClaimRequest asks for a task. An empty Identifier selects the best
// candidate; otherwise that task is claimed if it passes every filter.
type ClaimRequest struct {
	BoardID     int64             `json:"-"`
	Requester   types.Requester   `json:"-"`
	Identifier  string            `json:"identifier,omitempty"`
	BeforeDoing *types.HookResult `json:"before_doing"`
}

// Next returns the task SelectAndClaim would pick, without claiming it.
// It returns nil when nothing is available.
func (c *Coordinator) Next(ctx context.Context, boardID int64, req types.Requester) (*types.Task, error) {
	if err := lifecycle.CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	board, err := lifecycle.LoadBoard(ctx, c.store, boardID)
	if err != nil {
		return nil, err
	}
	cands, err := Candidates(ctx, c.store, board, req, c.clock())
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	return cands[0], nil
}

// SelectAndClaim validates the before_doing hook result, then picks a task
// and assigns it to the requester in one transaction. The returned outcome
// carries the after_doing hook the requester must run next.
func (c *Coordinator) SelectAndClaim(ctx context.Context, r ClaimRequest) (*lifecycle.Outcome, error) {
	out, err := c.selectAndClaim(ctx, r)
	if err != nil {
		c.record(ctx, outcomeOf(err))
		return nil, err
	}
	c.record(ctx, OutcomeClaimed)
	return out, nil
}

func (c *Coordinator) selectAndClaim(ctx context.Context, r ClaimRequest) (*lifecycle.Outcome, error) {
	if err := lifecycle.CheckAccess(r.Requester, r.BoardID); err != nil {
		return nil, err
	}
	if err := c.gate.Validate(types.HookBeforeDoing, r.BeforeDoing); err != nil {
		return nil, err
	}

	rec := eventbus.NewRecorder(r.BoardID)
	var claimed *types.Task
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		rec.Reset()
		now := c.clock()
		board, err := lifecycle.LoadBoard(ctx, tx, r.BoardID)
		if err != nil {
			return err
		}
		target, err := pick(ctx, tx, board, r, now)
		if err != nil {
			return err
		}
		doing := board.Column(types.StageDoing)
		if doing == nil {
			return fmt.Errorf("board %d has no doing column", board.ID)
		}
		if doing.WIPLimit > 0 && target.ColumnID != doing.ID {
			n, err := tx.CountColumnTasks(ctx, doing.ID)
			if err != nil {
				return err
			}
			if n >= doing.WIPLimit {
				return types.NewConflict("", "column %s is at its WIP limit of %d", doing.Name, doing.WIPLimit)
			}
		}

		items, err := tx.ListColumnItems(ctx, doing.ID)
		if err != nil {
			return err
		}
		lease := types.Assignment{
			AssignedTo: r.Requester.Name,
			Agent:      r.Requester.Agent,
			ClaimedAt:  now,
			ExpiresAt:  now.Add(c.leaseTTL),
		}
		prior, from, previous := target.Status, target.ColumnID, target.AssignedTo()
		if err := tx.ClaimTask(ctx, target.ID, lease, doing.ID, len(items)); err != nil {
			if errors.Is(err, storage.ErrAlreadyClaimed) {
				e := types.NotClaimable(target.Identifier, "claimed concurrently by another requester")
				e.Err = err
				return e
			}
			return fmt.Errorf("claim %s: %w", target.Identifier, err)
		}
		pos, err := lifecycle.Relocate(ctx, tx, target.ID, from, doing.ID, -1)
		if err != nil {
			return err
		}
		target.Status = types.StatusInProgress
		target.Assignment = &lease
		target.ColumnID = doing.ID
		target.Position = pos
		target.UpdatedAt = now

		ev := &types.Event{
			ItemID:     target.ID,
			Identifier: target.Identifier,
			EventType:  types.EventClaimed,
			Actor:      r.Requester.Name,
			OldValue:   string(prior),
			NewValue:   r.Requester.Name,
			CreatedAt:  now,
		}
		if prior == types.StatusInProgress && previous != "" {
			ev.Comment = "lease of " + previous + " expired"
		}
		if err := rec.Append(ctx, tx, ev); err != nil {
			return err
		}
		if err := lifecycle.AggregateGoal(ctx, tx, rec, target, target.ID, r.Requester.Name, now); err != nil {
			return err
		}
		claimed = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Flush(ctx, c.pub)
	return &lifecycle.Outcome{
		Task: claimed,
		Next: gate.ForTask(c.gate.Next(types.HookBeforeDoing), claimed),
	}, nil
}

// pick resolves the claim target inside the transaction.
func pick(ctx context.Context, r storage.Reader, board *types.Board, req ClaimRequest, now time.Time) (*types.Task, error) {
	if req.Identifier == "" {
		cands, err := Candidates(ctx, r, board, req.Requester, now)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			return nil, types.NoneAvailable()
		}
		return cands[0], nil
	}
	if types.IsGoalIdentifier(req.Identifier) {
		return nil, types.NotClaimable(req.Identifier, "goals follow their children and are never claimed")
	}
	t, err := lifecycle.LoadTask(ctx, r, board.ID, req.Identifier)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot(ctx, r, board, now)
	if err != nil {
		return nil, err
	}
	why, err := reject(ctx, r, snap, req.Requester, t)
	if err != nil {
		return nil, err
	}
	if why != "" {
		return nil, types.NotClaimable(t.Identifier, why)
	}
	return t, nil
}

// Unclaim releases the requester's claim on a task and returns it to Ready.
// Only the assignee may unclaim, and only while the task is claimed.
func (c *Coordinator) Unclaim(ctx context.Context, boardID int64, identifier string, req types.Requester, reason string) (*types.Task, error) {
	if err := lifecycle.CheckAccess(req, boardID); err != nil {
		return nil, err
	}
	rec := eventbus.NewRecorder(boardID)
	var out *types.Task
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		rec.Reset()
		now := c.clock()
		board, err := lifecycle.LoadBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		t, err := lifecycle.LoadTask(ctx, tx, boardID, identifier)
		if err != nil {
			return err
		}
		if t.Status != types.StatusInProgress || t.Assignment == nil {
			return types.NotClaimed(t.Identifier)
		}
		if who := t.AssignedTo(); who != req.Name {
			return types.NewForbidden("%s is claimed by %s", t.Identifier, who)
		}

		ready := board.Column(types.StageReady)
		if ready == nil {
			return fmt.Errorf("board %d has no ready column", board.ID)
		}
		from := t.ColumnID
		t.Status = types.StatusOpen
		t.Assignment = nil
		t.ColumnID = ready.ID
		t.UpdatedAt = now
		// A dependency may have been reopened while the task was claimed.
		if _, err := deps.Recompute(ctx, tx, t); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, t, types.StatusInProgress); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return types.NewConflict("", "%s was changed concurrently; reload and retry", t.Identifier)
			}
			return err
		}
		if t.Position, err = lifecycle.Relocate(ctx, tx, t.ID, from, ready.ID, -1); err != nil {
			return err
		}
		if err := rec.Append(ctx, tx, &types.Event{
			ItemID:     t.ID,
			Identifier: t.Identifier,
			EventType:  types.EventUnclaimed,
			Actor:      req.Name,
			OldValue:   string(types.StatusInProgress),
			NewValue:   string(t.Status),
			Comment:    reason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := lifecycle.AggregateGoal(ctx, tx, rec, t, t.ID, req.Name, now); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Flush(ctx, c.pub)
	return out, nil
}
