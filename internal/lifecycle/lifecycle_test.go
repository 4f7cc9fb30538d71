package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workboard/workboard/internal/eventbus"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/testutil/teststore"
	"github.com/workboard/workboard/internal/types"
)

var (
	now      = teststore.Epoch.Add(time.Hour)
	agent    = types.Requester{Name: "agent-a", Agent: true}
	operator = types.Requester{Name: "ops"}
	pass     = &types.HookResult{ExitCode: 0, Output: "ok", DurationMS: 12}
)

type capture struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (c *capture) Publish(_ context.Context, events ...*eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *capture) kinds() []eventbus.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eventbus.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func newEngine(t *testing.T) (*teststore.Env, *lifecycle.Engine, *capture) {
	t.Helper()
	env := teststore.NewEnv(t)
	pub := &capture{}
	eng := lifecycle.New(env.Store, nil,
		lifecycle.WithClock(func() time.Time { return now }),
		lifecycle.WithPublisher(pub))
	return env, eng, pub
}

func complete(t *testing.T, env *teststore.Env, eng *lifecycle.Engine, identifier string) *lifecycle.Outcome {
	t.Helper()
	return completeAs(t, env, eng, agent, identifier)
}

func completeAs(t *testing.T, env *teststore.Env, eng *lifecycle.Engine, who types.Requester, identifier string) *lifecycle.Outcome {
	t.Helper()
	out, err := eng.Complete(env.Ctx, lifecycle.CompleteRequest{
		BoardID:      env.Board.ID,
		Identifier:   identifier,
		Requester:    who,
		AfterDoing:   pass,
		BeforeReview: pass,
	})
	require.NoError(t, err)
	return out
}

func move(t *testing.T, env *teststore.Env, eng *lifecycle.Engine, identifier string, stage types.Stage) *types.Task {
	t.Helper()
	task, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID:    env.Board.ID,
		Identifier: identifier,
		Requester:  operator,
		Stage:      stage,
	})
	require.NoError(t, err)
	return task
}

func TestCompleteWithoutReview(t *testing.T) {
	env, eng, pub := newEngine(t)
	task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch))

	out := complete(t, env, eng, task.Identifier)
	assert.Nil(t, out.Next)

	got := env.Reload(task)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, env.Column(types.StageDone).ID, got.ColumnID)
	assert.Equal(t, agent.Name, got.CompletedBy)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(now))
	assert.Empty(t, env.ColumnOrder(types.StageDoing))
	assert.Equal(t, []eventbus.EventType{types.EventCompleted}, pub.kinds())
}

func TestCompleteHookHardStop(t *testing.T) {
	tests := []struct {
		name         string
		afterDoing   *types.HookResult
		beforeReview *types.HookResult
		hook         types.HookPoint
	}{
		{"after_doing failed", &types.HookResult{ExitCode: 1, Output: "FAIL ./...\n"}, pass, types.HookAfterDoing},
		{"before_review missing", pass, nil, types.HookBeforeReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, eng, pub := newEngine(t)
			task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch), teststore.NeedsReview())

			_, err := eng.Complete(env.Ctx, lifecycle.CompleteRequest{
				BoardID:      env.Board.ID,
				Identifier:   task.Identifier,
				Requester:    agent,
				AfterDoing:   tt.afterDoing,
				BeforeReview: tt.beforeReview,
			})
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.KindValidation, e.Kind)
			assert.Equal(t, string(tt.hook), e.Hook)

			got := env.Reload(task)
			assert.Equal(t, types.StatusInProgress, got.Status)
			assert.Equal(t, env.Column(types.StageDoing).ID, got.ColumnID)
			assert.Equal(t, agent.Name, got.AssignedTo())
			assert.Empty(t, pub.kinds())
		})
	}
}

func TestCompleteRejectsOtherAssignee(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageDoing, teststore.ClaimedBy("agent-b", teststore.Epoch))

	_, err := eng.Complete(env.Ctx, lifecycle.CompleteRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: agent,
		AfterDoing: pass, BeforeReview: pass,
	})
	assert.True(t, types.IsKind(err, types.KindForbidden))
}

func TestCompleteRequiresClaim(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady)

	_, err := eng.Complete(env.Ctx, lifecycle.CompleteRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: agent,
		AfterDoing: pass, BeforeReview: pass,
	})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "status", e.Field)
}

func TestReviewRouting(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch), teststore.NeedsReview())

	out := complete(t, env, eng, task.Identifier)
	require.NotNil(t, out.Next)
	assert.Equal(t, types.HookAfterReview, out.Next.Name)
	assert.Equal(t, task.Identifier, out.Next.Env["WB_TASK"])
	assert.Equal(t, types.StatusReview, out.Task.Status)
	assert.Equal(t, types.ReviewPending, out.Task.ReviewStatus)
	assert.Equal(t, []string{task.Identifier}, env.ColumnOrder(types.StageReview))

	reviewer := types.Requester{Name: "alice"}
	_, err := eng.MarkReviewed(env.Ctx, lifecycle.MarkReviewedRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: reviewer, AfterReview: pass,
	})
	e, ok := types.AsError(err)
	require.True(t, ok, "pending review cannot be finalized")
	assert.Equal(t, "review_status", e.Field)

	_, err = eng.SetReviewStatus(env.Ctx, env.Board.ID, task.Identifier, types.ReviewChangesRequested, "needs a test", reviewer)
	require.NoError(t, err)

	out, err = eng.MarkReviewed(env.Ctx, lifecycle.MarkReviewedRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: reviewer, AfterReview: pass,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Next)
	assert.Equal(t, types.HookAfterDoing, out.Next.Name)

	got := env.Reload(task)
	assert.Equal(t, types.StatusInProgress, got.Status)
	assert.Equal(t, env.Column(types.StageDoing).ID, got.ColumnID)
	require.NotNil(t, got.Assignment)
	assert.Equal(t, agent.Name, got.Assignment.AssignedTo)
	assert.True(t, got.Assignment.ExpiresAt.Equal(now.Add(types.DefaultLeaseTTL)), "lease renewed")
	assert.Equal(t, "needs a test", got.ReviewNotes)

	// Second round: approved goes to Done.
	complete(t, env, eng, task.Identifier)
	_, err = eng.SetReviewStatus(env.Ctx, env.Board.ID, task.Identifier, types.ReviewApproved, "", reviewer)
	require.NoError(t, err)
	_, err = eng.MarkReviewed(env.Ctx, lifecycle.MarkReviewedRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: reviewer, AfterReview: pass,
	})
	require.NoError(t, err)

	got = env.Reload(task)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, agent.Name, got.CompletedBy)
	assert.Equal(t, []string{task.Identifier}, env.ColumnOrder(types.StageDone))
}

func TestMarkReviewedHookRejected(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch), teststore.NeedsReview())
	complete(t, env, eng, task.Identifier)
	_, err := eng.SetReviewStatus(env.Ctx, env.Board.ID, task.Identifier, types.ReviewApproved, "", agent)
	require.NoError(t, err)

	_, err = eng.MarkReviewed(env.Ctx, lifecycle.MarkReviewedRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: agent,
		AfterReview: &types.HookResult{ExitCode: 2, Output: "merge conflict"},
	})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, string(types.HookAfterReview), e.Hook)
	assert.Contains(t, e.Message, "merge conflict")
	assert.Equal(t, types.StatusReview, env.Reload(task).Status)
}

func TestBlockedFollowsDependencies(t *testing.T) {
	env, eng, pub := newEngine(t)
	dep := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch))

	c, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Task: &lifecycle.TaskInput{
		Title:        "follow-up",
		Dependencies: []string{dep.Identifier},
	}}, agent)
	require.NoError(t, err)
	waiting := c.Task
	assert.Equal(t, types.StatusBlocked, waiting.Status)

	complete(t, env, eng, dep.Identifier)
	assert.Equal(t, types.StatusOpen, env.Reload(waiting).Status)
	assert.Contains(t, pub.kinds(), eventbus.EventType(types.EventUnblocked))

	// Reopening the dependency blocks the dependent again.
	move(t, env, eng, dep.Identifier, types.StageReady)
	assert.Equal(t, types.StatusBlocked, env.Reload(waiting).Status)
	assert.Nil(t, env.Reload(dep).CompletedAt)
}

func TestGoalFollowsChildren(t *testing.T) {
	env, eng, _ := newEngine(t)
	c, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Goal: &lifecycle.GoalInput{
		Title: "ship it",
		Children: []lifecycle.TaskInput{
			{Title: "one", Stage: types.StageReady},
			{Title: "two", Stage: types.StageReady},
			{Title: "three", Stage: types.StageReady},
		},
	}}, agent)
	require.NoError(t, err)
	g := c.Goal
	require.Len(t, g.Children, 3)
	w1, w2, w3 := g.Children[0].Identifier, g.Children[1].Identifier, g.Children[2].Identifier
	assert.Equal(t, []string{g.Identifier, w1, w2, w3}, env.ColumnOrder(types.StageReady))

	after, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Task: &lifecycle.TaskInput{
		Title: "after the goal", Dependencies: []string{g.Identifier},
	}}, agent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, after.Task.Status)

	move(t, env, eng, w1, types.StageDoing)
	move(t, env, eng, w2, types.StageDoing)
	assert.Equal(t, []string{g.Identifier, w3}, env.ColumnOrder(types.StageReady), "split children leave the goal in place")

	move(t, env, eng, w3, types.StageDoing)
	assert.Equal(t, []string{w1, w2, g.Identifier, w3}, env.ColumnOrder(types.StageDoing))
	assert.Empty(t, env.ColumnOrder(types.StageReady))

	completeAs(t, env, eng, operator, w1)
	completeAs(t, env, eng, operator, w2)
	assert.Equal(t, types.StatusOpen, env.ReloadGoal(g).Status)
	completeAs(t, env, eng, operator, w3)

	assert.Equal(t, []string{w1, w2, w3, g.Identifier}, env.ColumnOrder(types.StageDone))
	goal := env.ReloadGoal(g)
	assert.Equal(t, types.StatusCompleted, goal.Status)
	require.NotNil(t, goal.CompletedAt)
	assert.Equal(t, types.StatusOpen, env.Reload(after.Task).Status)

	// Pulling one child back reopens the goal and re-blocks its dependents.
	move(t, env, eng, w3, types.StageReady)
	goal = env.ReloadGoal(g)
	assert.Equal(t, types.StatusOpen, goal.Status)
	assert.Nil(t, goal.CompletedAt)
	assert.Equal(t, types.StatusBlocked, env.Reload(after.Task).Status)
}

func TestMoveRespectsWIPLimit(t *testing.T) {
	env, eng, _ := newEngine(t)
	_, err := eng.SetWIPLimit(env.Ctx, env.Board.ID, types.StageDoing, 1, agent)
	require.NoError(t, err)
	env.Task(types.StageDoing, teststore.ClaimedBy("agent-b", teststore.Epoch))
	task := env.Task(types.StageReady)

	_, err = eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: types.StageDoing,
	})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindConflict, e.Kind)
	assert.Empty(t, e.Reason)
	assert.Equal(t, types.StatusOpen, env.Reload(task).Status)
}

func TestMoveWithinColumn(t *testing.T) {
	env, eng, _ := newEngine(t)
	a := env.Task(types.StageBacklog)
	b := env.Task(types.StageBacklog)
	c := env.Task(types.StageBacklog)

	zero := 0
	got, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: c.Identifier, Requester: operator,
		Stage: types.StageBacklog, Position: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Position)
	assert.Equal(t, []string{c.Identifier, a.Identifier, b.Identifier}, env.ColumnOrder(types.StageBacklog))
}

func TestMoveIntoDoingNeedsDependencies(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady, teststore.DependsOn("W404"), teststore.Status(types.StatusBlocked))

	_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: types.StageDoing,
	})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "dependencies", e.Field)
}

func TestMoveIntoDoingAssignsMover(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady)

	got := move(t, env, eng, task.Identifier, types.StageDoing)
	assert.Equal(t, types.StatusInProgress, got.Status)
	require.NotNil(t, got.Assignment)
	assert.Equal(t, operator.Name, got.Assignment.AssignedTo)
	assert.True(t, got.Assignment.ExpiresAt.Equal(now.Add(types.DefaultLeaseTTL)))
}

func TestMoveRefusesAgents(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady)

	_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: agent, Stage: types.StageDoing,
	})
	assert.True(t, types.IsKind(err, types.KindForbidden))
	assert.Equal(t, types.StatusOpen, env.Reload(task).Status)
}

func TestMoveLeavesOthersClaimAlone(t *testing.T) {
	for _, stage := range []types.Stage{types.StageReady, types.StageBacklog, types.StageDone} {
		t.Run(string(stage), func(t *testing.T) {
			env, eng, pub := newEngine(t)
			task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch))

			_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
				BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: stage,
			})
			assert.True(t, types.IsKind(err, types.KindForbidden))

			got := env.Reload(task)
			assert.Equal(t, types.StatusInProgress, got.Status)
			assert.Equal(t, agent.Name, got.AssignedTo())
			assert.Equal(t, env.Column(types.StageDoing).ID, got.ColumnID)
			assert.Empty(t, pub.kinds())
		})
	}
}

func TestMoveCannotSkipHooks(t *testing.T) {
	tests := []struct {
		name  string
		from  types.Stage
		opts  []teststore.Option
		stage types.Stage
		field string
	}{
		{"ready to done", types.StageReady, nil, types.StageDone, "stage"},
		{"own claim to done", types.StageDoing, []teststore.Option{teststore.ClaimedBy(operator.Name, teststore.Epoch)}, types.StageDone, "stage"},
		{"own claim to review", types.StageDoing, []teststore.Option{teststore.ClaimedBy(operator.Name, teststore.Epoch)}, types.StageReview, "stage"},
		{"out of review", types.StageReview, []teststore.Option{teststore.Status(types.StatusReview)}, types.StageDoing, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, eng, _ := newEngine(t)
			task := env.Task(tt.from, tt.opts...)

			_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
				BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: tt.stage,
			})
			e, ok := types.AsError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, types.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
			assert.Equal(t, env.Column(tt.from).ID, env.Reload(task).ColumnID)
		})
	}
}

func TestMoveIntoDoingChecksFiles(t *testing.T) {
	env, eng, _ := newEngine(t)
	holder := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch), teststore.Files("internal/auth/login.go"))
	task := env.Task(types.StageReady, teststore.Files("internal/auth/login.go", "README.md"))

	_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: types.StageDoing,
	})
	e, ok := types.AsError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, types.KindConflict, e.Kind)
	assert.Equal(t, types.ReasonNotClaimable, e.Reason)
	assert.Contains(t, e.Message, "internal/auth/login.go ("+holder.Identifier+")")

	got := env.Reload(task)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Nil(t, got.Assignment)
}

func TestMoveIntoDoingChecksCapabilities(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady, teststore.Requires(types.CapabilityFrontend))

	_, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: operator, Stage: types.StageDoing,
	})
	e, ok := types.AsError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, types.ReasonNotClaimable, e.Reason)

	skilled := types.Requester{Name: "ops", Capabilities: types.NewCapabilitySet(types.CapabilityFrontend)}
	got, err := eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: skilled, Stage: types.StageDoing,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)
}

func TestForbiddenBoard(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageReady)
	scoped := types.Requester{Name: "agent-z", Boards: []int64{env.Board.ID + 100}}

	_, err := eng.Show(env.Ctx, env.Board.ID, task.Identifier, scoped)
	assert.True(t, types.IsKind(err, types.KindForbidden))
	_, err = eng.Move(env.Ctx, lifecycle.MoveRequest{
		BoardID: env.Board.ID, Identifier: task.Identifier, Requester: scoped, Stage: types.StageBacklog,
	})
	assert.True(t, types.IsKind(err, types.KindForbidden))

	boards, err := eng.ListBoards(env.Ctx, scoped)
	require.NoError(t, err)
	assert.Empty(t, boards)
}

func TestCreateBoardSeedsPipeline(t *testing.T) {
	env, eng, pub := newEngine(t)
	b, err := eng.CreateBoard(env.Ctx, "  platform ", agent)
	require.NoError(t, err)
	assert.Equal(t, "platform", b.Name)
	require.Len(t, b.Columns, len(types.Pipeline))
	for i, stage := range types.Pipeline {
		assert.Equal(t, stage, b.Columns[i].Stage)
	}
	assert.Equal(t, []eventbus.EventType{eventbus.EventBoardCreated}, pub.kinds())

	_, err = eng.CreateBoard(env.Ctx, " ", agent)
	assert.True(t, types.IsKind(err, types.KindValidation))
}
