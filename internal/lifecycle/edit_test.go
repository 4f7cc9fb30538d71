package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/testutil/teststore"
	"github.com/workboard/workboard/internal/types"
)

func TestCreateBatchReportsIndex(t *testing.T) {
	env, eng, _ := newEngine(t)
	inputs := []lifecycle.Input{
		{Task: &lifecycle.TaskInput{Title: "first"}},
		{Task: &lifecycle.TaskInput{Title: "second", Priority: "urgent"}},
		{Task: &lifecycle.TaskInput{Title: "never created"}},
	}

	created, err := eng.CreateBatch(env.Ctx, env.Board.ID, inputs, agent)
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.NotNil(t, e.Index)
	assert.Equal(t, 1, *e.Index)
	assert.Equal(t, "priority", e.Field)

	require.Len(t, created, 1)
	assert.Equal(t, []string{created[0].Task.Identifier}, env.ColumnOrder(types.StageBacklog))
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    lifecycle.Input
		field string
	}{
		{"empty", lifecycle.Input{}, "type"},
		{"both", lifecycle.Input{Task: &lifecycle.TaskInput{Title: "a"}, Goal: &lifecycle.GoalInput{Title: "b"}}, "type"},
		{"no title", lifecycle.Input{Task: &lifecycle.TaskInput{}}, "title"},
		{"created in doing", lifecycle.Input{Task: &lifecycle.TaskInput{Title: "a", Stage: types.StageDoing}}, "stage"},
		{"unknown capability", lifecycle.Input{Task: &lifecycle.TaskInput{Title: "a", RequiredCapabilities: types.CapabilitySet{"cobol"}}}, "required_capabilities"},
		{"childless goal", lifecycle.Input{Goal: &lifecycle.GoalInput{Title: "g"}}, "children"},
		{"bad child", lifecycle.Input{Goal: &lifecycle.GoalInput{Title: "g", Children: []lifecycle.TaskInput{{Title: "ok"}, {}}}}, "children[1].title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, eng, pub := newEngine(t)
			_, err := eng.Create(env.Ctx, env.Board.ID, tt.in, agent)
			e, ok := types.AsError(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, types.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
			assert.Empty(t, env.ColumnOrder(types.StageBacklog), "nothing committed")
			assert.Empty(t, pub.kinds())
		})
	}
}

func TestCreateAcceptsUnknownDependency(t *testing.T) {
	env, eng, _ := newEngine(t)
	c, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Task: &lifecycle.TaskInput{
		Title: "waits forever", Dependencies: []string{"W404"}, Stage: types.StageReady,
	}}, agent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, c.Task.Status)
	assert.Equal(t, []string{c.Task.Identifier}, env.ColumnOrder(types.StageReady))
}

func TestUpdateDependencies(t *testing.T) {
	env, eng, pub := newEngine(t)
	a := env.Task(types.StageBacklog)
	b := env.Task(types.StageBacklog, teststore.DependsOn(a.Identifier), teststore.Status(types.StatusBlocked))

	_, err := eng.UpdateDependencies(env.Ctx, env.Board.ID, a.Identifier, []string{b.Identifier}, agent)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "dependencies", e.Field, "cycle rejected")

	got, err := eng.UpdateDependencies(env.Ctx, env.Board.ID, b.Identifier, nil, agent)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Empty(t, got.Dependencies)
	assert.Contains(t, pub.kinds(), types.EventDependenciesChanged)

	history, err := eng.History(env.Ctx, env.Board.ID, b.Identifier, 1, agent)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.EventDependenciesChanged, history[0].EventType)
	assert.Equal(t, a.Identifier, history[0].OldValue)
}

func TestUpdateDependenciesAfterStart(t *testing.T) {
	env, eng, _ := newEngine(t)
	task := env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch))

	_, err := eng.UpdateDependencies(env.Ctx, env.Board.ID, task.Identifier, []string{"W9"}, agent)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "status", e.Field)
}

func TestDeleteRefusesWithDependents(t *testing.T) {
	env, eng, _ := newEngine(t)
	a := env.Task(types.StageBacklog)
	env.Task(types.StageBacklog, teststore.DependsOn(a.Identifier), teststore.Status(types.StatusBlocked))

	err := eng.Delete(env.Ctx, env.Board.ID, a.Identifier, agent)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "dependents", e.Field)
}

func TestDeleteClosesGap(t *testing.T) {
	env, eng, _ := newEngine(t)
	a := env.Task(types.StageReady)
	b := env.Task(types.StageReady)
	c := env.Task(types.StageReady)

	require.NoError(t, eng.Delete(env.Ctx, env.Board.ID, b.Identifier, agent))
	assert.Equal(t, []string{a.Identifier, c.Identifier}, env.ColumnOrder(types.StageReady))
	assert.Equal(t, 1, env.Reload(c).Position)

	_, err := eng.Show(env.Ctx, env.Board.ID, b.Identifier, agent)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	history, err := env.Store.GetEvents(env.Ctx, b.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, types.EventDeleted, history[0].EventType, "audit trail outlives the task")
}

func TestDeleteLastChildDeletesGoal(t *testing.T) {
	env, eng, _ := newEngine(t)
	c, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Goal: &lifecycle.GoalInput{
		Title:    "g",
		Children: []lifecycle.TaskInput{{Title: "one"}, {Title: "two", Stage: types.StageReady}},
	}}, agent)
	require.NoError(t, err)
	g := c.Goal
	one, two := g.Children[0], g.Children[1]

	err = eng.Delete(env.Ctx, env.Board.ID, g.Identifier, agent)
	assert.True(t, types.IsKind(err, types.KindValidation), "goals are not deleted directly")

	require.NoError(t, eng.Delete(env.Ctx, env.Board.ID, one.Identifier, agent))
	item, err := eng.Show(env.Ctx, env.Board.ID, g.Identifier, agent)
	require.NoError(t, err)
	require.Len(t, item.Goal.Children, 1)
	assert.Equal(t, env.Column(types.StageReady).ID, item.Goal.ColumnID, "goal follows the remaining child")
	assert.Equal(t, []string{g.Identifier, two.Identifier}, env.ColumnOrder(types.StageReady))

	require.NoError(t, eng.Delete(env.Ctx, env.Board.ID, two.Identifier, agent))
	_, err = eng.Show(env.Ctx, env.Board.ID, g.Identifier, agent)
	assert.True(t, types.IsKind(err, types.KindNotFound))
	assert.Empty(t, env.ColumnOrder(types.StageReady))
}

func TestShowGoalChildrenInColumnOrder(t *testing.T) {
	env, eng, _ := newEngine(t)
	c, err := eng.Create(env.Ctx, env.Board.ID, lifecycle.Input{Goal: &lifecycle.GoalInput{
		Title: "g",
		Children: []lifecycle.TaskInput{
			{Title: "later", Stage: types.StageReady},
			{Title: "first"},
		},
	}}, agent)
	require.NoError(t, err)

	item, err := eng.Show(env.Ctx, env.Board.ID, c.Goal.Identifier, agent)
	require.NoError(t, err)
	require.Nil(t, item.Task)
	require.Len(t, item.Goal.Children, 2)
	assert.Equal(t, "first", item.Goal.Children[0].Title)
	assert.Equal(t, "later", item.Goal.Children[1].Title)
}

func TestDependencyQueries(t *testing.T) {
	env, eng, _ := newEngine(t)
	a := env.Task(types.StageBacklog, teststore.Title("a"))
	b := env.Task(types.StageBacklog, teststore.Title("b"), teststore.DependsOn(a.Identifier))
	c := env.Task(types.StageBacklog, teststore.Title("c"), teststore.DependsOn(b.Identifier))

	down, err := eng.Dependencies(env.Ctx, env.Board.ID, c.Identifier, true, agent)
	require.NoError(t, err)
	require.Len(t, down, 2)
	assert.Equal(t, a.Identifier, down[1].Identifier)

	up, err := eng.Dependents(env.Ctx, env.Board.ID, a.Identifier, false, agent)
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, b.Identifier, up[0].Identifier)

	_, err = eng.Dependencies(env.Ctx, env.Board.ID, "W404", false, agent)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestColumnsView(t *testing.T) {
	env, eng, _ := newEngine(t)
	env.Task(types.StageReady)
	env.Task(types.StageDoing, teststore.ClaimedBy(agent.Name, teststore.Epoch))

	views, err := eng.Columns(env.Ctx, env.Board.ID, agent)
	require.NoError(t, err)
	require.Len(t, views, len(types.Pipeline))
	assert.Len(t, views[1].Items, 1)
	assert.Len(t, views[2].Items, 1)
	assert.Empty(t, views[4].Items)
}
