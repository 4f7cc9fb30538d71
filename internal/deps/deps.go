// Package deps resolves task dependencies: readiness, cycle detection,
// unblocking and graph traversal.
//
// Dependencies are identifiers on the same board. An identifier that does
// not resolve counts as unmet, so a typo keeps a task blocked instead of
// being silently ignored.
package deps

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Unmet returns the dependencies of task that are not completed, in
// declaration order. Unknown identifiers are included.
func Unmet(ctx context.Context, r storage.Reader, task *types.Task) ([]string, error) {
	if len(task.Dependencies) == 0 {
		return nil, nil
	}
	statuses, err := r.StatusesByIdentifier(ctx, task.BoardID, task.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("resolve dependencies of %s: %w", task.Identifier, err)
	}
	var unmet []string
	for _, dep := range task.Dependencies {
		if st, ok := statuses[dep]; !ok || st != types.StatusCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet, nil
}

// IsReady reports whether every dependency of task is completed.
func IsReady(ctx context.Context, r storage.Reader, task *types.Task) (bool, error) {
	unmet, err := Unmet(ctx, r, task)
	if err != nil {
		return false, err
	}
	return len(unmet) == 0, nil
}

// Recompute sets task.Status to open or blocked from its dependencies.
// Tasks in any other status are left alone. Reports whether it changed.
func Recompute(ctx context.Context, r storage.Reader, task *types.Task) (bool, error) {
	if task.Status != types.StatusOpen && task.Status != types.StatusBlocked {
		return false, nil
	}
	ready, err := IsReady(ctx, r, task)
	if err != nil {
		return false, err
	}
	want := types.StatusBlocked
	if ready {
		want = types.StatusOpen
	}
	if task.Status == want {
		return false, nil
	}
	task.Status = want
	return true, nil
}

// RefreshDependents re-evaluates every open or blocked task that depends on
// identifier and writes the ones whose status flips. It runs inside the
// transaction that changed identifier's status, so no reader ever sees a
// completed dependency next to a dependent still blocked on it.
func RefreshDependents(ctx context.Context, tx storage.Transaction, boardID int64, identifier, actor string, now time.Time) ([]*types.Task, error) {
	dependents, err := tx.ListTasks(ctx, storage.TaskFilter{
		BoardID:   boardID,
		DependsOn: identifier,
		Statuses:  []types.Status{types.StatusOpen, types.StatusBlocked},
	})
	if err != nil {
		return nil, fmt.Errorf("list dependents of %s: %w", identifier, err)
	}

	var changed []*types.Task
	for _, dep := range dependents {
		prior := dep.Status
		flipped, err := Recompute(ctx, tx, dep)
		if err != nil {
			return nil, err
		}
		if !flipped {
			continue
		}
		dep.UpdatedAt = now
		if err := tx.UpdateTask(ctx, dep, prior); err != nil {
			return nil, fmt.Errorf("update dependent %s: %w", dep.Identifier, err)
		}
		et := types.EventUnblocked
		if dep.Status == types.StatusBlocked {
			et = types.EventDependenciesChanged
		}
		if err := tx.AppendEvent(ctx, &types.Event{
			ItemID:     dep.ID,
			Identifier: dep.Identifier,
			EventType:  et,
			Actor:      actor,
			OldValue:   string(prior),
			NewValue:   string(dep.Status),
			Comment:    identifier,
			CreatedAt:  now,
		}); err != nil {
			return nil, err
		}
		changed = append(changed, dep)
	}
	return changed, nil
}

// Validate checks a proposed dependency list for task: no self edge, no
// duplicates, and no edge that would close a cycle. Unknown identifiers are
// accepted and leave the task blocked.
func Validate(ctx context.Context, r storage.Reader, task *types.Task, proposed []string) error {
	seen := make(map[string]bool, len(proposed))
	for _, dep := range proposed {
		if dep == "" {
			return types.NewValidation("dependencies", "empty dependency identifier")
		}
		if dep == task.Identifier {
			return types.NewValidation("dependencies", "%s cannot depend on itself", dep)
		}
		if seen[dep] {
			return types.NewValidation("dependencies", "duplicate dependency %s", dep)
		}
		seen[dep] = true
	}

	g, err := LoadGraph(ctx, r, task.BoardID)
	if err != nil {
		return err
	}
	// task's current edges are being replaced.
	g.SetEdges(task.Identifier, nil)
	for _, dep := range proposed {
		if g.WouldCreateCycle(task.Identifier, dep) {
			return types.NewValidation("dependencies", "adding %s -> %s would create a dependency cycle", task.Identifier, dep)
		}
	}
	return nil
}

// WouldCreateCycle reports whether making from depend on to closes a loop
// in the board's current dependency graph.
func WouldCreateCycle(ctx context.Context, r storage.Reader, boardID int64, from, to string) (bool, error) {
	g, err := LoadGraph(ctx, r, boardID)
	if err != nil {
		return false, err
	}
	return g.WouldCreateCycle(from, to), nil
}

type node struct {
	title  string
	status types.Status
	deps   []string
}

// Graph is an in-memory snapshot of a board's dependency edges.
type Graph struct {
	nodes map[string]*node
	// dependents is the reverse adjacency, built lazily.
	dependents map[string][]string
}

// LoadGraph snapshots every task and goal on a board.
func LoadGraph(ctx context.Context, r storage.Reader, boardID int64) (*Graph, error) {
	tasks, err := r.ListTasks(ctx, storage.TaskFilter{BoardID: boardID})
	if err != nil {
		return nil, fmt.Errorf("load dependency graph: %w", err)
	}
	goals, err := r.ListGoals(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load dependency graph: %w", err)
	}
	g := &Graph{nodes: make(map[string]*node, len(tasks)+len(goals))}
	for _, t := range tasks {
		g.nodes[t.Identifier] = &node{title: t.Title, status: t.Status, deps: slices.Clone(t.Dependencies)}
	}
	for _, gl := range goals {
		g.nodes[gl.Identifier] = &node{title: gl.Title, status: gl.Status}
	}
	return g, nil
}

// SetEdges replaces the outgoing edges of identifier.
func (g *Graph) SetEdges(identifier string, deps []string) {
	n, ok := g.nodes[identifier]
	if !ok {
		n = &node{}
		g.nodes[identifier] = n
	}
	n.deps = slices.Clone(deps)
	g.dependents = nil
}

// WouldCreateCycle searches from to along dependency edges; adding
// "from depends on to" closes a loop iff from is reachable.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{to: true}
	stack := []string{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, next := range n.deps {
			if next == from {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Dependencies walks what identifier depends on. With recursive=false only
// direct dependencies (depth 1) are returned.
func (g *Graph) Dependencies(identifier string, recursive bool) []types.DependencyNode {
	return g.walk(identifier, recursive, func(id string) []string {
		if n, ok := g.nodes[id]; ok {
			return n.deps
		}
		return nil
	})
}

// Dependents walks what depends on identifier.
func (g *Graph) Dependents(identifier string, recursive bool) []types.DependencyNode {
	if g.dependents == nil {
		g.dependents = make(map[string][]string)
		ids := make([]string, 0, len(g.nodes))
		for id := range g.nodes {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			for _, dep := range g.nodes[id].deps {
				g.dependents[dep] = append(g.dependents[dep], id)
			}
		}
	}
	return g.walk(identifier, recursive, func(id string) []string { return g.dependents[id] })
}

// walk is a breadth-first traversal that reports each node once at its
// shallowest depth.
func (g *Graph) walk(start string, recursive bool, next func(string) []string) []types.DependencyNode {
	var out []types.DependencyNode
	visited := map[string]bool{start: true}
	frontier := []string{start}
	for depth := 1; len(frontier) > 0; depth++ {
		var following []string
		for _, id := range frontier {
			for _, n := range next(id) {
				if visited[n] {
					continue
				}
				visited[n] = true
				entry := types.DependencyNode{Identifier: n, Depth: depth}
				if info, ok := g.nodes[n]; ok && (info.title != "" || info.status != "") {
					entry.Title, entry.Status = info.title, info.status
				} else {
					entry.Missing = true
				}
				out = append(out, entry)
				following = append(following, n)
			}
		}
		if !recursive {
			break
		}
		frontier = following
	}
	return out
}
