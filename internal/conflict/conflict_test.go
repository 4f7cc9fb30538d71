package conflict

import (
	"slices"
	"testing"
	"time"

	"github.com/workboard/workboard/internal/types"
)

func task(id int64, identifier string, files ...string) *types.Task {
	t := &types.Task{Item: types.Item{ID: id, Identifier: identifier, Status: types.StatusInProgress}}
	for i, f := range files {
		t.KeyFiles = append(t.KeyFiles, types.KeyFile{Path: f, Position: i})
	}
	return t
}

func TestHasFileConflict(t *testing.T) {
	a := task(1, "W1", "lib/auth.ex", "lib/session.ex")
	b := task(2, "W2", "lib/user.ex")

	tests := []struct {
		name      string
		candidate *types.Task
		want      bool
	}{
		{"shared file", task(3, "W3", "lib/auth.ex"), true},
		{"disjoint files", task(3, "W3", "lib/repo.ex"), false},
		{"no files never conflicts", task(3, "W3"), false},
		{"candidate is itself active", task(1, "W1", "lib/auth.ex"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFileConflict(tt.candidate, []*types.Task{a, b}); got != tt.want {
				t.Errorf("HasFileConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConflictsListsOverlap(t *testing.T) {
	active := []*types.Task{task(1, "W1", "a.go", "b.go"), task(2, "W2", "c.go")}
	got := Conflicts(task(3, "W3", "c.go", "x.go", "a.go"), active)
	if !slices.Equal(got, []string{"c.go", "a.go"}) {
		t.Errorf("Conflicts() = %v", got)
	}
}

func TestActiveDropsExpiredLeases(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	live := task(1, "W1", "a.go")
	live.Assignment = &types.Assignment{AssignedTo: "x", ClaimedAt: now.Add(-time.Hour), ExpiresAt: now.Add(23 * time.Hour)}
	stale := task(2, "W2", "b.go")
	stale.Assignment = &types.Assignment{AssignedTo: "y", ClaimedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	open := task(3, "W3", "c.go")
	open.Status = types.StatusOpen

	got := Active([]*types.Task{live, stale, open}, now)
	if len(got) != 1 || got[0] != live {
		t.Fatalf("Active() = %v, want only W1", got)
	}
	if HasFileConflict(task(4, "W4", "b.go"), got) {
		t.Error("expired lease should not own files")
	}
}
