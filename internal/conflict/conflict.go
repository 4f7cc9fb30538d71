// Package conflict detects overlapping file ownership between tasks.
//
// Ownership is advisory: tasks declare the files they expect to touch and
// the claim path keeps two live claims off the same file. Nothing on disk
// is locked.
package conflict

import (
	"slices"
	"time"

	"github.com/workboard/workboard/internal/types"
)

// HasFileConflict reports whether candidate declares any file that an
// active task also declares. A candidate without files never conflicts.
func HasFileConflict(candidate *types.Task, active []*types.Task) bool {
	return len(Conflicts(candidate, active)) > 0
}

// Conflicts returns the candidate's files that are owned by active tasks,
// in the candidate's declaration order. The candidate itself is skipped if
// it appears in active.
func Conflicts(candidate *types.Task, active []*types.Task) []string {
	if len(candidate.KeyFiles) == 0 {
		return nil
	}
	owned := OwnedFiles(active, candidate.ID)
	var hits []string
	for _, kf := range candidate.KeyFiles {
		if _, ok := owned[kf.Path]; ok && !slices.Contains(hits, kf.Path) {
			hits = append(hits, kf.Path)
		}
	}
	return hits
}

// OwnedFiles maps each file declared by the given tasks to its owner's
// identifier. Task skip is excluded.
func OwnedFiles(tasks []*types.Task, skip int64) map[string]string {
	owned := make(map[string]string)
	for _, t := range tasks {
		if t.ID == skip && skip != 0 {
			continue
		}
		for _, kf := range t.KeyFiles {
			owned[kf.Path] = t.Identifier
		}
	}
	return owned
}

// Active filters tasks to those holding a live claim at now. A task whose
// lease has expired is reclaimable and no longer owns its files.
func Active(tasks []*types.Task, now time.Time) []*types.Task {
	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsActive(now) {
			out = append(out, t)
		}
	}
	return out
}
