// Package capability matches requesters against task requirements.
package capability

import "github.com/workboard/workboard/internal/types"

// Matches reports whether a requester declaring have may take a task
// requiring need.
func Matches(have, need types.CapabilitySet) bool {
	// An empty declared set is the unrestricted sentinel, not "no
	// capabilities": such a requester matches every task, whatever it
	// requires. Only a non-empty declaration narrows what a requester sees.
	if len(have) == 0 {
		return true
	}
	if len(need) == 0 {
		return true
	}
	return need.SubsetOf(have)
}

// MatchesTask is Matches against the task's required capabilities.
func MatchesTask(requester types.Requester, task *types.Task) bool {
	return Matches(requester.Capabilities, task.RequiredCapabilities)
}

// Filter returns the tasks the requester may take, preserving order.
func Filter(requester types.Requester, tasks []*types.Task) []*types.Task {
	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if MatchesTask(requester, t) {
			out = append(out, t)
		}
	}
	return out
}

// Missing lists the required capabilities the requester lacks. It is empty
// whenever Matches is true.
func Missing(have, need types.CapabilitySet) []types.Capability {
	if Matches(have, need) {
		return nil
	}
	var missing []types.Capability
	for _, c := range need {
		if !have.Contains(c) {
			missing = append(missing, c)
		}
	}
	return missing
}
