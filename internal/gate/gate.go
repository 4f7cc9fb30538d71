// Package gate implements the hook gate that guards lifecycle transitions.
//
// There are four fixed hook points: before_doing, after_doing,
// before_review and after_review. The gate never runs a hook itself. The
// requester runs it locally and submits a HookResult; the gate checks the
// result and, on success, describes the next hook the requester must run.
//
// A blocking hook rejects a missing result or a non-zero exit code with a
// structured ValidationFailed error naming the hook. A non-blocking hook
// records the failure as a warning and lets the transition proceed.
package gate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/workboard/workboard/internal/types"
)

// Default timeouts in seconds, recorded in hook metadata only. The gate
// never enforces them.
const (
	DefaultBeforeDoingTimeout  = 60
	DefaultAfterDoingTimeout   = 120
	DefaultBeforeReviewTimeout = 60
	DefaultAfterReviewTimeout  = 60
)

// ResultShape lists the fields every hook result must carry.
var ResultShape = []string{"exit_code", "output", "duration_ms"}

var descriptions = map[types.HookPoint]string{
	types.HookBeforeDoing:  "Prepare the workspace before starting work (sync, branch, dependencies)",
	types.HookAfterDoing:   "Verify the work (build, tests, lint) before completing",
	types.HookBeforeReview: "Package the change for review (push, open a pull request)",
	types.HookAfterReview:  "Finalize after review (merge, clean up)",
}

// HookConfig overrides a hook's defaults.
type HookConfig struct {
	Timeout  int   // seconds; 0 keeps the default
	Blocking *bool // nil keeps the default (blocking)
}

// Result is the outcome of checking one hook.
type Result struct {
	Hook     types.HookPoint `json:"hook"`
	Passed   bool            `json:"passed"`
	Blocking bool            `json:"blocking"`
	Message  string          `json:"message,omitempty"`
}

// Check evaluates a submitted result against point without deciding
// whether the failure blocks.
func (g *Gate) Check(point types.HookPoint, res *types.HookResult) Result {
	spec := g.registry.Get(point)
	out := Result{Hook: point, Passed: true}
	if spec != nil {
		out.Blocking = spec.Blocking
	}
	switch {
	case spec == nil:
		out.Passed = false
		out.Message = fmt.Sprintf("unknown hook point %q", point)
	case res == nil:
		out.Passed = false
		out.Message = "result is required"
	case res.ExitCode != 0:
		out.Passed = false
		out.Message = fmt.Sprintf("exited with code %d", res.ExitCode)
		if tail := lastLine(res.Output); tail != "" {
			out.Message += ": " + tail
		}
	case res.DurationMS < 0:
		out.Passed = false
		out.Message = "duration_ms must not be negative"
	}
	return out
}

// Gate validates hook results and issues hook metadata.
type Gate struct {
	registry *Registry
	warn     func(Result)
}

// Option configures a Gate.
type Option func(*Gate)

// WithWarningFunc receives failures of non-blocking hooks.
func WithWarningFunc(fn func(Result)) Option {
	return func(g *Gate) { g.warn = fn }
}

// New builds a gate with the four hook points at their defaults, then
// applies overrides.
func New(overrides map[types.HookPoint]HookConfig, opts ...Option) *Gate {
	g := &Gate{registry: NewRegistry()}
	for _, o := range opts {
		o(g)
	}
	g.Configure(overrides)
	return g
}

// Configure resets every hook to its defaults and applies overrides. It is
// safe to call while the gate is in use.
func (g *Gate) Configure(overrides map[types.HookPoint]HookConfig) {
	specs := make([]*types.HookSpec, 0, len(types.HookPoints))
	for _, p := range types.HookPoints {
		spec := defaultSpec(p)
		if o, ok := overrides[p]; ok {
			if o.Timeout > 0 {
				spec.TimeoutSecs = o.Timeout
			}
			if o.Blocking != nil {
				spec.Blocking = *o.Blocking
			}
		}
		specs = append(specs, spec)
	}
	g.registry.Replace(specs)
}

func defaultSpec(p types.HookPoint) *types.HookSpec {
	timeout := DefaultBeforeDoingTimeout
	switch p {
	case types.HookAfterDoing:
		timeout = DefaultAfterDoingTimeout
	case types.HookBeforeReview:
		timeout = DefaultBeforeReviewTimeout
	case types.HookAfterReview:
		timeout = DefaultAfterReviewTimeout
	}
	return &types.HookSpec{
		Name:        p,
		Description: descriptions[p],
		TimeoutSecs: timeout,
		Blocking:    true,
		ResultShape: ResultShape,
	}
}

// Validate rejects a missing or failed result for a blocking hook.
func (g *Gate) Validate(point types.HookPoint, res *types.HookResult) error {
	r := g.Check(point, res)
	if r.Passed {
		return nil
	}
	if !r.Blocking && g.registry.Get(point) != nil {
		if g.warn != nil {
			g.warn(r)
		}
		return nil
	}
	return types.NewHookRejected(string(point), "%s", r.Message)
}

// ValidateAll checks results in the order of points and stops at the first
// rejection. Results are keyed by hook point.
func (g *Gate) ValidateAll(results map[types.HookPoint]*types.HookResult, points ...types.HookPoint) error {
	for _, p := range points {
		if err := g.Validate(p, results[p]); err != nil {
			return err
		}
	}
	return nil
}

// Spec returns a copy of the metadata for point, or nil if point is not a
// hook point.
func (g *Gate) Spec(point types.HookPoint) *types.HookSpec {
	spec := g.registry.Get(point)
	if spec == nil {
		return nil
	}
	c := *spec
	c.ResultShape = append([]string(nil), spec.ResultShape...)
	c.Env = map[string]string{
		"WB_HOOK":         string(point),
		"WB_HOOK_TIMEOUT": strconv.Itoa(spec.TimeoutSecs),
	}
	return &c
}

// Next returns the hook that follows point in the lifecycle, or nil after
// after_review.
func (g *Gate) Next(point types.HookPoint) *types.HookSpec {
	for i, p := range types.HookPoints {
		if p == point && i+1 < len(types.HookPoints) {
			return g.Spec(types.HookPoints[i+1])
		}
	}
	return nil
}

// ForTask returns spec with the task's coordinates added to its environment.
func ForTask(spec *types.HookSpec, task *types.Task) *types.HookSpec {
	if spec == nil || task == nil {
		return spec
	}
	if spec.Env == nil {
		spec.Env = make(map[string]string)
	}
	spec.Env["WB_BOARD_ID"] = strconv.FormatInt(task.BoardID, 10)
	spec.Env["WB_TASK"] = task.Identifier
	spec.Env["WB_TASK_TITLE"] = task.Title
	if len(task.KeyFiles) > 0 {
		spec.Env["WB_TASK_FILES"] = strings.Join(task.FilePaths(), ":")
	}
	return spec
}

// lastLine returns the last non-empty line of s, truncated.
func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n\t ")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
