package types

// HookPoint names one of the four fixed validation points.
type HookPoint string

// Hook points, in the order a task meets them.
const (
	HookBeforeDoing  HookPoint = "before_doing"
	HookAfterDoing   HookPoint = "after_doing"
	HookBeforeReview HookPoint = "before_review"
	HookAfterReview  HookPoint = "after_review"
)

// HookPoints lists every hook point in lifecycle order.
var HookPoints = []HookPoint{HookBeforeDoing, HookAfterDoing, HookBeforeReview, HookAfterReview}

// IsValid checks if the hook point is one of the four fixed points.
func (h HookPoint) IsValid() bool {
	switch h {
	case HookBeforeDoing, HookAfterDoing, HookBeforeReview, HookAfterReview:
		return true
	}
	return false
}

// HookResult is what a requester reports after running a hook locally.
type HookResult struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}

// HookSpec describes a hook the requester must run next.
type HookSpec struct {
	Name        HookPoint         `json:"name"`
	Description string            `json:"description"`
	TimeoutSecs int               `json:"timeout"`
	Blocking    bool              `json:"blocking"`
	Env         map[string]string `json:"env,omitempty"`
	ResultShape []string          `json:"result_shape"`
}
