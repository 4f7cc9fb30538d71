// Package types defines core data structures for the workboard engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLeaseTTL is how long a claim stays valid before it becomes reclaimable.
const DefaultLeaseTTL = 24 * time.Hour

// Item holds the fields shared by tasks and goals.
type Item struct {
	ID                int64      `json:"id"`
	Identifier        string     `json:"identifier"`
	BoardID           int64      `json:"board_id"`
	ColumnID          int64      `json:"column_id"`
	Position          int        `json:"position"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            Status     `json:"status"`
	Priority          Priority   `json:"priority"`
	CreatedBy         string     `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedBy       string     `json:"completed_by,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletionSummary string     `json:"completion_summary,omitempty"`
}

// Task is a claimable unit of work.
type Task struct {
	Item
	Kind                 Kind          `json:"kind"`
	ParentID             *int64        `json:"parent_id,omitempty"`
	Complexity           Complexity    `json:"complexity,omitempty"`
	Dependencies         []string      `json:"dependencies,omitempty"`
	KeyFiles             []KeyFile     `json:"key_files,omitempty"`
	RequiredCapabilities CapabilitySet `json:"required_capabilities,omitempty"`
	Assignment           *Assignment   `json:"assignment,omitempty"`
	NeedsReview          bool          `json:"needs_review"`
	ReviewStatus         ReviewStatus  `json:"review_status,omitempty"`
	ReviewNotes          string        `json:"review_notes,omitempty"`
}

// Goal is a container whose column is derived from its children.
// Goals are never claimed and never count toward WIP limits.
type Goal struct {
	Item
	Children []*Task `json:"children,omitempty"` // Populated only by Show
}

// Assignment is the lease a requester holds on a task. A nil Assignment
// means all four fields are unset.
type Assignment struct {
	AssignedTo string    `json:"assigned_to"`
	Agent      bool      `json:"agent"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ExpiresAt  time.Time `json:"claim_expires_at"`
}

// KeyFile is an advisory declaration that a task will touch a file.
type KeyFile struct {
	Path     string `json:"file_path" yaml:"file_path" toml:"file_path"`
	Note     string `json:"note,omitempty" yaml:"note,omitempty" toml:"note,omitempty"`
	Position int    `json:"position" yaml:"-" toml:"-"`
}

// LeaseExpired reports whether the task is in progress under a lease that
// ran out at or before now.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.Status == StatusInProgress && t.Assignment != nil && !now.Before(t.Assignment.ExpiresAt)
}

// IsActive reports whether the task holds a live claim at now.
func (t *Task) IsActive(now time.Time) bool {
	return t.Status == StatusInProgress && !t.LeaseExpired(now)
}

// AssignedTo returns the current assignee or "".
func (t *Task) AssignedTo() string {
	if t.Assignment == nil {
		return ""
	}
	return t.Assignment.AssignedTo
}

// FilePaths returns the declared key file paths in position order.
func (t *Task) FilePaths() []string {
	paths := make([]string, 0, len(t.KeyFiles))
	for _, kf := range t.KeyFiles {
		paths = append(paths, kf.Path)
	}
	return paths
}

// Validate checks structural fields. It does not consult the store.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return NewValidation("title", "title is required")
	}
	if len(t.Title) > 500 {
		return NewValidation("title", "title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Priority.IsValid() {
		return NewValidation("priority", "invalid priority: %q", t.Priority)
	}
	if !t.Kind.IsValid() {
		return NewValidation("kind", "invalid kind: %q", t.Kind)
	}
	if t.Complexity != "" && !t.Complexity.IsValid() {
		return NewValidation("complexity", "invalid complexity: %q", t.Complexity)
	}
	if t.ReviewStatus != "" && !t.ReviewStatus.IsValid() {
		return NewValidation("review_status", "invalid review status: %q", t.ReviewStatus)
	}
	for _, c := range t.RequiredCapabilities {
		if !c.IsKnown() {
			return NewValidation("required_capabilities", "unknown capability: %q", c)
		}
	}
	seen := make(map[string]bool, len(t.KeyFiles))
	for _, kf := range t.KeyFiles {
		if strings.TrimSpace(kf.Path) == "" {
			return NewValidation("key_files", "file_path is required")
		}
		if seen[kf.Path] {
			return NewValidation("key_files", "duplicate file_path: %s", kf.Path)
		}
		seen[kf.Path] = true
	}
	return nil
}

// SetDefaults fills zero-valued enums.
func (t *Task) SetDefaults() {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Kind == "" {
		t.Kind = KindWork
	}
	for i := range t.KeyFiles {
		t.KeyFiles[i].Position = i
	}
	t.RequiredCapabilities = NewCapabilitySet(t.RequiredCapabilities...)
}

// Validate checks structural fields of a goal.
func (g *Goal) Validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return NewValidation("title", "title is required")
	}
	if g.Priority != "" && !g.Priority.IsValid() {
		return NewValidation("priority", "invalid priority: %q", g.Priority)
	}
	return nil
}

// Status represents the lifecycle state of a task or goal.
type Status string

// Status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusCompleted  Status = "completed"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusReview, StatusCompleted:
		return true
	}
	return false
}

// Priority orders claim selection.
type Priority string

// Priority constants
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Rank returns a sortable weight, higher first. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Kind selects the identifier prefix of a non-goal task.
type Kind string

// Kind constants
const (
	KindWork   Kind = "work"
	KindDefect Kind = "defect"
)

// IsValid checks if the kind value is valid
func (k Kind) IsValid() bool {
	return k == KindWork || k == KindDefect
}

// Prefix returns the identifier prefix for the kind.
func (k Kind) Prefix() string {
	if k == KindDefect {
		return PrefixDefect
	}
	return PrefixWork
}

// Identifier prefixes
const (
	PrefixWork   = "W"
	PrefixDefect = "D"
	PrefixGoal   = "G"
)

// FormatIdentifier builds a human identifier such as "W12".
func FormatIdentifier(prefix string, n int) string {
	return fmt.Sprintf("%s%d", prefix, n)
}

// IsGoalIdentifier reports whether the identifier names a goal.
func IsGoalIdentifier(identifier string) bool {
	return strings.HasPrefix(identifier, PrefixGoal)
}

// Complexity is a coarse size tier.
type Complexity string

// Complexity constants
const (
	ComplexitySmall  Complexity = "small"
	ComplexityMedium Complexity = "medium"
	ComplexityLarge  Complexity = "large"
)

// IsValid checks if the complexity value is valid
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySmall, ComplexityMedium, ComplexityLarge:
		return true
	}
	return false
}

// ReviewStatus is set by a human reviewer. The zero value means no decision.
type ReviewStatus string

// ReviewStatus constants
const (
	ReviewPending          ReviewStatus = "pending"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewRejected         ReviewStatus = "rejected"
)

// IsValid checks if the review status value is valid
func (r ReviewStatus) IsValid() bool {
	switch r {
	case ReviewPending, ReviewApproved, ReviewChangesRequested, ReviewRejected:
		return true
	}
	return false
}

// IsDecided reports whether the reviewer reached a verdict.
func (r ReviewStatus) IsDecided() bool {
	return r == ReviewApproved || r == ReviewChangesRequested || r == ReviewRejected
}

// Stage is the lifecycle role a column plays in the pipeline.
type Stage string

// Stage constants, in pipeline order.
const (
	StageBacklog Stage = "backlog"
	StageReady   Stage = "ready"
	StageDoing   Stage = "doing"
	StageReview  Stage = "review"
	StageDone    Stage = "done"
)

// Pipeline is the standardized column sequence seeded for every board.
var Pipeline = []Stage{StageBacklog, StageReady, StageDoing, StageReview, StageDone}

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	for _, p := range Pipeline {
		if p == s {
			return true
		}
	}
	return false
}

// Title returns the display name of the stage.
func (s Stage) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Board owns an ordered set of columns.
type Board struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Columns   []*Column `json:"columns,omitempty"`
}

// NewBoard returns an unsaved board seeded with the standardized pipeline.
func NewBoard(name string, now time.Time) *Board {
	b := &Board{Name: name, CreatedAt: now}
	for i, stage := range Pipeline {
		b.Columns = append(b.Columns, &Column{Name: stage.Title(), Stage: stage, Position: i})
	}
	return b
}

// Column returns the board's column for a stage, or nil.
func (b *Board) Column(stage Stage) *Column {
	for _, c := range b.Columns {
		if c.Stage == stage {
			return c
		}
	}
	return nil
}

// Column is an ordered stage within a board.
type Column struct {
	ID       int64  `json:"id"`
	BoardID  int64  `json:"board_id"`
	Name     string `json:"name"`
	Stage    Stage  `json:"stage"`
	Position int    `json:"position" yaml:"-" toml:"-"`
	WIPLimit int    `json:"wip_limit"` // 0 = unlimited
}

// Requester is the authenticated caller asking for or acting on work.
type Requester struct {
	Name         string        `json:"name"`
	Agent        bool          `json:"agent"`
	Capabilities CapabilitySet `json:"capabilities,omitempty"`
	Boards       []int64       `json:"boards,omitempty"` // Empty = all boards
}

// CanAccess reports whether the requester's scope includes the board.
func (r Requester) CanAccess(boardID int64) bool {
	if len(r.Boards) == 0 {
		return true
	}
	for _, b := range r.Boards {
		if b == boardID {
			return true
		}
	}
	return false
}

// Event is an audit trail entry
type Event struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"item_id"`
	Identifier string    `json:"identifier"`
	EventType  EventType `json:"event_type"`
	Actor      string    `json:"actor"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

// Event type constants for audit trail
const (
	EventCreated             EventType = "created"
	EventClaimed             EventType = "claimed"
	EventUnclaimed           EventType = "unclaimed"
	EventCompleted           EventType = "completed"
	EventSubmittedForReview  EventType = "submitted_for_review"
	EventReviewStatusChanged EventType = "review_status_changed"
	EventReviewed            EventType = "reviewed"
	EventMoved               EventType = "moved"
	EventDependenciesChanged EventType = "dependencies_changed"
	EventUnblocked           EventType = "unblocked"
	EventDeleted             EventType = "deleted"
)

// DependencyNode is one entry of a dependency traversal.
type DependencyNode struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title,omitempty"`
	Status     Status `json:"status,omitempty"`
	Depth      int    `json:"depth"`
	Missing    bool   `json:"missing,omitempty"` // Identifier does not resolve
}
