package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

var labelStyle = MutedStyle.Width(12)

// columnName returns the stage name of a column id, or the id itself when
// the board is unknown.
func columnName(board *types.Board, id int64) string {
	if board != nil {
		for _, c := range board.Columns {
			if c.ID == id {
				return c.Name
			}
		}
	}
	return fmt.Sprintf("#%d", id)
}

func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
}

// TaskLine renders a one-line summary: identifier, status, priority, title.
func TaskLine(t *types.Task, width int) string {
	line := fmt.Sprintf("%s %s %s ", RenderIdentifier(t.Identifier), RenderStatus(t.Status), RenderPriority(t.Priority))
	if width > 0 {
		return line + TruncateSimple(t.Title, max(width-lipgloss.Width(line), 10))
	}
	return line + t.Title
}

// RenderTask writes the detail view of a task.
func RenderTask(w io.Writer, board *types.Board, t *types.Task) {
	fmt.Fprintf(w, "%s %s\n", RenderIdentifier(t.Identifier), lipgloss.NewStyle().Bold(true).Render(t.Title))
	fmt.Fprintln(w, RenderSeparator())
	field(w, "status", RenderStatus(t.Status))
	field(w, "column", columnName(board, t.ColumnID))
	field(w, "priority", RenderPriority(t.Priority))
	field(w, "kind", string(t.Kind))
	field(w, "complexity", string(t.Complexity))
	if t.Assignment != nil {
		field(w, "assignee", t.Assignment.AssignedTo)
		field(w, "lease until", t.Assignment.ExpiresAt.Format(time.RFC3339))
	}
	if len(t.Dependencies) > 0 {
		field(w, "depends on", strings.Join(t.Dependencies, ", "))
	}
	if len(t.RequiredCapabilities) > 0 {
		field(w, "requires", t.RequiredCapabilities.String())
	}
	if len(t.KeyFiles) > 0 {
		field(w, "files", strings.Join(t.FilePaths(), ", "))
	}
	if t.NeedsReview {
		review := "pending"
		if t.ReviewStatus != "" {
			review = string(t.ReviewStatus)
		}
		field(w, "review", review)
		field(w, "notes", t.ReviewNotes)
	}
	field(w, "summary", t.CompletionSummary)
	if d := strings.TrimSpace(t.Description); d != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderMarkdown(d))
	}
}

// RenderGoal writes a goal and a tree of its children.
func RenderGoal(w io.Writer, board *types.Board, g *types.Goal) {
	fmt.Fprintf(w, "%s %s\n", RenderIdentifier(g.Identifier), lipgloss.NewStyle().Bold(true).Render(g.Title))
	fmt.Fprintln(w, RenderSeparator())
	field(w, "status", RenderStatus(g.Status))
	field(w, "column", columnName(board, g.ColumnID))
	field(w, "priority", RenderPriority(g.Priority))
	if d := strings.TrimSpace(g.Description); d != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderMarkdown(d))
	}
	if len(g.Children) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderCategory("children"))
	for i, c := range g.Children {
		branch := TreeChild
		if i == len(g.Children)-1 {
			branch = TreeLast
		}
		fmt.Fprintf(w, "%s%s%s %s\n", TreeIndent, MutedStyle.Render(branch), TaskLine(c, 0),
			MutedStyle.Render("("+columnName(board, c.ColumnID)+")"))
	}
}

// RenderItem writes whichever of the task or goal is set.
func RenderItem(w io.Writer, board *types.Board, item *lifecycle.Item) {
	switch {
	case item.Task != nil:
		RenderTask(w, board, item.Task)
	case item.Goal != nil:
		RenderGoal(w, board, item.Goal)
	}
}

// RenderBoard writes every column with its items in position order.
func RenderBoard(w io.Writer, board *types.Board, views []lifecycle.ColumnView) {
	if board != nil {
		fmt.Fprintf(w, "%s %s\n\n", RenderAccent(fmt.Sprintf("#%d", board.ID)), lipgloss.NewStyle().Bold(true).Render(board.Name))
	}
	width := TerminalWidth(100)
	for _, v := range views {
		header := v.Column.Name
		if v.Column.WIPLimit > 0 {
			header = fmt.Sprintf("%s (%d/%d)", header, countTasks(v.Items), v.Column.WIPLimit)
		} else {
			header = fmt.Sprintf("%s (%d)", header, countTasks(v.Items))
		}
		fmt.Fprintln(w, RenderCategory(header))
		if len(v.Items) == 0 {
			fmt.Fprintln(w, TreeIndent+RenderMuted("empty"))
		}
		for _, it := range v.Items {
			switch {
			case it.Goal != nil:
				fmt.Fprintf(w, "%s%s %s %s\n", TreeIndent, RenderIdentifier(it.Goal.Identifier),
					RenderStatus(it.Goal.Status), lipgloss.NewStyle().Bold(true).Render(it.Goal.Title))
			case it.Task != nil:
				indent := TreeIndent
				if it.Task.ParentID != nil {
					indent += TreeIndent
				}
				line := TaskLine(it.Task, width-len(indent))
				if who := it.Task.AssignedTo(); who != "" {
					line += " " + MutedStyle.Render("@"+who)
				}
				fmt.Fprintln(w, indent+line)
			}
		}
		fmt.Fprintln(w)
	}
}

func countTasks(items []lifecycle.Item) int {
	n := 0
	for _, it := range items {
		if it.Task != nil {
			n++
		}
	}
	return n
}

// RenderHistory writes audit events, newest first.
func RenderHistory(w io.Writer, events []*types.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, RenderMuted("no history"))
		return
	}
	for _, e := range events {
		change := ""
		switch {
		case e.OldValue != "" && e.NewValue != "":
			change = e.OldValue + " → " + e.NewValue
		case e.NewValue != "":
			change = e.NewValue
		case e.OldValue != "":
			change = e.OldValue
		}
		line := fmt.Sprintf("%s %-22s %-12s %s", RenderMuted(e.CreatedAt.Format(time.RFC3339)), e.EventType, e.Actor, change)
		if e.Comment != "" {
			line += " " + MutedStyle.Render("("+e.Comment+")")
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// RenderDependencies writes a dependency traversal indented by depth.
func RenderDependencies(w io.Writer, nodes []types.DependencyNode) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, RenderMuted("none"))
		return
	}
	for _, n := range nodes {
		indent := strings.Repeat(TreeIndent, max(n.Depth-1, 0))
		if n.Missing {
			fmt.Fprintf(w, "%s%s %s\n", indent, RenderIdentifier(n.Identifier), RenderFail("missing"))
			continue
		}
		fmt.Fprintf(w, "%s%s %s %s\n", indent, RenderIdentifier(n.Identifier), RenderStatus(n.Status), n.Title)
	}
}

// RenderOutcome writes a transitioned task and the hook to run next.
func RenderOutcome(w io.Writer, verb string, out *lifecycle.Outcome) {
	fmt.Fprintf(w, "%s %s %s\n", RenderPassIcon(), verb, TaskLine(out.Task, 0))
	if out.Next != nil {
		RenderHook(w, out.Next)
	}
}

// RenderHook tells the requester which hook to run and how to report it.
func RenderHook(w io.Writer, spec *types.HookSpec) {
	blocking := "blocking"
	if !spec.Blocking {
		blocking = "advisory"
	}
	fmt.Fprintf(w, "%s next hook: %s (%s, %ds)\n", RenderInfoIcon(), RenderAccent(string(spec.Name)), blocking, spec.TimeoutSecs)
	if spec.Description != "" {
		fmt.Fprintln(w, TreeIndent+RenderMuted(spec.Description))
	}
}

// RenderError writes a structured engine error with the field or hook it
// names.
func RenderError(w io.Writer, err error) {
	e, ok := types.AsError(err)
	if !ok {
		fmt.Fprintf(w, "%s %v\n", RenderFailIcon(), err)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", RenderFailIcon(), RenderFail(string(e.Kind)), e.Error())
}
