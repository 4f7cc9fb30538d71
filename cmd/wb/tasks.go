package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var moveCmd = &cobra.Command{
	Use:     "move <identifier> <stage>",
	GroupID: "work",
	Short:   "Move a task to another column or position",
	Long: `Move a task by hand. Only human actors may move tasks. The destination's
WIP limit applies, and moving into doing claims the task for you after the
same file and capability checks a claim runs. Review and done are reached
with complete and mark-reviewed. A task another actor has claimed stays
put. Goals follow their children and cannot be moved.

  wb move W4 ready --position 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		req := lifecycle.MoveRequest{Stage: types.Stage(args[1])}
		if cmd.Flags().Changed("position") {
			pos, _ := cmd.Flags().GetInt("position")
			req.Position = &pos
		}
		var task types.Task
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, taskPath(board, args[0], "/move"), req, &task); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(task)
			return nil
		}
		fmt.Printf("%s moved %s to %s at %d\n", ui.RenderPassIcon(), ui.RenderIdentifier(task.Identifier), args[1], task.Position)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <identifier>",
	GroupID: "work",
	Short:   "Delete a task nothing depends on",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		if err := newClientFromConfig().do(getRootContext(), http.MethodDelete, taskPath(board, args[0], ""), nil, nil); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"deleted": args[0]})
			return nil
		}
		fmt.Printf("%s deleted %s\n", ui.RenderPassIcon(), ui.RenderIdentifier(args[0]))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history <identifier>",
	GroupID: "views",
	Short:   "Show the audit trail of a task or goal, newest first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		var events []*types.Event
		path := taskPath(board, args[0], fmt.Sprintf("/history?limit=%d", limit))
		if err := newClientFromConfig().do(getRootContext(), http.MethodGet, path, nil, &events); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(events)
			return nil
		}
		var buf bytes.Buffer
		ui.RenderHistory(&buf, events)
		noPager, _ := cmd.Flags().GetBool("no-pager")
		return ui.ToPager(buf.String(), ui.PagerOptions{NoPager: noPager})
	},
}

var depsCmd = &cobra.Command{
	Use:     "deps <identifier>",
	GroupID: "views",
	Short:   "Show what a task depends on, or what depends on it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		suffix := "/dependencies"
		if up, _ := cmd.Flags().GetBool("dependents"); up {
			suffix = "/dependents"
		}
		if recursive, _ := cmd.Flags().GetBool("recursive"); recursive {
			suffix += "?recursive=true"
		}
		var nodes []types.DependencyNode
		if err := newClientFromConfig().do(getRootContext(), http.MethodGet, taskPath(board, args[0], suffix), nil, &nodes); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(nodes)
			return nil
		}
		ui.RenderDependencies(os.Stdout, nodes)
		return nil
	},
}

var depsSetCmd = &cobra.Command{
	Use:   "set <identifier> [dependency...]",
	Short: "Replace a task's dependencies (none clears them)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		body := map[string][]string{"dependencies": nonNilStrings(args[1:])}
		var task types.Task
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, taskPath(board, args[0], "/dependencies"), body, &task); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(task)
			return nil
		}
		fmt.Printf("%s %s\n", ui.RenderPassIcon(), ui.TaskLine(&task, 0))
		return nil
	},
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func init() {
	moveCmd.Flags().Int("position", 0, "Zero-based slot in the destination (default: end)")
	historyCmd.Flags().IntP("limit", "n", 0, "Show at most this many events (0 = all)")
	historyCmd.Flags().Bool("no-pager", false, "Print directly instead of through a pager")
	depsCmd.Flags().Bool("dependents", false, "Show tasks that depend on this one")
	depsCmd.Flags().BoolP("recursive", "r", false, "Follow the whole chain")
	depsCmd.AddCommand(depsSetCmd)
	rootCmd.AddCommand(moveCmd, deleteCmd, historyCmd, depsCmd)
}
