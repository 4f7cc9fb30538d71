package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/claim"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var nextCmd = &cobra.Command{
	Use:     "next",
	GroupID: "work",
	Short:   "Show the task claim would pick, without claiming it",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		var out struct {
			Task *types.Task `json:"task"`
		}
		if err := newClientFromConfig().do(getRootContext(), http.MethodGet, boardPath(board, "/next"), nil, &out); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(out)
			return nil
		}
		if out.Task == nil {
			debug.PrintlnNormal(ui.RenderMuted("nothing available"))
			return nil
		}
		fmt.Println(ui.TaskLine(out.Task, ui.TerminalWidth(100)))
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:     "claim [identifier]",
	GroupID: "work",
	Short:   "Claim the best available task, or a named one",
	Long: `Claim a task under a lease. Without an identifier the server picks the
highest-priority task you can do whose dependencies are met and whose key
files no active task holds.

The before_doing hook must pass:

  wb claim --run before_doing='git diff --quiet'
  wb claim W12 --hook before_doing=0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		req := claim.ClaimRequest{}
		if len(args) == 1 {
			req.Identifier = args[0]
		}
		results, err := hookResults(getRootContext(), cmd, board, req.Identifier, types.HookBeforeDoing)
		if err != nil {
			return err
		}
		req.BeforeDoing = results[types.HookBeforeDoing]

		var out lifecycle.Outcome
		if err := newClientFromConfig().do(getRootContext(), http.MethodPost, boardPath(board, "/claim"), req, &out); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(out)
			return nil
		}
		ui.RenderOutcome(os.Stdout, "claimed", &out)
		return nil
	},
}

var unclaimCmd = &cobra.Command{
	Use:     "unclaim <identifier>",
	GroupID: "work",
	Short:   "Release a claim and return the task to Ready",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		var task types.Task
		body := map[string]string{"reason": reason}
		if err := newClientFromConfig().do(getRootContext(), http.MethodPost, taskPath(board, args[0], "/unclaim"), body, &task); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(task)
			return nil
		}
		fmt.Printf("%s released %s\n", ui.RenderPassIcon(), ui.TaskLine(&task, 0))
		return nil
	},
}

func init() {
	addHookFlags(claimCmd, types.HookBeforeDoing)
	unclaimCmd.Flags().StringP("reason", "r", "", "Why the task is being released (kept in history)")
	rootCmd.AddCommand(nextCmd, claimCmd, unclaimCmd)
}
