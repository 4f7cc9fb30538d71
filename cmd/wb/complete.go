package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var completeCmd = &cobra.Command{
	Use:     "complete <identifier>",
	GroupID: "work",
	Short:   "Finish work on a claimed task",
	Long: `Finish work on a task you hold. The after_doing and before_review hooks
must pass; the task then moves to Review when it needs review, otherwise to
Done.

  wb complete W12 --run after_doing='go test ./...' --hook before_review=0 -m "added retries"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		results, err := hookResults(getRootContext(), cmd, board, args[0], types.HookAfterDoing, types.HookBeforeReview)
		if err != nil {
			return err
		}
		summary, _ := cmd.Flags().GetString("summary")
		req := lifecycle.CompleteRequest{
			AfterDoing:   results[types.HookAfterDoing],
			BeforeReview: results[types.HookBeforeReview],
			Summary:      summary,
		}
		var out lifecycle.Outcome
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, taskPath(board, args[0], "/complete"), req, &out); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(out)
			return nil
		}
		verb := "completed"
		if out.Task.Status == types.StatusReview {
			verb = "submitted for review"
		}
		ui.RenderOutcome(os.Stdout, verb, &out)
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review <identifier> <approved|changes_requested|rejected>",
	GroupID: "work",
	Short:   "Record a review verdict on a task in Review",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		notes, _ := cmd.Flags().GetString("notes")
		body := map[string]string{"review_status": args[1], "review_notes": notes}
		var task types.Task
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, taskPath(board, args[0], "/review"), body, &task); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(task)
			return nil
		}
		fmt.Printf("%s %s marked %s\n", ui.RenderPassIcon(), ui.RenderIdentifier(task.Identifier), task.ReviewStatus)
		return nil
	},
}

var markReviewedCmd = &cobra.Command{
	Use:     "mark-reviewed <identifier>",
	GroupID: "work",
	Short:   "Act on a review verdict: approved goes to Done, anything else back to Doing",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		results, err := hookResults(getRootContext(), cmd, board, args[0], types.HookAfterReview)
		if err != nil {
			return err
		}
		req := lifecycle.MarkReviewedRequest{AfterReview: results[types.HookAfterReview]}
		var out lifecycle.Outcome
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, taskPath(board, args[0], "/mark_reviewed"), req, &out); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(out)
			return nil
		}
		verb := "approved"
		if out.Task.Status != types.StatusCompleted {
			verb = "returned to Doing"
		}
		ui.RenderOutcome(os.Stdout, verb, &out)
		return nil
	},
}

func init() {
	addHookFlags(completeCmd, types.HookAfterDoing, types.HookBeforeReview)
	completeCmd.Flags().StringP("summary", "m", "", "Completion summary")
	reviewCmd.Flags().StringP("notes", "n", "", "Review notes for the assignee")
	addHookFlags(markReviewedCmd, types.HookAfterReview)
	rootCmd.AddCommand(completeCmd, reviewCmd, markReviewedCmd)
}
