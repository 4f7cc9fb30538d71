package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var boardCmd = &cobra.Command{
	Use:     "board",
	GroupID: "views",
	Short:   "Show the board, or manage boards",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		client := newClientFromConfig()
		var views []lifecycle.ColumnView
		if err := client.do(getRootContext(), http.MethodGet, boardPath(board, "/columns"), nil, &views); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(views)
			return nil
		}
		var b types.Board
		if err := client.do(getRootContext(), http.MethodGet, boardPath(board, ""), nil, &b); err != nil {
			return err
		}
		var buf bytes.Buffer
		ui.RenderBoard(&buf, &b, views)
		noPager, _ := cmd.Flags().GetBool("no-pager")
		return ui.ToPager(buf.String(), ui.PagerOptions{NoPager: noPager})
	},
}

var boardCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a board with the standard columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var b types.Board
		body := map[string]string{"name": args[0]}
		if err := newClientFromConfig().do(getRootContext(), http.MethodPost, "/boards", body, &b); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(b)
			return nil
		}
		fmt.Printf("%s created board %s %s\n", ui.RenderPassIcon(), ui.RenderAccent(fmt.Sprintf("#%d", b.ID)), b.Name)
		fmt.Println(ui.RenderMuted(fmt.Sprintf("use it with --board %d or: wb config set board %d", b.ID, b.ID)))
		return nil
	},
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the boards you can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var boards []*types.Board
		if err := newClientFromConfig().do(getRootContext(), http.MethodGet, "/boards", nil, &boards); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(boards)
			return nil
		}
		if len(boards) == 0 {
			fmt.Println(ui.RenderMuted("no boards"))
			return nil
		}
		for _, b := range boards {
			fmt.Printf("%s %s\n", ui.RenderAccent(fmt.Sprintf("#%d", b.ID)), b.Name)
		}
		return nil
	},
}

var boardWIPCmd = &cobra.Command{
	Use:   "wip <stage> <limit>",
	Short: "Set a column's WIP limit (0 removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		limit, err := strconv.Atoi(args[1])
		if err != nil {
			return types.NewValidation("wip_limit", "%q is not a number", args[1])
		}
		var col types.Column
		body := map[string]int{"wip_limit": limit}
		if err := newClientFromConfig().do(getRootContext(), http.MethodPatch, boardPath(board, "/columns/%s", args[0]), body, &col); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(col)
			return nil
		}
		if col.WIPLimit == 0 {
			fmt.Fprintf(os.Stdout, "%s %s has no WIP limit\n", ui.RenderPassIcon(), col.Name)
		} else {
			fmt.Fprintf(os.Stdout, "%s %s WIP limit is %d\n", ui.RenderPassIcon(), col.Name, col.WIPLimit)
		}
		return nil
	},
}

func init() {
	boardCmd.Flags().Bool("no-pager", false, "Print directly instead of through a pager")
	boardCmd.AddCommand(boardCreateCmd, boardListCmd, boardWIPCmd)
	rootCmd.AddCommand(boardCmd)
}
