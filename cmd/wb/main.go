package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "wb",
	Short:         "wb - coordinated work board for humans and agents",
	Long:          `A Kanban board where agents claim work under leases, report hook results, and hand tasks through review.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		jsonOutput = config.GetBool("json")
		if jsonOutput || config.GetBool("agent") {
			ui.SetAgentMode(true)
		}
		if path := config.ConfigFileUsed(); path != "" {
			debug.Logf("using config %s\n", path)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.AddGroup(&cobra.Group{ID: "work", Title: "Working With Tasks:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Views:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	pf := rootCmd.PersistentFlags()
	pf.String("actor", "", "Requester name (default: $WB_ACTOR, $USER)")
	pf.Bool("agent", false, "Act as an agent rather than a human")
	pf.String("capabilities", "", "Comma-separated capabilities the requester offers")
	pf.Int64P("board", "b", 0, "Board id")
	pf.String("server", "", "Workboard server URL (default: server.url)")
	pf.Bool("json", false, "Output in JSON format")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	for key, flag := range map[string]string{
		"actor":        "actor",
		"agent":        "agent",
		"capabilities": "capabilities",
		"board":        "board",
		"server.url":   "server",
		"json":         "json",
	} {
		if err := config.BindPFlag(key, pf.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// getRootContext returns the signal-aware context of the running command.
func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitWithError(err)
	}
}
