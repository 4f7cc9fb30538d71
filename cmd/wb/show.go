package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

// watchDebounce collapses the burst of writes one transaction produces.
const watchDebounce = 250 * time.Millisecond

var showCmd = &cobra.Command{
	Use:     "show <identifier>",
	GroupID: "views",
	Short:   "Show a task or a goal with its children",
	Long: `Show a task or goal.

With --watch the view is redrawn whenever the local store changes. This
works when the server's store.path is on this machine (sqlite or
dolt-embedded).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		watch, _ := cmd.Flags().GetBool("watch")
		client := newClientFromConfig()
		render := func(ctx context.Context) error {
			return showItem(ctx, client, board, args[0])
		}
		if !watch {
			return render(getRootContext())
		}
		return watchStore(getRootContext(), render)
	},
}

func showItem(ctx context.Context, client *Client, board int64, identifier string) error {
	var item lifecycle.Item
	if err := client.do(ctx, http.MethodGet, taskPath(board, identifier, ""), nil, &item); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(item)
		return nil
	}
	var b types.Board
	if err := client.do(ctx, http.MethodGet, boardPath(board, ""), nil, &b); err != nil {
		return err
	}
	var buf bytes.Buffer
	ui.RenderItem(&buf, &b, &item)
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

// watchStore calls render once, then again after each burst of changes
// under the store directory, until ctx is done.
func watchStore(ctx context.Context, render func(context.Context) error) error {
	dir := filepath.Dir(config.Store().Path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	redraw := func() error {
		if !jsonOutput && ui.IsTerminal() {
			fmt.Print("\033[H\033[2J")
		}
		return render(ctx)
	}
	if err := redraw(); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			debug.Logf("store changed: %s\n", ev)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "%s watch error: %v\n", ui.RenderWarnIcon(), err)
		case <-fire:
			if err := redraw(); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarnIcon(), err)
			}
		}
	}
}

func init() {
	showCmd.Flags().BoolP("watch", "w", false, "Redraw when the local store changes")
	rootCmd.AddCommand(showCmd)
}
