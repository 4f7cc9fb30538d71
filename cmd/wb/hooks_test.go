package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/types"
)

func TestRunHook(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		shell    string
		timeout  time.Duration
		wantCode int
		wantOut  string
	}{
		{"success", "echo ready", 0, 0, "ready"},
		{"failure", "echo broken >&2; exit 3", 0, 3, "broken"},
		{"env", `echo "$WB_HOOK $WB_BOARD $WB_TASK"`, 0, 0, "before_doing 7 W1"},
		{"timeout", "sleep 5", 100 * time.Millisecond, timeoutExitCode, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runHook(ctx, types.HookBeforeDoing, tt.shell, tt.timeout, hookEnv(types.HookBeforeDoing, 7, "W1"))
			if res.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d (output %q)", res.ExitCode, tt.wantCode, res.Output)
			}
			if !strings.Contains(res.Output, tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", res.Output, tt.wantOut)
			}
		})
	}
}

func TestHookEnvWithoutTask(t *testing.T) {
	env := hookEnv(types.HookBeforeDoing, 2, "")
	for _, kv := range env {
		if strings.HasPrefix(kv, "WB_TASK=") {
			t.Errorf("unexpected %s", kv)
		}
	}
	if len(env) != 2 {
		t.Errorf("env = %v", env)
	}
}

func hookCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addHookFlags(cmd, types.HookAfterDoing, types.HookBeforeReview)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestHookResults(t *testing.T) {
	cmd := hookCommand(t, "--hook", "before_review=2", "--run", "after_doing=exit 0")
	results, err := hookResults(context.Background(), cmd, 1, "W3", types.HookAfterDoing, types.HookBeforeReview)
	if err != nil {
		t.Fatalf("hookResults: %v", err)
	}
	if r := results[types.HookAfterDoing]; r == nil || r.ExitCode != 0 {
		t.Errorf("after_doing = %+v, want a passing run", r)
	}
	if r := results[types.HookBeforeReview]; r == nil || r.ExitCode != 2 {
		t.Errorf("before_review = %+v, want reported exit 2", r)
	}
}

func TestHookResultsLeavesUnreportedNil(t *testing.T) {
	cmd := hookCommand(t)
	results, err := hookResults(context.Background(), cmd, 1, "W3", types.HookAfterDoing, types.HookBeforeReview)
	if err != nil {
		t.Fatalf("hookResults: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
}

func TestHookResultsRejectsForeignPoint(t *testing.T) {
	cmd := hookCommand(t, "--hook", "before_doing=0")
	_, err := hookResults(context.Background(), cmd, 1, "W3", types.HookAfterDoing, types.HookBeforeReview)
	e, ok := types.AsError(err)
	if !ok || e.Field != "hook" {
		t.Fatalf("err = %v, want validation on hook", err)
	}
}
