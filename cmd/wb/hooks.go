package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/debug"
	"github.com/workboard/workboard/internal/types"
)

// timeoutExitCode is reported when a hook outlives its timeout, matching
// coreutils timeout(1).
const timeoutExitCode = 124

// addHookFlags registers --hook and --run for the points a command reports.
func addHookFlags(cmd *cobra.Command, points ...types.HookPoint) {
	names := make([]string, len(points))
	for i, p := range points {
		names[i] = string(p)
	}
	list := strings.Join(names, ", ")
	cmd.Flags().StringToInt("hook", nil, "Report a hook exit code you ran yourself, e.g. "+names[0]+"=0 (points: "+list+")")
	cmd.Flags().StringToString("run", nil, "Run a shell command as the hook and report its result, e.g. "+names[0]+"='make test'")
}

// hookResults collects one result per point from --run (executed here) or
// --hook (reported). A point with neither is left nil and the server
// decides whether that is acceptable.
func hookResults(ctx context.Context, cmd *cobra.Command, board int64, identifier string, points ...types.HookPoint) (map[types.HookPoint]*types.HookResult, error) {
	reported, err := cmd.Flags().GetStringToInt("hook")
	if err != nil {
		return nil, err
	}
	commands, err := cmd.Flags().GetStringToString("run")
	if err != nil {
		return nil, err
	}
	valid := make(map[types.HookPoint]bool, len(points))
	for _, p := range points {
		valid[p] = true
	}
	for name := range reported {
		if !valid[types.HookPoint(name)] {
			return nil, types.NewValidation("hook", "%s does not apply here", name)
		}
	}
	for name := range commands {
		if !valid[types.HookPoint(name)] {
			return nil, types.NewValidation("run", "%s does not apply here", name)
		}
	}

	overrides := config.HookOverrides()
	out := make(map[types.HookPoint]*types.HookResult, len(points))
	for _, p := range points {
		if shell, ok := commands[string(p)]; ok {
			timeout := time.Duration(overrides[p].Timeout) * time.Second
			out[p] = runHook(ctx, p, shell, timeout, hookEnv(p, board, identifier))
			debug.Logf("hook %s exited %d in %dms\n", p, out[p].ExitCode, out[p].DurationMS)
			continue
		}
		if code, ok := reported[string(p)]; ok {
			out[p] = &types.HookResult{ExitCode: code}
		}
	}
	return out, nil
}

func hookEnv(p types.HookPoint, board int64, identifier string) []string {
	env := []string{
		"WB_HOOK=" + string(p),
		fmt.Sprintf("WB_BOARD=%d", board),
	}
	if identifier != "" {
		env = append(env, "WB_TASK="+identifier)
	}
	return env
}

// runHook executes shell under sh -c with a timeout and reports what
// happened. It never fails; a command that cannot start is a failed hook.
func runHook(ctx context.Context, p types.HookPoint, shell string, timeout time.Duration, env []string) *types.HookResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c := exec.CommandContext(ctx, "sh", "-c", shell) // #nosec G204 - hook commands are supplied by the user running them
	c.Env = append(os.Environ(), env...)
	c.WaitDelay = time.Second

	start := time.Now()
	output, err := c.CombinedOutput()
	res := &types.HookResult{
		Output:     strings.TrimSpace(string(output)),
		DurationMS: time.Since(start).Milliseconds(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = timeoutExitCode
		res.Output = strings.TrimSpace(res.Output + "\n" + fmt.Sprintf("%s timed out after %s", p, timeout))
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = 127
		res.Output = err.Error()
	}
	return res
}
