package ui

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls pager behavior
type PagerOptions struct {
	NoPager bool // --no-pager
}

// pagerCommand returns the pager to pipe through, or nil when output should
// go straight to stdout: --no-pager, WB_NO_PAGER, agent mode, or a
// non-terminal stdout.
func pagerCommand(opts PagerOptions) []string {
	if opts.NoPager || os.Getenv("WB_NO_PAGER") != "" || IsAgentMode() || !IsTerminal() {
		return nil
	}
	for _, env := range []string{"WB_PAGER", "PAGER"} {
		if p := strings.Fields(os.Getenv(env)); len(p) > 0 {
			return p
		}
	}
	return []string{"less"}
}

// fitsTerminal reports whether content fits on one screen.
func fitsTerminal(content string) bool {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return true
	}
	return strings.Count(content, "\n") < height-1
}

// ToPager pipes content to a pager when stdout is an interactive terminal
// and the content is taller than the screen; otherwise it prints directly.
func ToPager(content string, opts PagerOptions) error {
	argv := pagerCommand(opts)
	if argv == nil || fitsTerminal(content) {
		_, err := fmt.Print(content)
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 - pager comes from WB_PAGER/PAGER
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if os.Getenv("LESS") == "" {
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}
