package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// exitCode maps an error kind onto a process exit status so scripts can
// tell a lost race from bad input.
func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.KindConflict:
		return 3
	case types.KindForbidden:
		return 4
	case types.KindValidation:
		return 5
	case types.KindNotFound:
		return 6
	default:
		return 1
	}
}

// exitWithError reports err on stderr, as {"error": {...}} under --json,
// and exits.
func exitWithError(err error) {
	if jsonOutput {
		e, ok := types.AsError(err)
		if !ok {
			e = &types.Error{Kind: "internal", Message: err.Error()}
		}
		encoder := json.NewEncoder(os.Stderr)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(map[string]*types.Error{"error": e})
	} else {
		ui.RenderError(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}
