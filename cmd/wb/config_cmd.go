package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/config"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Read and write .workboard/config.yaml",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !config.IsKnownKey(key) {
			return types.NewValidation("key", "unknown config key %q", key)
		}
		value := config.GetString(key)
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return nil
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a setting to the project config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsKnownKey(args[0]) {
			return types.NewValidation("key", "unknown config key %q", args[0])
		}
		path, err := config.SetFileValue(args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": args[1], "file": path})
			return nil
		}
		fmt.Printf("%s set %s = %s in %s\n", ui.RenderPassIcon(), args[0], args[1], path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every known setting and its effective value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make([]string, 0, len(config.Keys)+4*len(types.HookPoints))
		for k := range config.Keys {
			keys = append(keys, k)
		}
		for _, p := range types.HookPoints {
			keys = append(keys, "hooks."+string(p)+".timeout", "hooks."+string(p)+".blocking")
		}
		sort.Strings(keys)

		values := make(map[string]string, len(keys))
		for _, k := range keys {
			values[k] = config.GetString(k)
		}
		if jsonOutput {
			outputJSON(values)
			return nil
		}
		if path := config.ConfigFileUsed(); path != "" {
			fmt.Println(ui.RenderMuted("# " + path))
		}
		width := 0
		for _, k := range keys {
			width = max(width, len(k))
		}
		for _, k := range keys {
			fmt.Printf("%s%s %s\n", k, strings.Repeat(" ", width-len(k)), values[k])
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
