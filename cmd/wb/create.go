package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
	"github.com/workboard/workboard/internal/ui"
)

var createCmd = &cobra.Command{
	Use:     "create [title]",
	GroupID: "work",
	Short:   "Create a task, a goal with children, or a batch from a file",
	Long: `Create work on the board.

  wb create "Fix login redirect" --kind defect --priority high --ready
  wb create "Billing revamp" --goal --child "Schema" --child "API"
  wb create -f tasks.yaml        # list of items, or {items: [...]}
  wb create --form               # interactive

A file is YAML, TOML or JSON by extension (--format overrides; "-" reads
stdin). A batch stops at the first invalid item, which is reported by
index. Items before it stay created and are listed, so the rest can be
resubmitted from that index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := requireBoard()
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		useForm, _ := cmd.Flags().GetBool("form")

		var inputs []lifecycle.Input
		switch {
		case file != "":
			format, _ := cmd.Flags().GetString("format")
			inputs, err = readInputFile(file, format)
		case useForm:
			var in lifecycle.Input
			in, err = runCreateForm()
			if errors.Is(err, errFormCancelled) {
				fmt.Fprintln(os.Stderr, "Task creation cancelled.")
				return nil
			}
			inputs = []lifecycle.Input{in}
		default:
			if len(args) == 0 {
				return types.NewValidation("title", "a title is required (or use --file / --form)")
			}
			var in lifecycle.Input
			in, err = inputFromFlags(cmd, args[0])
			inputs = []lifecycle.Input{in}
		}
		if err != nil {
			return err
		}
		return submitCreate(cmd, board, inputs)
	},
}

func submitCreate(cmd *cobra.Command, board int64, inputs []lifecycle.Input) error {
	client := newClientFromConfig()
	path := boardPath(board, "/tasks")

	var created []*lifecycle.Created
	if len(inputs) == 1 {
		var one lifecycle.Created
		if err := client.do(getRootContext(), http.MethodPost, path, inputs[0], &one); err != nil {
			return err
		}
		created = []*lifecycle.Created{&one}
	} else {
		var batch struct {
			Created []*lifecycle.Created `json:"created"`
		}
		if err := client.do(getRootContext(), http.MethodPost, path, map[string]any{"items": inputs}, &batch); err != nil {
			var partial *partialBatchError
			if errors.As(err, &partial) {
				printCreated(partial.created)
			}
			return err
		}
		created = batch.Created
	}

	if jsonOutput {
		if len(created) == 1 {
			outputJSON(created[0])
		} else {
			outputJSON(created)
		}
		return nil
	}
	printCreated(created)
	return nil
}

func printCreated(created []*lifecycle.Created) {
	for _, c := range created {
		switch {
		case c.Goal != nil:
			fmt.Printf("%s created goal %s %s (%d tasks)\n", ui.RenderPassIcon(), ui.RenderIdentifier(c.Goal.Identifier), c.Goal.Title, len(c.Goal.Children))
		case c.Task != nil:
			fmt.Printf("%s created %s\n", ui.RenderPassIcon(), ui.TaskLine(c.Task, 0))
		}
	}
}

func inputFromFlags(cmd *cobra.Command, title string) (lifecycle.Input, error) {
	f := cmd.Flags()
	description, _ := f.GetString("description")
	priority, _ := f.GetString("priority")

	if isGoal, _ := f.GetBool("goal"); isGoal {
		children, _ := f.GetStringArray("child")
		goal := &lifecycle.GoalInput{
			Title:       title,
			Description: description,
			Priority:    types.Priority(priority),
		}
		for _, c := range children {
			goal.Children = append(goal.Children, lifecycle.TaskInput{Title: c})
		}
		return lifecycle.Input{Goal: goal}, nil
	}

	kind, _ := f.GetString("kind")
	complexity, _ := f.GetString("complexity")
	deps, _ := f.GetStringSlice("deps")
	files, _ := f.GetStringArray("key-file")
	requires, _ := f.GetString("requires")
	needsReview, _ := f.GetBool("needs-review")
	ready, _ := f.GetBool("ready")

	task := &lifecycle.TaskInput{
		Title:                title,
		Description:          description,
		Kind:                 types.Kind(kind),
		Priority:             types.Priority(priority),
		Complexity:           types.Complexity(complexity),
		Dependencies:         deps,
		KeyFiles:             keyFiles(files),
		RequiredCapabilities: types.ParseCapabilities(requires),
		NeedsReview:          needsReview,
	}
	if ready {
		task.Stage = types.StageReady
	}
	return lifecycle.Input{Task: task}, nil
}

// keyFiles parses path or path:note entries.
func keyFiles(specs []string) []types.KeyFile {
	var out []types.KeyFile
	for _, s := range specs {
		path, note, _ := strings.Cut(s, ":")
		if path = strings.TrimSpace(path); path == "" {
			continue
		}
		out = append(out, types.KeyFile{Path: path, Note: strings.TrimSpace(note)})
	}
	return out
}

// inputFile is the document form of a batch. A document may also be a
// single item, or a bare list of items.
type inputFile struct {
	Items           []lifecycle.Input `json:"items" yaml:"items" toml:"items"`
	lifecycle.Input `yaml:",inline"`
}

func (f *inputFile) inputs() ([]lifecycle.Input, error) {
	single := f.Task != nil || f.Goal != nil
	switch {
	case single && len(f.Items) > 0:
		return nil, types.NewValidation("items", "a file holds either items or a single task/goal, not both")
	case single:
		return []lifecycle.Input{f.Input}, nil
	case len(f.Items) == 0:
		return nil, types.NewValidation("items", "no items found")
	}
	return f.Items, nil
}

func readInputFile(path, format string) ([]lifecycle.Input, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 - path is supplied by the user
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if format == "" {
		format = formatFromPath(path)
	}
	inputs, err := parseInputs(data, format)
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, types.NewValidation("file", "%s: %v", path, err)
	}
	return inputs, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func parseInputs(data []byte, format string) ([]lifecycle.Input, error) {
	switch format {
	case "json":
		trimmed := bytes.TrimSpace(data)
		if bytes.HasPrefix(trimmed, []byte("[")) {
			var list []lifecycle.Input
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, err
			}
			return nonEmpty(list)
		}
		var f inputFile
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
		return f.inputs()
	case "toml":
		var f inputFile
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %s", undecoded[0])
		}
		return f.inputs()
	case "yaml", "yml":
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			return nil, types.NewValidation("items", "no items found")
		}
		root := doc.Content[0]
		if root.Kind == yaml.SequenceNode {
			var list []lifecycle.Input
			if err := root.Decode(&list); err != nil {
				return nil, err
			}
			return nonEmpty(list)
		}
		var f inputFile
		if err := root.Decode(&f); err != nil {
			return nil, err
		}
		return f.inputs()
	}
	return nil, types.NewValidation("format", "unknown format %q (yaml, toml, json)", format)
}

func nonEmpty(list []lifecycle.Input) ([]lifecycle.Input, error) {
	if len(list) == 0 {
		return nil, types.NewValidation("items", "no items found")
	}
	return list, nil
}

func init() {
	addCreateFlags(createCmd.Flags())
	rootCmd.AddCommand(createCmd)
}

func addCreateFlags(f *pflag.FlagSet) {
	f.StringP("file", "f", "", "Create items from a YAML, TOML or JSON file (- for stdin)")
	f.String("format", "", "File format when it cannot be told from the extension")
	f.Bool("form", false, "Fill in an interactive form")
	f.StringP("description", "d", "", "Description")
	f.StringP("priority", "p", "", "low, medium (default), high or critical")
	f.StringP("kind", "k", "", "work (default) or defect")
	f.String("complexity", "", "small, medium or large")
	f.StringSlice("deps", nil, "Identifiers this task depends on")
	f.StringArray("key-file", nil, "File the task will touch, as path or path:note (repeatable)")
	f.String("requires", "", "Comma-separated capabilities a claimer must have")
	f.Bool("needs-review", false, "Route through Review on completion")
	f.Bool("ready", false, "Create in Ready instead of Backlog")
	f.Bool("goal", false, "Create a goal; children come from --child")
	f.StringArray("child", nil, "Child task title for --goal (repeatable)")
}
