package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

// errFormCancelled is returned when the user backs out of the form.
var errFormCancelled = errors.New("creation cancelled")

// runCreateForm asks for a single task interactively.
func runCreateForm() (lifecycle.Input, error) {
	var (
		title       string
		description string
		kind        = string(types.KindWork)
		priority    = string(types.PriorityMedium)
		complexity  string
		depsInput   string
		filesInput  string
		caps        []string
		needsReview bool
		stage       = string(types.StageBacklog)
		confirmed   = true
	)

	capOptions := make([]huh.Option[string], 0, len(types.KnownCapabilities()))
	for _, c := range types.KnownCapabilities() {
		capOptions = append(capOptions, huh.NewOption(string(c), string(c)))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("Short summary of the work (required)").
				Value(&title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),

			huh.NewText().
				Title("Description").
				Description("Context a claimer needs to start").
				CharLimit(5000).
				Value(&description),

			huh.NewSelect[string]().
				Title("Kind").
				Options(
					huh.NewOption("Work", string(types.KindWork)),
					huh.NewOption("Defect", string(types.KindDefect)),
				).
				Value(&kind),

			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("Critical", string(types.PriorityCritical)),
					huh.NewOption("High", string(types.PriorityHigh)),
					huh.NewOption("Medium (default)", string(types.PriorityMedium)),
					huh.NewOption("Low", string(types.PriorityLow)),
				).
				Value(&priority),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Complexity").
				Options(
					huh.NewOption("Unset", ""),
					huh.NewOption("Small", string(types.ComplexitySmall)),
					huh.NewOption("Medium", string(types.ComplexityMedium)),
					huh.NewOption("Large", string(types.ComplexityLarge)),
				).
				Value(&complexity),

			huh.NewMultiSelect[string]().
				Title("Required capabilities").
				Description("A claimer must have all of them").
				Options(capOptions...).
				Value(&caps),

			huh.NewInput().
				Title("Dependencies").
				Description("Comma-separated identifiers (optional)").
				Placeholder("e.g., W3, D7").
				Value(&depsInput),

			huh.NewInput().
				Title("Key files").
				Description("Comma-separated paths the task will touch (optional)").
				Placeholder("e.g., internal/auth/login.go").
				Value(&filesInput),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Needs review?").
				Value(&needsReview),

			huh.NewSelect[string]().
				Title("Column").
				Options(
					huh.NewOption("Backlog", string(types.StageBacklog)),
					huh.NewOption("Ready", string(types.StageReady)),
				).
				Value(&stage),

			huh.NewConfirm().
				Title("Create this task?").
				Affirmative("Create").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return lifecycle.Input{}, errFormCancelled
		}
		return lifecycle.Input{}, fmt.Errorf("form error: %w", err)
	}
	if !confirmed {
		return lifecycle.Input{}, errFormCancelled
	}

	required := make([]types.Capability, len(caps))
	for i, c := range caps {
		required[i] = types.Capability(c)
	}
	return lifecycle.Input{Task: &lifecycle.TaskInput{
		Title:                strings.TrimSpace(title),
		Description:          description,
		Kind:                 types.Kind(kind),
		Priority:             types.Priority(priority),
		Complexity:           types.Complexity(complexity),
		Dependencies:         splitList(depsInput),
		KeyFiles:             keyFiles(splitList(filesInput)),
		RequiredCapabilities: types.NewCapabilitySet(required...),
		NeedsReview:          needsReview,
		Stage:                types.Stage(stage),
	}}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
