package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

func TestParseInputs(t *testing.T) {
	tests := []struct {
		name   string
		format string
		data   string
		want   int
		check  func(t *testing.T, in []lifecycle.Input)
	}{
		{
			name:   "yaml list",
			format: "yaml",
			data: `
- task:
    title: Add retries
    priority: high
    key_files:
      - file_path: internal/net/dial.go
        note: backoff
- goal:
    title: Billing
    children:
      - title: Schema
      - title: API
        stage: ready
`,
			want: 2,
			check: func(t *testing.T, in []lifecycle.Input) {
				if in[0].Task.Priority != types.PriorityHigh {
					t.Errorf("priority = %s", in[0].Task.Priority)
				}
				if kf := in[0].Task.KeyFiles; len(kf) != 1 || kf[0].Path != "internal/net/dial.go" || kf[0].Note != "backoff" {
					t.Errorf("key files = %+v", kf)
				}
				if g := in[1].Goal; g == nil || len(g.Children) != 2 || g.Children[1].Stage != types.StageReady {
					t.Errorf("goal = %+v", g)
				}
			},
		},
		{
			name:   "yaml items",
			format: "yaml",
			data:   "items:\n  - task: {title: one}\n  - task: {title: two, dependencies: [W1]}\n",
			want:   2,
			check: func(t *testing.T, in []lifecycle.Input) {
				if deps := in[1].Task.Dependencies; len(deps) != 1 || deps[0] != "W1" {
					t.Errorf("dependencies = %v", deps)
				}
			},
		},
		{
			name:   "yaml single",
			format: "yaml",
			data:   "task:\n  title: lone\n  required_capabilities: [code, testing]\n",
			want:   1,
			check: func(t *testing.T, in []lifecycle.Input) {
				if caps := in[0].Task.RequiredCapabilities; !caps.Contains(types.CapabilityTesting) {
					t.Errorf("capabilities = %v", caps)
				}
			},
		},
		{
			name:   "toml",
			format: "toml",
			data: `
[[items]]
[items.task]
title = "one"
needs_review = true

[[items]]
[items.goal]
title = "g"
[[items.goal.children]]
title = "child"
`,
			want: 2,
			check: func(t *testing.T, in []lifecycle.Input) {
				if !in[0].Task.NeedsReview {
					t.Error("needs_review not decoded")
				}
				if in[1].Goal == nil || in[1].Goal.Children[0].Title != "child" {
					t.Errorf("goal = %+v", in[1].Goal)
				}
			},
		},
		{
			name:   "json list",
			format: "json",
			data:   `[{"task": {"title": "a"}}, {"task": {"title": "b", "kind": "defect"}}]`,
			want:   2,
			check: func(t *testing.T, in []lifecycle.Input) {
				if in[1].Task.Kind != types.KindDefect {
					t.Errorf("kind = %s", in[1].Task.Kind)
				}
			},
		},
		{
			name:   "json single",
			format: "json",
			data:   `{"task": {"title": "a"}}`,
			want:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInputs([]byte(tt.data), tt.format)
			if err != nil {
				t.Fatalf("parseInputs: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d inputs, want %d", len(got), tt.want)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestParseInputsErrors(t *testing.T) {
	tests := []struct {
		name   string
		format string
		data   string
	}{
		{"empty yaml", "yaml", ""},
		{"empty list", "json", "[]"},
		{"unknown json field", "json", `{"tasks": []}`},
		{"unknown toml key", "toml", "titel = \"x\"\n"},
		{"items and task", "yaml", "items:\n  - task: {title: a}\ntask: {title: b}\n"},
		{"bad format", "xml", "<task/>"},
		{"broken yaml", "yaml", "items: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseInputs([]byte(tt.data), tt.format); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReadInputFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.toml")
	if err := os.WriteFile(path, []byte("[task]\ntitle = \"from toml\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readInputFile(path, "")
	if err != nil {
		t.Fatalf("readInputFile: %v", err)
	}
	if len(got) != 1 || got[0].Task.Title != "from toml" {
		t.Errorf("got %+v", got)
	}

	if _, err := readInputFile(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]string{
		"a.toml": "toml",
		"a.JSON": "json",
		"a.yml":  "yaml",
		"a":      "yaml",
		"-":      "yaml",
	} {
		if got := formatFromPath(path); got != want {
			t.Errorf("formatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestInputFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "create"}
	addCreateFlags(cmd.Flags())
	err := cmd.ParseFlags([]string{
		"--kind", "defect", "-p", "critical", "--deps", "W1,W2",
		"--key-file", "a.go:entry point", "--key-file", "b.go",
		"--requires", "code, testing", "--needs-review", "--ready",
	})
	if err != nil {
		t.Fatal(err)
	}
	in, err := inputFromFlags(cmd, "Fix crash")
	if err != nil {
		t.Fatal(err)
	}
	task := in.Task
	if task == nil || in.Goal != nil {
		t.Fatalf("input = %+v", in)
	}
	if task.Kind != types.KindDefect || task.Priority != types.PriorityCritical || task.Stage != types.StageReady || !task.NeedsReview {
		t.Errorf("task = %+v", task)
	}
	if len(task.Dependencies) != 2 || len(task.RequiredCapabilities) != 2 {
		t.Errorf("deps %v caps %v", task.Dependencies, task.RequiredCapabilities)
	}
	if len(task.KeyFiles) != 2 || task.KeyFiles[0].Note != "entry point" {
		t.Errorf("key files = %+v", task.KeyFiles)
	}
}

func TestGoalFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "create"}
	addCreateFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--goal", "--child", "one", "--child", "two"}); err != nil {
		t.Fatal(err)
	}
	in, err := inputFromFlags(cmd, "Launch")
	if err != nil {
		t.Fatal(err)
	}
	if in.Goal == nil || in.Goal.Title != "Launch" || len(in.Goal.Children) != 2 {
		t.Errorf("goal = %+v", in.Goal)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" W1, ,W2 ,")
	if len(got) != 2 || got[0] != "W1" || got[1] != "W2" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}
