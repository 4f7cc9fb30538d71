package gate

import (
	"strings"
	"sync"
	"testing"

	"github.com/workboard/workboard/internal/types"
)

func ok() *types.HookResult { return &types.HookResult{ExitCode: 0, Output: "ok", DurationMS: 12} }

func TestValidate(t *testing.T) {
	g := New(nil)

	tests := []struct {
		name    string
		point   types.HookPoint
		result  *types.HookResult
		wantErr string
	}{
		{"passing result", types.HookAfterDoing, ok(), ""},
		{"missing result", types.HookAfterDoing, nil, "result is required"},
		{"non-zero exit", types.HookAfterDoing, &types.HookResult{ExitCode: 1, Output: "FAIL\n3 tests failed\n"}, "exited with code 1: 3 tests failed"},
		{"negative duration", types.HookBeforeDoing, &types.HookResult{DurationMS: -1}, "duration_ms"},
		{"unknown point", types.HookPoint("after_lunch"), ok(), "unknown hook point"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Validate(tt.point, tt.result)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
			e, isErr := types.AsError(err)
			if !isErr || e.Kind != types.KindValidation || e.Hook != string(tt.point) {
				t.Errorf("Validate() error = %#v, want validation error naming %s", err, tt.point)
			}
		})
	}
}

func TestValidateAllStopsAtFirstRejection(t *testing.T) {
	g := New(nil)
	results := map[types.HookPoint]*types.HookResult{
		types.HookAfterDoing: ok(),
	}
	err := g.ValidateAll(results, types.HookAfterDoing, types.HookBeforeReview)
	e, isErr := types.AsError(err)
	if !isErr || e.Hook != string(types.HookBeforeReview) {
		t.Fatalf("ValidateAll() = %v, want rejection of before_review", err)
	}

	results[types.HookAfterDoing] = &types.HookResult{ExitCode: 2}
	err = g.ValidateAll(results, types.HookAfterDoing, types.HookBeforeReview)
	if e, _ := types.AsError(err); e == nil || e.Hook != string(types.HookAfterDoing) {
		t.Fatalf("ValidateAll() = %v, want rejection of after_doing", err)
	}
}

func TestNonBlockingHookWarns(t *testing.T) {
	off := false
	var warned []Result
	g := New(map[types.HookPoint]HookConfig{
		types.HookBeforeReview: {Blocking: &off},
	}, WithWarningFunc(func(r Result) { warned = append(warned, r) }))

	if err := g.Validate(types.HookBeforeReview, &types.HookResult{ExitCode: 1}); err != nil {
		t.Fatalf("non-blocking hook rejected: %v", err)
	}
	if len(warned) != 1 || warned[0].Hook != types.HookBeforeReview {
		t.Fatalf("warnings = %+v", warned)
	}
	if err := g.Validate(types.HookAfterDoing, nil); err == nil {
		t.Fatal("after_doing should still block")
	}
}

func TestNext(t *testing.T) {
	g := New(nil)
	want := map[types.HookPoint]types.HookPoint{
		types.HookBeforeDoing:  types.HookAfterDoing,
		types.HookAfterDoing:   types.HookBeforeReview,
		types.HookBeforeReview: types.HookAfterReview,
	}
	for from, to := range want {
		next := g.Next(from)
		if next == nil || next.Name != to {
			t.Errorf("Next(%s) = %+v, want %s", from, next, to)
		}
	}
	if next := g.Next(types.HookAfterReview); next != nil {
		t.Errorf("Next(after_review) = %+v, want nil", next)
	}
}

func TestSpecDefaultsAndOverrides(t *testing.T) {
	g := New(map[types.HookPoint]HookConfig{types.HookBeforeDoing: {Timeout: 5}})

	spec := g.Spec(types.HookBeforeDoing)
	if spec.TimeoutSecs != 5 || !spec.Blocking {
		t.Errorf("before_doing = %+v", spec)
	}
	if spec.Env["WB_HOOK_TIMEOUT"] != "5" || spec.Env["WB_HOOK"] != "before_doing" {
		t.Errorf("env = %v", spec.Env)
	}
	if got := g.Spec(types.HookAfterDoing).TimeoutSecs; got != DefaultAfterDoingTimeout {
		t.Errorf("after_doing timeout = %d", got)
	}
	if len(spec.ResultShape) != 3 {
		t.Errorf("result shape = %v", spec.ResultShape)
	}

	// Spec hands out copies.
	spec.TimeoutSecs = 999
	if g.Spec(types.HookBeforeDoing).TimeoutSecs != 5 {
		t.Error("mutating a returned spec leaked into the gate")
	}

	g.Configure(nil)
	if got := g.Spec(types.HookBeforeDoing).TimeoutSecs; got != DefaultBeforeDoingTimeout {
		t.Errorf("after reset timeout = %d", got)
	}
}

func TestForTask(t *testing.T) {
	g := New(nil)
	task := &types.Task{Item: types.Item{BoardID: 3, Identifier: "W7", Title: "Fix login"},
		KeyFiles: []types.KeyFile{{Path: "a.go"}, {Path: "b.go"}}}
	spec := ForTask(g.Next(types.HookBeforeDoing), task)
	if spec.Env["WB_TASK"] != "W7" || spec.Env["WB_BOARD_ID"] != "3" || spec.Env["WB_TASK_FILES"] != "a.go:b.go" {
		t.Errorf("env = %v", spec.Env)
	}
	if ForTask(nil, task) != nil {
		t.Error("ForTask(nil) should be nil")
	}
}

func TestConfigureConcurrentWithValidate(t *testing.T) {
	g := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = g.Validate(types.HookAfterReview, ok())
		}()
		go func(n int) {
			defer wg.Done()
			g.Configure(map[types.HookPoint]HookConfig{types.HookAfterReview: {Timeout: n + 1}})
		}(i)
	}
	wg.Wait()
}
