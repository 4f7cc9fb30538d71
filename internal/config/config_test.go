package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/workboard/workboard/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, Dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", Dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Chdir(tmpDir)
	return tmpDir
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"store.backend", "sqlite", func(k string) interface{} { return GetString(k) }},
		{"lease.ttl", 24 * time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{"hooks.after_doing.timeout", 120, func(k string) interface{} { return GetInt(k) }},
		{"hooks.before_doing.blocking", true, func(k string) interface{} { return GetBool(k) }},
		{"telemetry.enabled", false, func(k string) interface{} { return GetBool(k) }},
		{"nats.subject", "workboard", func(k string) interface{} { return GetString(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", ConfigFileUsed())
	}
}

func TestConfigFileAndEnvPrecedence(t *testing.T) {
	writeConfig(t, `
store:
  backend: memory
lease:
  ttl: 2h
hooks:
  after_doing:
    timeout: 300
    blocking: false
capabilities: code, testing
`)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := Store().Backend; got != "memory" {
		t.Errorf("Store().Backend = %q, want memory", got)
	}
	if got := LeaseTTL(); got != 2*time.Hour {
		t.Errorf("LeaseTTL() = %v, want 2h", got)
	}
	hooks := HookOverrides()
	if h := hooks[types.HookAfterDoing]; h.Timeout != 300 || h.Blocking == nil || *h.Blocking {
		t.Errorf("after_doing override = %+v, want timeout 300 non-blocking", h)
	}
	if h := hooks[types.HookBeforeDoing]; h.Timeout != 60 || !*h.Blocking {
		t.Errorf("before_doing override = %+v, want defaults", h)
	}
	if got := Requester().Capabilities; len(got) != 2 || !got.Contains(types.CapabilityTesting) {
		t.Errorf("Requester().Capabilities = %v", got)
	}

	t.Setenv("WB_STORE_BACKEND", "dolt")
	t.Setenv("WB_LEASE_TTL", "90m")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := Store().Backend; got != "dolt" {
		t.Errorf("Store().Backend with env = %q, want dolt", got)
	}
	if got := LeaseTTL(); got != 90*time.Minute {
		t.Errorf("LeaseTTL() with env = %v, want 90m", got)
	}
}

func TestConfigFoundFromSubdirectory(t *testing.T) {
	root := writeConfig(t, "actor: alice\n")
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := Requester().Name; got != "alice" {
		t.Errorf("Requester().Name = %q, want alice", got)
	}
}

func TestBrokenConfigFile(t *testing.T) {
	writeConfig(t, "store: [unterminated\n")
	if err := Initialize(); err == nil {
		t.Fatal("Initialize() accepted a broken config file")
	}
}

func TestBindPFlagOverrides(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("actor", "", "")
	if err := BindPFlag("actor", fs.Lookup("actor")); err != nil {
		t.Fatalf("BindPFlag: %v", err)
	}
	if err := fs.Parse([]string{"--actor", "bob"}); err != nil {
		t.Fatal(err)
	}
	if got := GetString("actor"); got != "bob" {
		t.Errorf("GetString(actor) = %q, want bob", got)
	}
	if err := BindPFlag("missing", fs.Lookup("missing")); err == nil {
		t.Error("BindPFlag accepted an undefined flag")
	}
}

func TestSetAndGet(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	Set("lease.ttl", "0s")
	if got := LeaseTTL(); got != types.DefaultLeaseTTL {
		t.Errorf("LeaseTTL() with zero = %v, want default", got)
	}
	Set("test-slice", []string{"a", "b"})
	if got := GetStringSlice("test-slice"); len(got) != 2 {
		t.Errorf("GetStringSlice = %v", got)
	}
	if _, ok := AllSettings()["store"]; !ok {
		t.Error("AllSettings() missing store section")
	}
}

func TestWatchWithoutFile(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if Watch(func() {}) {
		t.Error("Watch() started without a config file")
	}
}

func TestSetFileValue(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	path, err := SetFileValue("hooks.after_doing.timeout", "240")
	if err != nil {
		t.Fatalf("SetFileValue: %v", err)
	}
	if want := filepath.Join(tmpDir, Dir, "config.yaml"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := SetFileValue("actor", "carol: ops"); err != nil {
		t.Fatalf("SetFileValue: %v", err)
	}
	if _, err := SetFileValue("hooks.after_doing.timeout", "30"); err != nil {
		t.Fatalf("SetFileValue: %v", err)
	}
	if _, err := SetFileValue("no.such.key", "1"); err == nil {
		t.Error("SetFileValue accepted an unknown key")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "hooks.after_doing.timeout") != 1 {
		t.Errorf("key duplicated:\n%s", data)
	}

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetInt("hooks.after_doing.timeout"); got != 30 {
		t.Errorf("timeout = %d, want 30", got)
	}
	if got := GetString("actor"); got != "carol: ops" {
		t.Errorf("actor = %q", got)
	}
}

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		key      string
		value    string
		expected string
	}{
		{"update commented key", "# lease.ttl: 24h\nother: value", "lease.ttl", "12h", "lease.ttl: 12h\nother: value\n"},
		{"update existing key", "json: false\nother: value", "json", "TRUE", "json: true\nother: value\n"},
		{"add new key", "other: value", "actor", "dave", "other: value\n\nactor: dave\n"},
		{"quote special", "", "capabilities", "code, docs", "capabilities: \"code, docs\"\n"},
		{"keep indent", "  # board: 1", "board", "3", "  board: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := updateYamlKey(tt.content, tt.key, tt.value); got != tt.expected {
				t.Errorf("updateYamlKey() = %q, want %q", got, tt.expected)
			}
		})
	}
}
