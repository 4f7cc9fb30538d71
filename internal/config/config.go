// Package config loads workboard settings with viper.
//
// Precedence, highest first: explicit Set (flags bound by the CLI), WB_*
// environment variables, .workboard/config.yaml, defaults. The config file
// is searched for from the working directory upward, then in
// $HOME/.config/workboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/workboard/workboard/internal/gate"
	"github.com/workboard/workboard/internal/types"
)

// Dir is the per-project configuration directory.
const Dir = ".workboard"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WB"

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize sets up the viper singleton. It is safe to call more than once;
// each call starts from a clean instance.
func Initialize() error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	setDefaults(nv)

	if path := findConfigFile(); path != "" {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

// ResetForTesting drops the singleton so the next accessor re-initializes.
func ResetForTesting() {
	mu.Lock()
	v = nil
	mu.Unlock()
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("store.backend", "sqlite")
	nv.SetDefault("store.path", filepath.Join(Dir, "workboard.db"))
	nv.SetDefault("store.dsn", "")
	nv.SetDefault("lease.ttl", types.DefaultLeaseTTL)
	nv.SetDefault("nats.url", "")
	nv.SetDefault("nats.subject", "workboard")
	nv.SetDefault("nats.jetstream", false)
	nv.SetDefault("server.addr", "127.0.0.1:7420")
	nv.SetDefault("server.url", "http://127.0.0.1:7420")
	nv.SetDefault("board", 0)
	nv.SetDefault("actor", "")
	nv.SetDefault("agent", false)
	nv.SetDefault("capabilities", "")
	nv.SetDefault("json", false)
	nv.SetDefault("telemetry.enabled", false)
	nv.SetDefault("telemetry.exporter", "stdout")
	nv.SetDefault("telemetry.endpoint", "")
	nv.SetDefault("log.level", "info")
	nv.SetDefault("log.json", false)
	for _, p := range types.HookPoints {
		nv.SetDefault("hooks."+string(p)+".blocking", true)
	}
	nv.SetDefault("hooks."+string(types.HookBeforeDoing)+".timeout", gate.DefaultBeforeDoingTimeout)
	nv.SetDefault("hooks."+string(types.HookAfterDoing)+".timeout", gate.DefaultAfterDoingTimeout)
	nv.SetDefault("hooks."+string(types.HookBeforeReview)+".timeout", gate.DefaultBeforeReviewTimeout)
	nv.SetDefault("hooks."+string(types.HookAfterReview)+".timeout", gate.DefaultAfterReviewTimeout)
}

// findConfigFile walks up from the working directory looking for
// .workboard/config.yaml, then falls back to the user config directory.
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; dir = filepath.Dir(dir) {
			p := filepath.Join(dir, Dir, "config.yaml")
			if _, err := os.Stat(p); err == nil {
				return p
			}
			if dir == filepath.Dir(dir) {
				break
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "workboard", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func instance() *viper.Viper {
	mu.RLock()
	cur := v
	mu.RUnlock()
	if cur != nil {
		return cur
	}
	if err := Initialize(); err != nil {
		// A broken config file falls back to defaults; callers that care
		// call Initialize themselves and see the error.
		nv := viper.New()
		setDefaults(nv)
		mu.Lock()
		v = nv
		mu.Unlock()
	}
	mu.RLock()
	defer mu.RUnlock()
	return v
}

// ConfigFileUsed returns the loaded config file, or "".
func ConfigFileUsed() string { return instance().ConfigFileUsed() }

// GetString retrieves a string configuration value
func GetString(key string) string { return instance().GetString(key) }

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool { return instance().GetBool(key) }

// GetInt retrieves an integer configuration value
func GetInt(key string) int { return instance().GetInt(key) }

// GetInt64 retrieves an int64 configuration value
func GetInt64(key string) int64 { return instance().GetInt64(key) }

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration { return instance().GetDuration(key) }

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string { return instance().GetStringSlice(key) }

// Set sets a configuration value
func Set(key string, value interface{}) { instance().Set(key, value) }

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} { return instance().AllSettings() }

// BindPFlag binds a command-line flag to a key. The flag wins over the
// environment and the file once it is set explicitly.
func BindPFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return instance().BindPFlag(key, flag)
}

// StoreConfig selects and locates the storage backend.
type StoreConfig struct {
	Backend string
	Path    string
	DSN     string
}

// Store returns the store.* settings.
func Store() StoreConfig {
	return StoreConfig{
		Backend: GetString("store.backend"),
		Path:    GetString("store.path"),
		DSN:     GetString("store.dsn"),
	}
}

// LeaseTTL returns the claim lease duration. Non-positive values fall back
// to the default.
func LeaseTTL() time.Duration {
	if d := GetDuration("lease.ttl"); d > 0 {
		return d
	}
	return types.DefaultLeaseTTL
}

// HookOverrides returns hooks.<point>.timeout and hooks.<point>.blocking
// in the shape the gate takes.
func HookOverrides() map[types.HookPoint]gate.HookConfig {
	out := make(map[types.HookPoint]gate.HookConfig, len(types.HookPoints))
	for _, p := range types.HookPoints {
		prefix := "hooks." + string(p)
		blocking := GetBool(prefix + ".blocking")
		out[p] = gate.HookConfig{Timeout: GetInt(prefix + ".timeout"), Blocking: &blocking}
	}
	return out
}

// Requester builds the local identity from actor, agent and capabilities.
// The actor falls back to $USER.
func Requester() types.Requester {
	name := GetString("actor")
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "unknown"
	}
	return types.Requester{
		Name:         name,
		Agent:        GetBool("agent"),
		Capabilities: types.ParseCapabilities(GetString("capabilities")),
	}
}

// TelemetryConfig mirrors telemetry.* keys.
type TelemetryConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
}

// Telemetry returns the telemetry.* settings.
func Telemetry() TelemetryConfig {
	return TelemetryConfig{
		Enabled:  GetBool("telemetry.enabled"),
		Exporter: GetString("telemetry.exporter"),
		Endpoint: GetString("telemetry.endpoint"),
	}
}

// Watch calls onChange whenever the loaded config file is written. It is a
// no-op when no file was loaded.
func Watch(onChange func()) bool {
	cur := instance()
	if cur.ConfigFileUsed() == "" {
		return false
	}
	cur.OnConfigChange(func(fsnotify.Event) { onChange() })
	cur.WatchConfig()
	return true
}
