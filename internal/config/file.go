package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys lists the settings `wb config set` accepts. hooks.<point>.* keys are
// validated separately.
var Keys = map[string]bool{
	"store.backend":      true,
	"store.path":         true,
	"store.dsn":          true,
	"lease.ttl":          true,
	"nats.url":           true,
	"nats.subject":       true,
	"nats.jetstream":     true,
	"server.addr":        true,
	"server.url":         true,
	"board":              true,
	"actor":              true,
	"agent":              true,
	"capabilities":       true,
	"json":               true,
	"telemetry.enabled":  true,
	"telemetry.exporter": true,
	"telemetry.endpoint": true,
	"log.level":          true,
	"log.json":           true,
}

var hookKey = regexp.MustCompile(`^hooks\.(before_doing|after_doing|before_review|after_review)\.(timeout|blocking)$`)

// IsKnownKey reports whether key is a recognized setting.
func IsKnownKey(key string) bool {
	return Keys[key] || hookKey.MatchString(key)
}

// SetFileValue writes key into the project's .workboard/config.yaml,
// creating the file in the working directory if none exists. Existing
// (possibly commented) entries are updated in place.
func SetFileValue(key, value string) (string, error) {
	if !IsKnownKey(key) {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	path := findConfigFile()
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(cwd, Dir), 0o750); err != nil {
			return "", fmt.Errorf("create %s: %w", Dir, err)
		}
		path = filepath.Join(cwd, Dir, "config.yaml")
	}

	content, err := os.ReadFile(path) // #nosec G304 - path is the discovered config file
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read config.yaml: %w", err)
	}
	updated := updateYamlKey(string(content), key, value)

	// Refuse to write something viper cannot read back.
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(updated), &probe); err != nil {
		return "", fmt.Errorf("config.yaml would not parse after setting %s: %w", key, err)
	}
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		return "", fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return path, nil
}

// updateYamlKey sets "key: value" in content. A line holding the key,
// commented out or not, is replaced in place; otherwise the line is
// appended.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyPattern.FindStringSubmatch(line); m != nil && !found {
			result = append(result, m[1]+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}
	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}
	return strings.Join(result, "\n") + "\n"
}

func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	switch {
	case lower == "true" || lower == "false":
		return lower
	case isNumeric(value), isDuration(value):
		return value
	case needsQuoting(value):
		return fmt.Sprintf("%q", value)
	}
	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if (c == '-' && i == 0) || c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[len(s)-1] {
	case 's', 'm', 'h':
		return isNumeric(s[:len(s)-1])
	}
	return false
}

func needsQuoting(s string) bool {
	if strings.ContainsAny(s, ":#[]{},&*!|>'\"%@`") {
		return true
	}
	return strings.TrimSpace(s) != s
}
