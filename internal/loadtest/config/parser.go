package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultMethod      = "GET"
	DefaultHTTPTimeout = 30 * time.Second
)

// LoadConfig loads a plan from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses plan data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in unset fields.
func ApplyDefaults(config *TestConfig) {
	if config.Options == nil {
		config.Options = &Options{}
	}
	if config.Options.HTTPTimeout == 0 {
		config.Options.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}

	if config.Scenario.Pacing == nil {
		config.Scenario.Pacing = &PacingConfig{Type: "none"}
	} else if config.Scenario.Pacing.Type == "" {
		config.Scenario.Pacing.Type = "none"
	}

	for i := range config.Scenario.Requests {
		req := &config.Scenario.Requests[i]
		if req.Method == "" {
			req.Method = DefaultMethod
		} else {
			req.Method = strings.ToUpper(req.Method)
		}
	}
}

// ResolveVariables replaces {{name}} placeholders in input.
//
// Variables resolve from vars, then {{baseUrl}} from baseURL. Unresolved
// placeholders are left as-is.
func ResolveVariables(input string, vars map[string]string, baseURL string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}

	if baseURL != "" {
		baseURL = strings.TrimRight(baseURL, "/")
		result = strings.ReplaceAll(result, "{{baseUrl}}", baseURL)
		result = strings.ReplaceAll(result, "{{baseURL}}", baseURL)
	}

	return result
}
