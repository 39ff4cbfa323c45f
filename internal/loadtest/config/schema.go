// Package config parses and validates load test plan files.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/loadtest/check"
)

// TestConfig is the root of a plan file.
//
// Example YAML:
//
//	name: "quickpizza"
//	stages:
//	  - duration: 4s
//	    target: 2
//	  - duration: 5s
//	    target: 5
//	  - duration: 3s
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(95) < 400"]
//	  http_req_failed:
//	    - threshold: "rate < 0.1"
//	      abortOnFail: true
//	  checks: ["rate > 0.9"]
//	scenario:
//	  pacing:
//	    type: constant
//	    duration: 1s
//	  requests:
//	    - name: home
//	      url: "{{baseUrl}}/"
//	      checks:
//	        - type: status
//	          status: 200
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Fixed mode
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Staged mode
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Thresholds maps a metric name to its threshold expressions
	Thresholds map[string]ThresholdList `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Variables are substituted into request URLs, headers and bodies as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenario is the iteration each VU runs
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`

	// Options for test execution
	Options *Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// StageConfig defines a single ramp stage.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ScenarioConfig describes the requests of one iteration.
type ScenarioConfig struct {
	// BaseURL is available to requests as {{baseUrl}}
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Headers are applied to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Pacing controls the pause between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used as the "name" tag)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	Checks []check.Config `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Options controls engine and HTTP client behaviour.
type Options struct {
	// GracefulStop bounds the wait for in-flight iterations at the end of the run
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is how often the VU count follows the plan
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// CheckpointInterval is how often thresholds are evaluated during the run
	CheckpointInterval Duration `json:"checkpointInterval,omitempty" yaml:"checkpointInterval,omitempty"`

	// RPS caps requests per second across all VUs (0 = unlimited)
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	HTTPTimeout        Duration `json:"httpTimeout,omitempty" yaml:"httpTimeout,omitempty"`
	InsecureSkipVerify bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	MaxConnsPerHost    int      `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives  bool     `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
}

// ThresholdConfig is a single threshold. In a plan file it is either a bare
// expression string or an object.
type ThresholdConfig struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = ThresholdConfig{Threshold: value.Value}
		return nil
	}

	type plain ThresholdConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = ThresholdConfig(p)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdConfig{Threshold: s}
		return nil
	}

	type plain ThresholdConfig
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = ThresholdConfig(p)
	return nil
}

// ThresholdList is the list of thresholds for one metric. A single
// expression may be written without the surrounding list.
type ThresholdList []ThresholdConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ThresholdList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		var one ThresholdConfig
		if err := value.Decode(&one); err != nil {
			return err
		}
		*l = ThresholdList{one}
		return nil
	}

	var list []ThresholdConfig
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *ThresholdList) UnmarshalJSON(b []byte) error {
	if trimmed := strings.TrimSpace(string(b)); !strings.HasPrefix(trimmed, "[") {
		var one ThresholdConfig
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*l = ThresholdList{one}
		return nil
	}

	var list []ThresholdConfig
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Duration is a time.Duration that unmarshals from "30s"-style strings or
// from a bare number of seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}

	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
