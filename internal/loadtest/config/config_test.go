package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/executor"
)

const stagedYAML = `
name: "quickpizza"
stages:
  - duration: 4s
    target: 2
  - duration: 5s
    target: 5
  - duration: 3
    target: 0
thresholds:
  http_req_duration: ["p(95) < 400"]
  http_req_failed:
    - threshold: "rate < 0.1"
      abortOnFail: true
      delayAbortEval: 10s
  checks: "rate > 0.9"
variables:
  path: /api
scenario:
  baseUrl: "https://quickpizza.grafana.com/"
  headers:
    X-Test: "{{path}}"
  pacing:
    type: constant
    duration: 1s
  requests:
    - name: home
      method: get
      url: "{{baseUrl}}{{path}}"
      thinkTime: 100ms
      checks:
        - name: response is 200
          type: status
          status: 200
        - name: contains pizza
          type: bodyContains
          contains: pizza
options:
  gracefulStop: 5s
  checkpointInterval: 500ms
  rps: 20
`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "padded", input: " 10s ", expected: 10 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "30abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(stagedYAML), "plan.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "quickpizza" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(cfg.Stages))
	}
	if got := time.Duration(cfg.Stages[2].Duration); got != 3*time.Second {
		t.Errorf("integer stage duration = %v, want 3s", got)
	}

	failed := cfg.Thresholds["http_req_failed"]
	if len(failed) != 1 || !failed[0].AbortOnFail || time.Duration(failed[0].DelayAbortEval) != 10*time.Second {
		t.Errorf("object threshold not parsed: %+v", failed)
	}
	if checks := cfg.Thresholds["checks"]; len(checks) != 1 || checks[0].Threshold != "rate > 0.9" {
		t.Errorf("scalar threshold not parsed: %+v", checks)
	}

	req := cfg.Scenario.Requests[0]
	if len(req.Checks) != 2 || req.Checks[0].Status != 200 {
		t.Errorf("checks not parsed: %+v", req.Checks)
	}
	if time.Duration(req.ThinkTime) != 100*time.Millisecond {
		t.Errorf("ThinkTime = %v", req.ThinkTime)
	}
	if cfg.Options.RPS != 20 {
		t.Errorf("RPS = %v", cfg.Options.RPS)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
  "name": "fixed",
  "vus": 3,
  "duration": "10s",
  "thresholds": {
    "http_req_duration": ["p(95) < 200"],
    "http_req_failed": [{"threshold": "rate < 0.1", "abortOnFail": true, "delayAbortEval": 5}]
  },
  "scenario": {"requests": [{"url": "https://quickpizza.grafana.com/"}]}
}`

	cfg, err := ParseConfig([]byte(data), "plan.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.VUs != 3 || time.Duration(cfg.Duration) != 10*time.Second {
		t.Errorf("fixed mode not parsed: vus=%d duration=%v", cfg.VUs, cfg.Duration)
	}
	failed := cfg.Thresholds["http_req_failed"]
	if len(failed) != 1 || !failed[0].AbortOnFail || time.Duration(failed[0].DelayAbortEval) != 5*time.Second {
		t.Errorf("object threshold not parsed: %+v", failed)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{"bad yaml", "name: [", "plan.yaml"},
		{"bad json", "{", "plan.json"},
		{"bad duration", "duration: fast", "plan.yml"},
		{"unknown extension", "name: [", "plan.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data), tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(stagedYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Name != "quickpizza" {
		t.Errorf("Name = %q", cfg.Name)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_ExamplePlans(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "..", "examples", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Skip("no example plans found")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if _, err := cfg.RunConfig(nil); err != nil {
				t.Errorf("RunConfig() error = %v", err)
			}
		})
	}
}

func TestLoadConfig_FixedExamplePlan(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "quickpizza-fixed.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.VUs != 3 || time.Duration(cfg.Duration) != 10*time.Second {
		t.Errorf("load = %d VUs for %v, want 3 VUs for 10s", cfg.VUs, time.Duration(cfg.Duration))
	}

	want := map[string]string{
		"http_req_duration": "p(95) < 200",
		"http_req_failed":   "rate < 0.1",
	}
	if len(cfg.Thresholds) != len(want) {
		t.Errorf("thresholds = %v, want %v", cfg.Thresholds, want)
	}
	for metric, expr := range want {
		list := cfg.Thresholds[metric]
		if len(list) != 1 || list[0].Threshold != expr {
			t.Errorf("thresholds[%s] = %v, want [%s]", metric, list, expr)
		}
	}

	if p := cfg.Scenario.Pacing; p == nil || p.Type != "constant" || time.Duration(p.Duration) != time.Second {
		t.Errorf("pacing = %+v, want constant 1s", p)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{Scenario: ScenarioConfig{Requests: []RequestConfig{{URL: "http://x"}, {Method: "post", URL: "http://x"}}}}
	ApplyDefaults(cfg)

	if cfg.Options == nil || time.Duration(cfg.Options.HTTPTimeout) != DefaultHTTPTimeout {
		t.Errorf("options defaults not applied: %+v", cfg.Options)
	}
	if cfg.Scenario.Pacing == nil || cfg.Scenario.Pacing.Type != "none" {
		t.Errorf("pacing default not applied: %+v", cfg.Scenario.Pacing)
	}
	if cfg.Scenario.Requests[0].Method != "GET" || cfg.Scenario.Requests[1].Method != "POST" {
		t.Errorf("methods = %s, %s", cfg.Scenario.Requests[0].Method, cfg.Scenario.Requests[1].Method)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *TestConfig {
		cfg, err := ParseConfig([]byte(stagedYAML), "plan.yaml")
		if err != nil {
			t.Fatal(err)
		}
		ApplyDefaults(cfg)
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on valid plan = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*TestConfig)
		field  string
	}{
		{"no load", func(c *TestConfig) { c.Stages = nil }, "vus"},
		{"both modes", func(c *TestConfig) { c.VUs = 3 }, "stages"},
		{"zero vus", func(c *TestConfig) { c.Stages = nil; c.Duration = Duration(time.Second) }, "vus"},
		{"negative target", func(c *TestConfig) { c.Stages[1].Target = -1 }, "stages[1].target"},
		{"zero total", func(c *TestConfig) {
			for i := range c.Stages {
				c.Stages[i].Duration = 0
			}
		}, "stages"},
		{"bad threshold", func(c *TestConfig) {
			c.Thresholds["http_req_failed"][0].Threshold = "p(95) < 1"
		}, "thresholds.http_req_failed[0]"},
		{"unknown metric syntax", func(c *TestConfig) {
			c.Thresholds["http_req_duration{"] = ThresholdList{{Threshold: "avg < 1"}}
		}, "thresholds.http_req_duration{[0]"},
		{"empty threshold", func(c *TestConfig) {
			c.Thresholds["checks"] = ThresholdList{{}}
		}, "thresholds.checks[0]"},
		{"no requests", func(c *TestConfig) { c.Scenario.Requests = nil }, "scenario.requests"},
		{"bad method", func(c *TestConfig) { c.Scenario.Requests[0].Method = "FETCH" }, "scenario.requests[0].method"},
		{"unresolved variable", func(c *TestConfig) { c.Scenario.Requests[0].URL = "{{host}}/x" }, "scenario.requests[0].url"},
		{"bad scheme", func(c *TestConfig) { c.Scenario.Requests[0].URL = "ftp://x" }, "scenario.requests[0].url"},
		{"bad check", func(c *TestConfig) { c.Scenario.Requests[0].Checks[0].Type = "nope" }, "scenario.requests[0].checks[0]"},
		{"bad pacing", func(c *TestConfig) { c.Scenario.Pacing.Type = "sometimes" }, "scenario.pacing.type"},
		{"random pacing order", func(c *TestConfig) {
			c.Scenario.Pacing = &PacingConfig{Type: "random", Min: Duration(2 * time.Second), Max: Duration(time.Second)}
		}, "scenario.pacing"},
		{"negative rps", func(c *TestConfig) { c.Options.RPS = -1 }, "options.rps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() = %v, want *ValidationErrors", err)
			}

			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on field %q in %v", tt.field, err)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}

	errs.Add("vus", "vus must be greater than 0")
	if !strings.Contains(errs.Error(), "'vus'") {
		t.Errorf("single Error() = %q", errs.Error())
	}

	errs.Add("", "general")
	if !strings.HasPrefix(errs.Error(), "2 validation errors") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}

func TestRunConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(stagedYAML), "plan.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(cfg)

	run, err := cfg.RunConfig(nil)
	if err != nil {
		t.Fatalf("RunConfig() error = %v", err)
	}

	if run.Name != "quickpizza" || run.Iterate == nil {
		t.Errorf("run = %+v", run)
	}
	if run.Executor.Type != executor.TypeRampingVUs || len(run.Executor.Stages) != 3 {
		t.Errorf("executor = %+v", run.Executor)
	}
	if run.Executor.Pacing == nil || run.Executor.Pacing.Duration != time.Second {
		t.Errorf("pacing = %+v", run.Executor.Pacing)
	}
	if run.GracefulStop != 5*time.Second || run.CheckpointInterval != 500*time.Millisecond {
		t.Errorf("options not carried: graceful=%v checkpoint=%v", run.GracefulStop, run.CheckpointInterval)
	}
	if run.HTTP == nil || run.HTTP.RPS != 20 || run.HTTP.Headers["X-Test"] != "/api" {
		t.Errorf("http = %+v", run.HTTP)
	}

	if len(run.Thresholds) != 3 {
		t.Fatalf("len(Thresholds) = %d, want 3", len(run.Thresholds))
	}
	wantOrder := []string{"checks", "http_req_duration", "http_req_failed"}
	for i, def := range run.Thresholds {
		if def.Metric != wantOrder[i] {
			t.Errorf("Thresholds[%d].Metric = %s, want %s", i, def.Metric, wantOrder[i])
		}
	}
	if !run.Thresholds[2].AbortOnFail {
		t.Error("abortOnFail lost in conversion")
	}

	scenario, err := cfg.HTTPScenario()
	if err != nil {
		t.Fatal(err)
	}
	if got := scenario.Requests[0].URL; got != "https://quickpizza.grafana.com/api" {
		t.Errorf("resolved URL = %s", got)
	}
	if len(scenario.Requests[0].Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(scenario.Requests[0].Checks))
	}
}

func TestExecutorConfig_Fixed(t *testing.T) {
	cfg := &TestConfig{VUs: 3, Duration: Duration(10 * time.Second)}
	exec := cfg.ExecutorConfig()
	if exec.Type != executor.TypeConstantVUs || exec.VUs != 3 || exec.Duration != 10*time.Second {
		t.Errorf("ExecutorConfig() = %+v", exec)
	}
	if exec.Pacing != nil {
		t.Errorf("unexpected pacing %+v", exec.Pacing)
	}
	if err := exec.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestResolveVariables(t *testing.T) {
	vars := map[string]string{"id": "42"}

	tests := []struct {
		in, base, want string
	}{
		{"{{baseUrl}}/users/{{id}}", "http://api/", "http://api/users/42"},
		{"{{baseURL}}/x", "http://api", "http://api/x"},
		{"/plain", "http://api", "/plain"},
		{"{{missing}}", "", "{{missing}}"},
	}
	for _, tt := range tests {
		if got := ResolveVariables(tt.in, vars, tt.base); got != tt.want {
			t.Errorf("ResolveVariables(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
