package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/surge/internal/loadtest"
	"github.com/wesleyorama2/surge/internal/loadtest/check"
	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/executor"
	"github.com/wesleyorama2/surge/internal/loadtest/threshold"
)

func (t ThresholdConfig) definition(metric string) threshold.Definition {
	return threshold.Definition{
		Metric:         metric,
		Expression:     t.Threshold,
		AbortOnFail:    t.AbortOnFail,
		DelayAbortEval: time.Duration(t.DelayAbortEval),
	}
}

// ExecutorConfig returns the load plan: fixed mode when vus is set, staged
// mode otherwise.
func (c *TestConfig) ExecutorConfig() *executor.Config {
	var cfg *executor.Config
	if len(c.Stages) == 0 {
		cfg = executor.FromVUsDuration(c.VUs, time.Duration(c.Duration))
	} else {
		stages := make([]executor.Stage, len(c.Stages))
		for i, s := range c.Stages {
			stages[i] = executor.Stage{Duration: time.Duration(s.Duration), Target: s.Target, Name: s.Name}
		}
		cfg = executor.FromStages(stages...)
	}

	if c.Options != nil {
		cfg.GracefulStop = time.Duration(c.Options.GracefulStop)
	}

	if p := c.Scenario.Pacing; p != nil && p.Type != "" && p.Type != "none" {
		cfg.Pacing = &executor.PacingConfig{
			Type:     executor.PacingType(p.Type),
			Duration: time.Duration(p.Duration),
			Min:      time.Duration(p.Min),
			Max:      time.Duration(p.Max),
		}
	}

	return cfg
}

// ThresholdDefinitions flattens the thresholds map, ordered by metric name
// and then by position in the file.
func (c *TestConfig) ThresholdDefinitions() []threshold.Definition {
	metrics := make([]string, 0, len(c.Thresholds))
	for metric := range c.Thresholds {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var defs []threshold.Definition
	for _, metric := range metrics {
		for _, t := range c.Thresholds[metric] {
			defs = append(defs, t.definition(metric))
		}
	}
	return defs
}

// HTTPScenario builds the scenario with variables resolved and checks
// compiled.
func (c *TestConfig) HTTPScenario() (*loadtest.HTTPScenario, error) {
	resolve := func(s string) string {
		return ResolveVariables(s, c.Variables, c.Scenario.BaseURL)
	}

	scenario := &loadtest.HTTPScenario{}
	for i, r := range c.Scenario.Requests {
		checks, err := check.FromConfigs(r.Checks)
		if err != nil {
			return nil, fmt.Errorf("scenario.requests[%d]: %w", i, err)
		}

		headers := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			headers[k] = resolve(v)
		}

		scenario.Requests = append(scenario.Requests, loadtest.RequestSpec{
			Name:      r.Name,
			Method:    r.Method,
			URL:       resolve(r.URL),
			Headers:   headers,
			Body:      resolve(r.Body),
			Checks:    checks,
			ThinkTime: time.Duration(r.ThinkTime),
		})
	}

	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return scenario, nil
}

// ClientConfig returns the HTTP client settings.
func (c *TestConfig) ClientConfig() loadtest.ClientConfig {
	cfg := loadtest.DefaultClientConfig()

	headers := make(map[string]string, len(c.Scenario.Headers))
	for k, v := range c.Scenario.Headers {
		headers[k] = ResolveVariables(v, c.Variables, c.Scenario.BaseURL)
	}
	cfg.Headers = headers

	if o := c.Options; o != nil {
		cfg.Timeout = o.HTTPTimeout.GetDuration(cfg.Timeout)
		cfg.RPS = o.RPS
		cfg.InsecureSkipVerify = o.InsecureSkipVerify
		cfg.DisableKeepAlives = o.DisableKeepAlives
		if o.MaxConnsPerHost > 0 {
			cfg.MaxConnsPerHost = o.MaxConnsPerHost
		}
	}
	return cfg
}

// RunConfig converts the plan into an engine run configuration. The plan
// should already have passed Validate.
func (c *TestConfig) RunConfig(log logrus.FieldLogger) (engine.RunConfig, error) {
	scenario, err := c.HTTPScenario()
	if err != nil {
		return engine.RunConfig{}, err
	}

	httpConfig := c.ClientConfig()
	run := engine.RunConfig{
		Name:       c.Name,
		Executor:   c.ExecutorConfig(),
		Thresholds: c.ThresholdDefinitions(),
		Iterate:    scenario.Iteration(),
		HTTP:       &httpConfig,
		Logger:     log,
	}

	if o := c.Options; o != nil {
		run.TickInterval = time.Duration(o.TickInterval)
		run.CheckpointInterval = time.Duration(o.CheckpointInterval)
		run.GracefulStop = time.Duration(o.GracefulStop)
	}

	return run, nil
}
