package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/check"
	"github.com/wesleyorama2/surge/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the whole plan.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateLoad(c, errs)
	validateThresholds(c.Thresholds, errs)
	validateScenario(c, errs)
	if c.Options != nil {
		validateOptions(c.Options, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateLoad checks that exactly one of vus+duration or stages is given.
func validateLoad(c *TestConfig, errs *ValidationErrors) {
	fixed := c.VUs != 0 || c.Duration != 0
	staged := len(c.Stages) > 0

	switch {
	case fixed && staged:
		errs.Add("stages", "stages cannot be combined with vus/duration")
		return
	case !fixed && !staged:
		errs.Add("vus", "either vus and duration or stages are required")
		return
	}

	if fixed {
		if c.VUs <= 0 {
			errs.Add("vus", "vus must be greater than 0")
		}
		if c.Duration <= 0 {
			errs.Add("duration", "duration must be greater than 0")
		}
		return
	}

	var total time.Duration
	for i, stage := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
		total += time.Duration(stage.Duration)
	}
	if total <= 0 {
		errs.Add("stages", "total stage duration must be greater than 0")
	}
}

// validateThresholds compiles every threshold so that expression errors
// surface before the run starts.
func validateThresholds(thresholds map[string]ThresholdList, errs *ValidationErrors) {
	metrics := make([]string, 0, len(thresholds))
	for metric := range thresholds {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		for i, t := range thresholds[metric] {
			field := fmt.Sprintf("thresholds.%s[%d]", metric, i)
			if strings.TrimSpace(t.Threshold) == "" {
				errs.Add(field, "threshold expression cannot be empty")
				continue
			}
			if _, err := threshold.New(t.definition(metric)); err != nil {
				errs.Add(field, err.Error())
			}
		}
	}
}

func validateScenario(c *TestConfig, errs *ValidationErrors) {
	sc := &c.Scenario

	if sc.BaseURL != "" {
		if _, err := url.Parse(sc.BaseURL); err != nil {
			errs.Add("scenario.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if sc.Pacing != nil {
		validatePacing("scenario.pacing", sc.Pacing, errs)
	}

	if len(sc.Requests) == 0 {
		errs.Add("scenario.requests", "at least one request is required")
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("scenario.requests[%d]", i), &sc.Requests[i], c, errs)
	}
}

func validateRequest(prefix string, req *RequestConfig, c *TestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	if method := strings.ToUpper(req.Method); method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		resolved := ResolveVariables(req.URL, c.Variables, c.Scenario.BaseURL)
		if strings.Contains(resolved, "{{") {
			errs.Add(prefix+".url", fmt.Sprintf("unresolved variable in %s", req.URL))
		} else if u, err := url.Parse(resolved); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add(prefix+".url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}

	if req.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "thinkTime cannot be negative")
	}

	for i, cc := range req.Checks {
		if _, err := check.FromConfig(cc); err != nil {
			errs.Add(fmt.Sprintf("%s.checks[%d]", prefix, i), err.Error())
		}
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "", "none":
	case "constant":
		if pacing.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		}
	case "random":
		if pacing.Min < 0 {
			errs.Add(prefix+".min", "min cannot be negative")
		}
		if pacing.Max <= 0 {
			errs.Add(prefix+".max", "max is required for random pacing")
		}
		if pacing.Min > pacing.Max {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

func validateOptions(o *Options, errs *ValidationErrors) {
	durations := []struct {
		field string
		value Duration
	}{
		{"options.gracefulStop", o.GracefulStop},
		{"options.tickInterval", o.TickInterval},
		{"options.checkpointInterval", o.CheckpointInterval},
		{"options.httpTimeout", o.HTTPTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs.Add(d.field, "cannot be negative")
		}
	}

	if o.RPS < 0 {
		errs.Add("options.rps", "cannot be negative")
	}
	if o.MaxConnsPerHost < 0 {
		errs.Add("options.maxConnsPerHost", "cannot be negative")
	}
}
