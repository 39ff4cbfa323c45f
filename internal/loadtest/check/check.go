// Package check provides predicates evaluated against HTTP responses.
//
// Each evaluation is recorded as one observation in the "checks" series so
// that a threshold such as `checks: rate > 0.9` can gate the run.
package check

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// Response is the part of an HTTP response a check can inspect.
type Response interface {
	Status() int
	Body() []byte
	Header() http.Header
}

// Check is a named predicate over a response.
type Check interface {
	// Name identifies the check in reports and in the "check" tag.
	Name() string

	// Evaluate returns whether the response satisfies the check. A non-nil
	// error means the check could not be evaluated and counts as a failure.
	Evaluate(resp Response) (bool, error)
}

// Recorder receives check observations.
type Recorder interface {
	Record(obs metrics.Observation)
}

// Run evaluates every check against resp and records one observation per
// check. It returns true only if all checks passed. A nil resp fails every
// check.
func Run(rec Recorder, resp Response, tags map[string]string, checks ...Check) bool {
	allPassed := true
	for _, c := range checks {
		start := time.Now()

		var (
			passed bool
			err    error
		)
		if resp == nil {
			err = fmt.Errorf("no response")
		} else {
			passed, err = c.Evaluate(resp)
		}
		if err != nil {
			passed = false
		}
		if !passed {
			allPassed = false
		}

		if rec == nil {
			continue
		}

		obsTags := make(map[string]string, len(tags)+2)
		for k, v := range tags {
			obsTags[k] = v
		}
		obsTags["check"] = c.Name()
		if err != nil {
			obsTags["error"] = err.Error()
		}

		outcome := metrics.OutcomeSuccess
		if !passed {
			outcome = metrics.OutcomeFailure
		}
		rec.Record(metrics.Observation{
			Metric:    metrics.SeriesChecks,
			Timestamp: start,
			Latency:   time.Since(start),
			Outcome:   outcome,
			Tags:      obsTags,
		})
	}
	return allPassed
}

type statusCheck struct {
	name     string
	expected []int
}

// Status passes when the response status equals code.
func Status(code int) Check {
	return &statusCheck{name: fmt.Sprintf("status is %d", code), expected: []int{code}}
}

// StatusIn passes when the response status is one of codes.
func StatusIn(codes ...int) Check {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return &statusCheck{
		name:     "status in [" + strings.Join(parts, ",") + "]",
		expected: append([]int(nil), codes...),
	}
}

func (c *statusCheck) Name() string { return c.name }

func (c *statusCheck) Evaluate(resp Response) (bool, error) {
	status := resp.Status()
	for _, code := range c.expected {
		if status == code {
			return true, nil
		}
	}
	return false, nil
}

type bodyContains struct {
	substr []byte
}

// BodyContains passes when the body contains substr.
func BodyContains(substr string) Check {
	return &bodyContains{substr: []byte(substr)}
}

func (c *bodyContains) Name() string { return fmt.Sprintf("body contains %q", c.substr) }

func (c *bodyContains) Evaluate(resp Response) (bool, error) {
	return bytes.Contains(resp.Body(), c.substr), nil
}

type bodyMatches struct {
	re *regexp.Regexp
}

// BodyMatches passes when the body matches the regular expression pattern.
func BodyMatches(pattern string) (Check, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid body pattern: %w", err)
	}
	return &bodyMatches{re: re}, nil
}

func (c *bodyMatches) Name() string { return fmt.Sprintf("body matches %q", c.re.String()) }

func (c *bodyMatches) Evaluate(resp Response) (bool, error) {
	return c.re.Match(resp.Body()), nil
}

type headerEquals struct {
	key   string
	value string
}

// HeaderEquals passes when header key has exactly value.
func HeaderEquals(key, value string) Check {
	return &headerEquals{key: key, value: value}
}

func (c *headerEquals) Name() string { return fmt.Sprintf("header %s is %q", c.key, c.value) }

func (c *headerEquals) Evaluate(resp Response) (bool, error) {
	h := resp.Header()
	if h == nil {
		return false, nil
	}
	return h.Get(c.key) == c.value, nil
}

type funcCheck struct {
	name string
	fn   func(Response) (bool, error)
}

// Func wraps an arbitrary predicate.
func Func(name string, fn func(Response) (bool, error)) Check {
	return &funcCheck{name: name, fn: fn}
}

func (c *funcCheck) Name() string { return c.name }

func (c *funcCheck) Evaluate(resp Response) (bool, error) {
	return c.fn(resp)
}

// Named overrides the reported name of a check.
func Named(name string, c Check) Check {
	if name == "" {
		return c
	}
	return &funcCheck{name: name, fn: c.Evaluate}
}
