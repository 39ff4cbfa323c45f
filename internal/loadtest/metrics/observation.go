package metrics

import (
	"errors"
	"time"
)

// Built-in series recorded by the runners.
const (
	// SeriesHTTPReq holds one observation per HTTP request.
	SeriesHTTPReq = "http_req"

	// SeriesIteration holds one observation per VU iteration.
	SeriesIteration = "iteration"

	// SeriesChecks holds one observation per evaluated check.
	SeriesChecks = "checks"
)

// Outcome is the result of a unit of work.
type Outcome int

const (
	// OutcomeSuccess marks a successful unit of work.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure marks a failed unit of work.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Observation is a single measurement produced by a virtual user.
//
// Observations are immutable once created. The aggregator folds them into
// a Summary and discards them.
type Observation struct {
	// Metric is the series this observation belongs to (e.g. "http_req").
	Metric string `json:"metric"`

	// Timestamp is when the unit of work started.
	Timestamp time.Time `json:"timestamp"`

	// Latency is how long the unit of work took.
	Latency time.Duration `json:"latency"`

	// Outcome is success or failure.
	Outcome Outcome `json:"outcome"`

	// Tags are free-form labels. The "name" tag selects a sub-metric.
	Tags map[string]string `json:"tags,omitempty"`
}

// Failed reports whether the observation represents a failure.
func (o Observation) Failed() bool {
	return o.Outcome == OutcomeFailure
}

var (
	errEmptyMetric     = errors.New("observation has no metric name")
	errNegativeLatency = errors.New("observation has negative latency")
	errZeroTimestamp   = errors.New("observation has no timestamp")
	errBadOutcome      = errors.New("observation has unknown outcome")
)

// Validate checks that the observation can be aggregated.
func (o Observation) Validate() error {
	switch {
	case o.Metric == "":
		return errEmptyMetric
	case o.Latency < 0:
		return errNegativeLatency
	case o.Timestamp.IsZero():
		return errZeroTimestamp
	case o.Outcome != OutcomeSuccess && o.Outcome != OutcomeFailure:
		return errBadOutcome
	}
	return nil
}

// SubMetric returns the key of the tag-filtered series for name,
// e.g. SubMetric("http_req", "home") == "http_req{name:home}".
func SubMetric(series, name string) string {
	return series + "{name:" + name + "}"
}
