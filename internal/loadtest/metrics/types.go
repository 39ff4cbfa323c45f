package metrics

import (
	"math"
	"time"
)

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before any VU is started.
	PhaseInit Phase = "init"

	// PhaseRampUp is the phase when load is increasing.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the phase at constant target load.
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the phase when load is decreasing.
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the plan is exhausted.
	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Summary is a point-in-time view of one series.
//
// All percentile fields lie within [Min, Max]. A Summary for a series
// without observations has every field at its zero value.
type Summary struct {
	Name        string        `json:"name"`
	Count       int64         `json:"count"`
	Failures    int64         `json:"failures"`
	FailureRate float64       `json:"failureRate"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	Mean        time.Duration `json:"mean"`
	StdDev      time.Duration `json:"stdDev"`
	P50         time.Duration `json:"p50"`
	P90         time.Duration `json:"p90"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
	First       time.Time     `json:"first"`
	Last        time.Time     `json:"last"`

	// quantiles holds extra percentiles requested at snapshot time
	quantiles map[float64]time.Duration
}

// Successes returns the number of successful observations.
func (s Summary) Successes() int64 {
	return s.Count - s.Failures
}

// SuccessRate returns the fraction of successful observations.
func (s Summary) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Successes()) / float64(s.Count)
}

// Quantile returns the latency at percentile q (0-100), clamped to the
// observed range. q must be 50, 90, 95, 99 or one of the percentiles passed
// to Engine.Snapshot; any other q yields the nearest computed percentile.
func (s Summary) Quantile(q float64) time.Duration {
	if s.Count == 0 {
		return 0
	}
	q = clampPercentile(q)
	if v, ok := s.quantiles[q]; ok {
		return v
	}

	best, bestDist := s.P50, math.Abs(q-50)
	consider := func(p float64, v time.Duration) {
		if d := math.Abs(q - p); d < bestDist {
			best, bestDist = v, d
		}
	}
	consider(90, s.P90)
	consider(95, s.P95)
	consider(99, s.P99)
	for p, v := range s.quantiles {
		consider(p, v)
	}
	return best
}

func (s Summary) clamp(d time.Duration) time.Duration {
	if d < s.Min {
		return s.Min
	}
	if d > s.Max {
		return s.Max
	}
	return d
}

// TimeBucket captures metrics for one checkpoint interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters
	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	// Interval metrics
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP95 time.Duration `json:"latencyP95"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}
