package engine

import (
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/threshold"
)

// Result is the structured report of a finished run.
type Result struct {
	// Run metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	Executor  string        `json:"executor"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Outcome
	State        RunState          `json:"state"`
	AbortReason  string            `json:"abortReason,omitempty"`
	AbortTrigger *threshold.Result `json:"abortTrigger,omitempty"`

	// Passed is the overall verdict: the run completed and every
	// threshold passed at the final evaluation.
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Iteration counts
	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`

	// VU accounting
	MaxVUs       int   `json:"maxVUs"`
	SpawnedVUs   int64 `json:"spawnedVUs"`
	AbandonedVUs int   `json:"abandonedVUs"`

	// Observations rejected by the aggregator
	DroppedObservations   int64 `json:"droppedObservations"`
	DiscardedObservations int64 `json:"discardedObservations"`

	// HTTP body volume
	DataSent     int64 `json:"dataSent"`
	DataReceived int64 `json:"dataReceived"`

	// Per-series summaries, keyed by series name
	Metrics map[string]metrics.Summary `json:"metrics"`

	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
}

// CompletedIterations returns the number of iterations that succeeded.
func (r *Result) CompletedIterations() int64 {
	return r.Iterations - r.FailedIterations
}

// FailedThresholds returns the thresholds that did not pass.
func (r *Result) FailedThresholds() []threshold.Result {
	var out []threshold.Result
	for _, t := range r.Thresholds {
		if !t.Passed {
			out = append(out, t)
		}
	}
	return out
}
