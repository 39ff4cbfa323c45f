package threshold

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// Result is the outcome of one threshold at one checkpoint.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Message     string  `json:"message"`
}

// Evaluation is the outcome of every threshold at one checkpoint.
type Evaluation struct {
	Results []Result `json:"results"`

	// Passed is true when every threshold passed.
	Passed bool `json:"passed"`

	// Abort is set when an abort-on-fail threshold failed past its delay.
	Abort bool `json:"abort"`

	// Trigger is the first threshold that requested the abort.
	Trigger *Result `json:"trigger,omitempty"`
}

// Failed returns the results that did not pass.
func (e Evaluation) Failed() []Result {
	var out []Result
	for _, r := range e.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Evaluator checks a fixed set of thresholds. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	thresholds []*Threshold
}

// NewEvaluator creates an evaluator over thresholds.
func NewEvaluator(thresholds []*Threshold) *Evaluator {
	return &Evaluator{thresholds: append([]*Threshold(nil), thresholds...)}
}

// Thresholds returns the compiled thresholds.
func (e *Evaluator) Thresholds() []*Threshold {
	return append([]*Threshold(nil), e.thresholds...)
}

// Evaluate checks every threshold against src. elapsed is the run time so
// far; it drives counter rates and delayAbortEval. Every threshold is
// evaluated even after an abort is signalled.
func (e *Evaluator) Evaluate(src Snapshotter, elapsed time.Duration) Evaluation {
	eval := Evaluation{
		Results: make([]Result, 0, len(e.thresholds)),
		Passed:  true,
	}

	for _, t := range e.thresholds {
		var summary metrics.Summary
		if t.predicate.Aggregation == AggPercentile {
			summary = src.Snapshot(t.target.Series, t.predicate.Percentile)
		} else {
			summary = src.Snapshot(t.target.Series)
		}
		value := t.target.Value(summary, t.predicate, elapsed)
		passed := t.predicate.Holds(value)

		r := Result{
			Metric:      t.Metric,
			Expression:  t.Expression,
			AbortOnFail: t.AbortOnFail,
			Passed:      passed,
			Value:       value,
			Message:     describe(t, value, passed),
		}
		eval.Results = append(eval.Results, r)

		if passed {
			continue
		}
		eval.Passed = false

		if t.AbortOnFail && elapsed >= t.DelayAbortEval && !eval.Abort {
			eval.Abort = true
			trigger := r
			eval.Trigger = &trigger
		}
	}

	return eval
}

func describe(t *Threshold, value float64, passed bool) string {
	unit := ""
	if t.target.Kind == KindTrend {
		unit = "ms"
	}
	verdict := "passed"
	if !passed {
		verdict = "failed"
	}
	return fmt.Sprintf("%s %s=%s%s (want %s %s)",
		verdict, t.predicate.Label(), strconv.FormatFloat(value, 'f', 4, 64), unit,
		t.predicate.Op, strconv.FormatFloat(t.predicate.Bound, 'f', -1, 64))
}
