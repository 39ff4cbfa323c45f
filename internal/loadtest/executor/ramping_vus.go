package executor

import (
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// Within a stage the target is linearly interpolated from the previous
// stage's target (0 before the first stage) to the stage's own target.
// A zero-duration stage has no interpolation window: its target simply
// becomes the baseline for the next stage.
//
// Example stages:
//
//	stages:
//	  - duration: 4s
//	    target: 2     # Ramp from 0 to 2 VUs over 4s
//	  - duration: 5s
//	    target: 5     # Ramp from 2 to 5 VUs over 5s
//	  - duration: 3s
//	    target: 0     # Ramp down to 0 VUs over 3s
type RampingVUs struct {
	stages []Stage
	starts []time.Duration
	total  time.Duration
}

// NewRampingVUs creates a staged executor. The stages slice is copied.
func NewRampingVUs(stages []Stage) *RampingVUs {
	e := &RampingVUs{
		stages: append([]Stage(nil), stages...),
		starts: make([]time.Duration, len(stages)),
	}

	var offset time.Duration
	for i, stage := range e.stages {
		e.starts[i] = offset
		offset += stage.Duration
	}
	e.total = offset

	return e
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Stages returns a copy of the stage sequence.
func (e *RampingVUs) Stages() []Stage {
	return append([]Stage(nil), e.stages...)
}

// Target returns the interpolated target concurrency at elapsed.
func (e *RampingVUs) Target(elapsed time.Duration) float64 {
	i, ok := e.StageAt(elapsed)
	if !ok {
		return 0
	}

	stage := e.stages[i]
	from := float64(e.baseline(i))
	to := float64(stage.Target)
	if from == to {
		return to
	}

	progress := float64(elapsed-e.starts[i]) / float64(stage.Duration)
	return from + (to-from)*progress
}

// TargetVUs returns the whole-VU target at elapsed.
func (e *RampingVUs) TargetVUs(elapsed time.Duration) int {
	return roundVUs(e.Target(elapsed))
}

// Done reports whether every stage has elapsed.
func (e *RampingVUs) Done(elapsed time.Duration) bool {
	return elapsed >= e.total
}

// TotalDuration returns the sum of all stage durations.
func (e *RampingVUs) TotalDuration() time.Duration {
	return e.total
}

// StageAt returns the index of the stage active at elapsed. Zero-duration
// stages are never active.
func (e *RampingVUs) StageAt(elapsed time.Duration) (int, bool) {
	if elapsed < 0 {
		return 0, false
	}
	for i, stage := range e.stages {
		if stage.Duration == 0 {
			continue
		}
		if elapsed < e.starts[i]+stage.Duration {
			return i, true
		}
	}
	return 0, false
}

// Phase derives the load shape of the active stage.
func (e *RampingVUs) Phase(elapsed time.Duration) metrics.Phase {
	i, ok := e.StageAt(elapsed)
	if !ok {
		return metrics.PhaseDone
	}

	prev := e.baseline(i)
	switch target := e.stages[i].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// MaxVUs returns the highest stage target.
func (e *RampingVUs) MaxVUs() int {
	max := 0
	for _, stage := range e.stages {
		if stage.Target > max {
			max = stage.Target
		}
	}
	return max
}

// baseline is the target in force when stage i begins.
func (e *RampingVUs) baseline(i int) int {
	if i == 0 {
		return 0
	}
	return e.stages[i-1].Target
}

var _ Executor = (*RampingVUs)(nil)
