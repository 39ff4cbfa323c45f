package executor

import (
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// ConstantVUs holds a fixed number of VUs for a fixed duration.
//
// Use cases:
//   - Baseline performance measurement
//   - Soak testing at a known concurrency
type ConstantVUs struct {
	vus      int
	duration time.Duration
}

// NewConstantVUs creates a fixed-mode executor.
func NewConstantVUs(vus int, duration time.Duration) *ConstantVUs {
	return &ConstantVUs{vus: vus, duration: duration}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Target returns the VU count while the duration has not elapsed, 0 after.
func (e *ConstantVUs) Target(elapsed time.Duration) float64 {
	if elapsed < 0 || elapsed >= e.duration {
		return 0
	}
	return float64(e.vus)
}

// TargetVUs returns the whole-VU target at elapsed.
func (e *ConstantVUs) TargetVUs(elapsed time.Duration) int {
	return roundVUs(e.Target(elapsed))
}

// Done reports whether the duration has elapsed.
func (e *ConstantVUs) Done(elapsed time.Duration) bool {
	return elapsed >= e.duration
}

// TotalDuration returns the configured duration.
func (e *ConstantVUs) TotalDuration() time.Duration {
	return e.duration
}

// StageAt treats the whole run as a single stage.
func (e *ConstantVUs) StageAt(elapsed time.Duration) (int, bool) {
	if elapsed < 0 || elapsed >= e.duration {
		return 0, false
	}
	return 0, true
}

// Phase is steady for the whole run.
func (e *ConstantVUs) Phase(elapsed time.Duration) metrics.Phase {
	if e.Done(elapsed) {
		return metrics.PhaseDone
	}
	return metrics.PhaseSteady
}

// MaxVUs returns the configured VU count.
func (e *ConstantVUs) MaxVUs() int {
	return e.vus
}

var _ Executor = (*ConstantVUs)(nil)
