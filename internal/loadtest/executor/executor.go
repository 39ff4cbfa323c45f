// Package executor computes the target number of virtual users over time.
//
// Executors are pure: given the elapsed time since the run started they
// return the desired concurrency. The run coordinator polls them on every
// scheduling tick and scales the VU pool accordingly.
package executor

import (
	"fmt"
	"math"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor maps elapsed run time to a target VU count.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Target returns the exact, un-rounded target concurrency at elapsed.
	Target(elapsed time.Duration) float64

	// TargetVUs returns Target rounded to the nearest whole VU.
	TargetVUs(elapsed time.Duration) int

	// Done reports whether the plan is exhausted at elapsed.
	Done(elapsed time.Duration) bool

	// TotalDuration returns the length of the plan.
	TotalDuration() time.Duration

	// StageAt returns the index of the stage active at elapsed.
	StageAt(elapsed time.Duration) (int, bool)

	// Phase describes the load shape at elapsed.
	Phase(elapsed time.Duration) metrics.Phase

	// MaxVUs returns the highest target the plan ever reaches.
	MaxVUs() int
}

// Config contains configuration for an executor.
type Config struct {
	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// Fixed mode
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Staged mode
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a ramp segment.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "":
		return &ValidationError{Field: "type", Message: "executor type is required"}

	case TypeConstantVUs:
		if len(c.Stages) > 0 {
			return &ValidationError{Field: "stages", Message: "stages cannot be combined with vus/duration"}
		}
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.VUs != 0 || c.Duration != 0 {
			return &ValidationError{Field: "stages", Message: "stages cannot be combined with vus/duration"}
		}
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, stage := range c.Stages {
			if stage.Duration < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration cannot be negative"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target cannot be negative"}
			}
		}
		if c.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop cannot be negative"}
	}

	if p := c.Pacing; p != nil {
		switch p.Type {
		case PacingNone, "":
		case PacingConstant:
			if p.Duration < 0 {
				return &ValidationError{Field: "pacing.duration", Message: "duration cannot be negative"}
			}
		case PacingRandom:
			if p.Min < 0 || p.Max < p.Min {
				return &ValidationError{Field: "pacing", Message: "random pacing requires 0 <= min <= max"}
			}
		default:
			return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
		}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// New validates config and returns the matching executor.
func New(config *Config) (Executor, error) {
	if config == nil {
		return nil, &ValidationError{Field: "executor", Message: "configuration is required"}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case TypeConstantVUs:
		return NewConstantVUs(config.VUs, config.Duration), nil
	case TypeRampingVUs:
		return NewRampingVUs(config.Stages), nil
	}
	return nil, &ValidationError{Field: "type", Message: "unknown executor type: " + string(config.Type)}
}

// FromVUsDuration builds a fixed-mode config.
func FromVUsDuration(vus int, duration time.Duration) *Config {
	return &Config{Type: TypeConstantVUs, VUs: vus, Duration: duration}
}

// FromStages builds a staged-mode config.
func FromStages(stages ...Stage) *Config {
	return &Config{Type: TypeRampingVUs, Stages: stages}
}

// roundVUs rounds a fractional target to the nearest whole VU.
func roundVUs(target float64) int {
	if target <= 0 {
		return 0
	}
	return int(math.Floor(target + 0.5))
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
