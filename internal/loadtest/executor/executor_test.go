package executor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/executor"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *executor.Config
		wantField string
	}{
		{
			name:   "valid constant",
			config: executor.FromVUsDuration(3, 10*time.Second),
		},
		{
			name:   "valid stages",
			config: executor.FromStages(executor.Stage{Duration: 4 * time.Second, Target: 2}),
		},
		{
			name:      "missing type",
			config:    &executor.Config{},
			wantField: "type",
		},
		{
			name:      "unknown type",
			config:    &executor.Config{Type: "shared-iterations"},
			wantField: "type",
		},
		{
			name:      "zero vus",
			config:    executor.FromVUsDuration(0, time.Second),
			wantField: "vus",
		},
		{
			name:      "negative vus",
			config:    executor.FromVUsDuration(-1, time.Second),
			wantField: "vus",
		},
		{
			name:      "zero duration",
			config:    executor.FromVUsDuration(1, 0),
			wantField: "duration",
		},
		{
			name:      "no stages",
			config:    executor.FromStages(),
			wantField: "stages",
		},
		{
			name:      "negative target",
			config:    executor.FromStages(executor.Stage{Duration: time.Second, Target: -1}),
			wantField: "stages[0].target",
		},
		{
			name:      "negative stage duration",
			config:    executor.FromStages(executor.Stage{Duration: -time.Second, Target: 1}),
			wantField: "stages[0].duration",
		},
		{
			name:      "zero total duration",
			config:    executor.FromStages(executor.Stage{Target: 5}, executor.Stage{Target: 0}),
			wantField: "stages",
		},
		{
			name: "both forms",
			config: &executor.Config{
				Type:     executor.TypeRampingVUs,
				VUs:      3,
				Duration: time.Second,
				Stages:   []executor.Stage{{Duration: time.Second, Target: 1}},
			},
			wantField: "stages",
		},
		{
			name: "bad random pacing",
			config: &executor.Config{
				Type:     executor.TypeConstantVUs,
				VUs:      1,
				Duration: time.Second,
				Pacing:   &executor.PacingConfig{Type: executor.PacingRandom, Min: time.Second, Max: time.Millisecond},
			},
			wantField: "pacing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr *executor.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestNew(t *testing.T) {
	e, err := executor.New(executor.FromVUsDuration(2, time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeConstantVUs)
	}

	e, err = executor.New(executor.FromStages(executor.Stage{Duration: time.Second, Target: 1}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeRampingVUs)
	}

	if _, err := executor.New(nil); err == nil {
		t.Error("New(nil) expected error, got nil")
	}
	if _, err := executor.New(executor.FromVUsDuration(-1, time.Second)); err == nil {
		t.Error("New() expected error for invalid config, got nil")
	}
}

func TestConstantVUs_Target(t *testing.T) {
	e := executor.NewConstantVUs(3, 10*time.Second)

	for _, elapsed := range []time.Duration{0, time.Millisecond, 5 * time.Second, 10*time.Second - time.Nanosecond} {
		if got := e.TargetVUs(elapsed); got != 3 {
			t.Errorf("TargetVUs(%v) = %d, want 3", elapsed, got)
		}
		if e.Done(elapsed) {
			t.Errorf("Done(%v) = true, want false", elapsed)
		}
	}

	for _, elapsed := range []time.Duration{10 * time.Second, 11 * time.Second, time.Hour} {
		if got := e.TargetVUs(elapsed); got != 0 {
			t.Errorf("TargetVUs(%v) = %d, want 0", elapsed, got)
		}
		if !e.Done(elapsed) {
			t.Errorf("Done(%v) = false, want true", elapsed)
		}
	}

	if e.Phase(time.Second) != metrics.PhaseSteady {
		t.Errorf("Phase() = %v, want steady", e.Phase(time.Second))
	}
	if e.MaxVUs() != 3 {
		t.Errorf("MaxVUs() = %d, want 3", e.MaxVUs())
	}
}

func TestRampingVUs_Target(t *testing.T) {
	e := executor.NewRampingVUs([]executor.Stage{
		{Duration: 4 * time.Second, Target: 2},
		{Duration: 5 * time.Second, Target: 5},
		{Duration: 3 * time.Second, Target: 0},
	})

	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 0},
		{2 * time.Second, 1},
		{4 * time.Second, 2},
		{6500 * time.Millisecond, 3.5},
		{9 * time.Second, 5},
		{10500 * time.Millisecond, 2.5},
		{12 * time.Second, 0},
		{20 * time.Second, 0},
	}

	for _, tt := range tests {
		if got := e.Target(tt.elapsed); got != tt.want {
			t.Errorf("Target(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}

	if e.TotalDuration() != 12*time.Second {
		t.Errorf("TotalDuration() = %v, want 12s", e.TotalDuration())
	}
	if !e.Done(12 * time.Second) {
		t.Error("Done(12s) = false, want true")
	}
	if e.Done(12*time.Second - time.Nanosecond) {
		t.Error("Done(12s-1ns) = true, want false")
	}
	if e.MaxVUs() != 5 {
		t.Errorf("MaxVUs() = %d, want 5", e.MaxVUs())
	}
}

func TestRampingVUs_MidpointStrictlyBetween(t *testing.T) {
	pairs := [][2]int{{2, 5}, {5, 2}, {1, 2}, {10, 0}, {0, 1}}

	for _, p := range pairs {
		d1, d2 := 2*time.Second, 3*time.Second
		e := executor.NewRampingVUs([]executor.Stage{
			{Duration: d1, Target: p[0]},
			{Duration: d2, Target: p[1]},
		})

		got := e.Target(d1 + d2/2)
		lo, hi := float64(p[0]), float64(p[1])
		if lo > hi {
			lo, hi = hi, lo
		}
		if !(got > lo && got < hi) {
			t.Errorf("stages %v: Target(midpoint) = %v, want strictly between %v and %v", p, got, lo, hi)
		}
	}
}

func TestRampingVUs_HoldWhenEqual(t *testing.T) {
	e := executor.NewRampingVUs([]executor.Stage{
		{Duration: time.Second, Target: 4},
		{Duration: 2 * time.Second, Target: 4},
	})

	for _, elapsed := range []time.Duration{time.Second, 1500 * time.Millisecond, 3*time.Second - time.Nanosecond} {
		if got := e.Target(elapsed); got != 4 {
			t.Errorf("Target(%v) = %v, want 4", elapsed, got)
		}
	}
	if e.Phase(2*time.Second) != metrics.PhaseSteady {
		t.Errorf("Phase(2s) = %v, want steady", e.Phase(2*time.Second))
	}
}

func TestRampingVUs_ZeroDurationStage(t *testing.T) {
	// The zero-length stage jumps the baseline to 10 instantly
	e := executor.NewRampingVUs([]executor.Stage{
		{Duration: 2 * time.Second, Target: 2},
		{Duration: 0, Target: 10},
		{Duration: 2 * time.Second, Target: 10},
	})

	if got := e.Target(time.Second); got != 1 {
		t.Errorf("Target(1s) = %v, want 1", got)
	}
	if got := e.Target(2 * time.Second); got != 10 {
		t.Errorf("Target(2s) = %v, want 10", got)
	}
	if i, ok := e.StageAt(2 * time.Second); !ok || i != 2 {
		t.Errorf("StageAt(2s) = (%d, %v), want (2, true)", i, ok)
	}
	if got := e.Target(4 * time.Second); got != 0 {
		t.Errorf("Target(4s) = %v, want 0", got)
	}
}

func TestRampingVUs_Deterministic(t *testing.T) {
	stages := []executor.Stage{{Duration: 3 * time.Second, Target: 7}}
	a := executor.NewRampingVUs(stages)
	b := executor.NewRampingVUs(stages)

	// mutating the input must not affect the executor
	stages[0].Target = 100

	for ms := 0; ms <= 3000; ms += 100 {
		elapsed := time.Duration(ms) * time.Millisecond
		if a.Target(elapsed) != b.Target(elapsed) {
			t.Fatalf("Target(%v) differs between identical executors", elapsed)
		}
		if a.TargetVUs(elapsed) > 7 {
			t.Fatalf("TargetVUs(%v) = %d, exceeds stage target", elapsed, a.TargetVUs(elapsed))
		}
	}
}

func TestRampingVUs_Phase(t *testing.T) {
	e := executor.NewRampingVUs([]executor.Stage{
		{Duration: time.Second, Target: 5},
		{Duration: time.Second, Target: 5},
		{Duration: time.Second, Target: 0},
	})

	tests := []struct {
		elapsed time.Duration
		want    metrics.Phase
	}{
		{500 * time.Millisecond, metrics.PhaseRampUp},
		{1500 * time.Millisecond, metrics.PhaseSteady},
		{2500 * time.Millisecond, metrics.PhaseRampDown},
		{3 * time.Second, metrics.PhaseDone},
	}
	for _, tt := range tests {
		if got := e.Phase(tt.elapsed); got != tt.want {
			t.Errorf("Phase(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestPacing_Delay(t *testing.T) {
	var nilPacing *executor.PacingConfig
	if nilPacing.Delay() != 0 {
		t.Error("nil pacing should yield 0")
	}

	constant := &executor.PacingConfig{Type: executor.PacingConstant, Duration: time.Second}
	if constant.Delay() != time.Second {
		t.Errorf("constant Delay() = %v, want 1s", constant.Delay())
	}

	random := &executor.PacingConfig{Type: executor.PacingRandom, Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := random.Delay()
		if d < random.Min || d >= random.Max {
			t.Fatalf("random Delay() = %v, want in [%v, %v)", d, random.Min, random.Max)
		}
	}
}
