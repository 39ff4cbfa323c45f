// Package engine coordinates a load test run.
//
// It coordinates:
//   - The executor's target VU count, polled every scheduling tick
//   - The VU pool, scaled up and down to follow the target
//   - Threshold evaluation at every checkpoint and once at the end
//   - Graceful drain and abandonment of straggling VUs
//
// Example usage:
//
//	coord, _ := engine.New(engine.RunConfig{
//		Executor: executor.FromVUsDuration(3, 10*time.Second),
//		Iterate:  scenario.Iteration(),
//	})
//	result, _ := coord.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/surge/internal/loadtest"
	"github.com/wesleyorama2/surge/internal/loadtest/executor"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/threshold"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("engine: run already started")

// Defaults applied by RunConfig.ApplyDefaults.
const (
	DefaultTickInterval       = 100 * time.Millisecond
	DefaultCheckpointInterval = time.Second
	DefaultGracefulStop       = 30 * time.Second
)

// RunConfig describes one run. It is passed by value; the engine keeps no
// global state.
type RunConfig struct {
	// Name of the run, for reporting
	Name string

	// Executor is the load plan
	Executor *executor.Config

	// Thresholds gate the verdict and may abort the run
	Thresholds []threshold.Definition

	// Iterate is the user iteration function
	Iterate loadtest.IterationFunc

	// HTTP configures the shared instrumented client (default settings if nil)
	HTTP *loadtest.ClientConfig

	// TickInterval is how often the pool is scaled to the executor target
	TickInterval time.Duration

	// CheckpointInterval is how often thresholds are evaluated
	CheckpointInterval time.Duration

	// GracefulStop bounds the drain at the end of the run. When zero the
	// executor's gracefulStop is used, then DefaultGracefulStop.
	GracefulStop time.Duration

	// Metrics is the aggregator to record into. A new one is created if nil.
	Metrics *metrics.Engine

	// Logger (optional)
	Logger logrus.FieldLogger
}

// ApplyDefaults fills in zero-valued intervals.
func (c *RunConfig) ApplyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.GracefulStop <= 0 {
		if c.Executor != nil && c.Executor.GracefulStop > 0 {
			c.GracefulStop = c.Executor.GracefulStop
		} else {
			c.GracefulStop = DefaultGracefulStop
		}
	}
}

// Coordinator drives a single run from pending to completed or aborted.
type Coordinator struct {
	id     string
	config RunConfig
	log    logrus.FieldLogger

	exec      executor.Executor
	evaluator *threshold.Evaluator
	metrics   *metrics.Engine
	client    *loadtest.Client
	pool      *loadtest.VUPool

	state     atomic.Int32
	startTime atomic.Int64
}

// New validates cfg and prepares a run. Configuration errors are reported
// here, before any VU starts.
func New(cfg RunConfig) (*Coordinator, error) {
	cfg.ApplyDefaults()

	if cfg.Iterate == nil {
		return nil, fmt.Errorf("invalid configuration: %w", loadtest.ErrNoIteration)
	}

	exec, err := executor.New(cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := threshold.Compile(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	id := uuid.New().String()

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("run_id", id)

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewEngineWithConfig(metrics.EngineConfig{Logger: log})
	}

	httpConfig := loadtest.DefaultClientConfig()
	if cfg.HTTP != nil {
		httpConfig = *cfg.HTTP
	}
	client := loadtest.NewClient(httpConfig, m)

	pool, err := loadtest.NewVUPool(loadtest.PoolConfig{
		Iterate:  cfg.Iterate,
		Recorder: m,
		Client:   client,
		Pacing:   cfg.Executor.Pacing,
		Logger:   log.WithField("component", "pool"),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Coordinator{
		id:        id,
		config:    cfg,
		log:       log,
		exec:      exec,
		evaluator: threshold.NewEvaluator(thresholds),
		metrics:   m,
		client:    client,
		pool:      pool,
	}, nil
}

// ID returns the run's unique identifier.
func (c *Coordinator) ID() string {
	return c.id
}

// State returns the current run state.
func (c *Coordinator) State() RunState {
	return RunState(c.state.Load())
}

// Metrics returns the aggregator the run records into.
func (c *Coordinator) Metrics() *metrics.Engine {
	return c.metrics
}

// Elapsed returns the time since the run started, or 0 before it starts.
func (c *Coordinator) Elapsed() time.Duration {
	start := c.startTime.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Progress returns the fraction of the plan elapsed, from 0 to 1.
func (c *Coordinator) Progress() float64 {
	switch c.State() {
	case StatePending:
		return 0
	case StateCompleted, StateAborted:
		return 1
	}

	total := c.exec.TotalDuration()
	if total <= 0 {
		return 1
	}
	p := float64(c.Elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// Snapshot returns the current summaries of every series.
func (c *Coordinator) Snapshot() map[string]metrics.Summary {
	return c.metrics.Snapshots()
}

// ActiveVUs returns the number of VUs currently counting toward the target.
func (c *Coordinator) ActiveVUs() int {
	return c.pool.ActiveCount()
}

// Run executes the plan and blocks until the run completes or aborts.
//
// An abort-on-fail threshold breach or cancellation of ctx ends the run as
// aborted; neither is returned as an error. Run may only be called once.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if !c.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}

	if err := c.metrics.Reset(); err != nil {
		c.state.Store(int32(StatePending))
		return nil, fmt.Errorf("failed to reset metrics: %w", err)
	}

	c.metrics.Start()
	start := c.metrics.StartTime()
	c.startTime.Store(start.UnixNano())

	c.log.WithFields(logrus.Fields{
		"name":     c.config.Name,
		"executor": c.exec.Type(),
		"duration": c.exec.TotalDuration(),
		"max_vus":  c.exec.MaxVUs(),
	}).Info("run started")

	c.scale(0)

	var (
		reason  string
		trigger *threshold.Result
	)

	tick := time.NewTicker(c.config.TickInterval)
	defer tick.Stop()
	checkpoint := time.NewTicker(c.config.CheckpointInterval)
	defer checkpoint.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			reason = ReasonInterrupted
			c.log.Warn("run interrupted")
			break loop

		case <-tick.C:
			elapsed := time.Since(start)
			if c.exec.Done(elapsed) {
				break loop
			}
			c.scale(elapsed)

		case <-checkpoint.C:
			elapsed := time.Since(start)
			c.metrics.EmitBucket()

			eval := c.evaluator.Evaluate(c.metrics, elapsed)
			if eval.Abort {
				reason = ReasonThreshold
				trigger = eval.Trigger
				c.log.WithFields(logrus.Fields{
					"metric":    trigger.Metric,
					"threshold": trigger.Expression,
					"value":     trigger.Value,
				}).Warn("threshold crossed, aborting run")
				break loop
			}
		}
	}

	state := StateCompleted
	if reason != "" {
		state = StateAborted
		c.state.CompareAndSwap(int32(StateRunning), int32(StateAborted))
	}

	abandoned := c.shutdown()

	end := time.Now()
	c.metrics.SetPhase(metrics.PhaseDone)
	c.metrics.EmitBucket()
	c.metrics.Stop()

	final := c.evaluator.Evaluate(c.metrics, end.Sub(start))

	c.state.Store(int32(state))

	result := c.buildResult(start, end, state, reason, trigger, final, abandoned)

	c.log.WithFields(logrus.Fields{
		"state":      state,
		"passed":     result.Passed,
		"iterations": result.Iterations,
		"duration":   result.Duration.Round(time.Millisecond),
	}).Info("run finished")

	return result, nil
}

// scale moves the pool to the executor target at elapsed.
func (c *Coordinator) scale(elapsed time.Duration) {
	target := c.exec.TargetVUs(elapsed)
	active := c.pool.Scale(target)
	c.metrics.SetActiveVUs(active)
	c.metrics.SetPhase(c.exec.Phase(elapsed))
}

// shutdown stops every VU, waits up to the graceful stop for in-flight
// iterations and abandons the rest. It returns the number abandoned.
func (c *Coordinator) shutdown() int {
	c.pool.StopAll()
	defer c.pool.Close()

	stragglers := c.pool.Drain(c.config.GracefulStop)
	c.metrics.SetActiveVUs(0)
	if stragglers == 0 {
		return 0
	}

	c.log.WithFields(logrus.Fields{
		"vus":           stragglers,
		"graceful_stop": c.config.GracefulStop,
	}).Warn("graceful stop timeout exceeded")

	// observations from abandoned VUs must not reach the report
	c.metrics.Seal()
	return c.pool.Abandon()
}

func (c *Coordinator) buildResult(start, end time.Time, state RunState, reason string, trigger *threshold.Result, final threshold.Evaluation, abandoned int) *Result {
	iterations := c.metrics.Snapshot(metrics.SeriesIteration)

	return &Result{
		RunID:                 c.id,
		Name:                  c.config.Name,
		Executor:              string(c.exec.Type()),
		StartTime:             start,
		EndTime:               end,
		Duration:              end.Sub(start),
		State:                 state,
		AbortReason:           reason,
		AbortTrigger:          trigger,
		Passed:                state == StateCompleted && final.Passed,
		Thresholds:            final.Results,
		Iterations:            iterations.Count,
		FailedIterations:      iterations.Failures,
		MaxVUs:                c.exec.MaxVUs(),
		SpawnedVUs:            c.pool.Spawned(),
		AbandonedVUs:          abandoned,
		DroppedObservations:   c.metrics.Dropped(),
		DiscardedObservations: c.metrics.Discarded(),
		DataSent:              c.client.BytesSent(),
		DataReceived:          c.client.BytesReceived(),
		Metrics:               c.metrics.Snapshots(),
		Phases:                c.metrics.GetPhaseHistory(),
		TimeSeries:            c.metrics.TimeSeries(),
	}
}
