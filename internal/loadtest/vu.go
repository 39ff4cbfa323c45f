// Package loadtest runs virtual users: independent loops that execute a
// user-supplied iteration function until told to stop.
package loadtest

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/surge/internal/loadtest/check"
	"github.com/wesleyorama2/surge/internal/loadtest/executor"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// IterationFunc is one unit of user work. It may return an error or panic;
// either marks the iteration as failed without stopping the VU.
type IterationFunc func(ctx context.Context, vu *VU) error

// Recorder receives observations. *metrics.Engine implements it.
type Recorder interface {
	Record(obs metrics.Observation)
}

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU has been created but not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is looping over iterations.
	VUStateRunning
	// VUStateStopping indicates a stop was requested; the current
	// iteration is allowed to finish.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is a single simulated user.
//
// The stop flag is only consulted between iterations, never inside one, so
// a stop request lets the in-flight iteration complete and be recorded.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	iterate IterationFunc
	pacing  *executor.PacingConfig
	rec     Recorder
	client  *Client
	log     logrus.FieldLogger

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Closed by RequestStop
	stopCh chan struct{}

	// Closed when the run loop exits
	doneCh chan struct{}

	iteration atomic.Int64
	failures  atomic.Int64
}

func newVirtualUser(id int, iterate IterationFunc, pacing *executor.PacingConfig, rec Recorder, client *Client, log logrus.FieldLogger) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		iterate: iterate,
		pacing:  pacing,
		rec:     rec,
		client:  client,
		log:     log.WithField("vu", id),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (u *VirtualUser) GetState() VUState {
	return VUState(u.state.Load())
}

// Iterations returns the number of iterations started.
func (u *VirtualUser) Iterations() int64 {
	return u.iteration.Load()
}

// Failures returns the number of failed iterations.
func (u *VirtualUser) Failures() int64 {
	return u.failures.Load()
}

// Run loops over iterations until a stop is requested or ctx is cancelled.
// ctx is handed to every iteration; cancelling it pre-empts work in flight.
func (u *VirtualUser) Run(ctx context.Context) {
	defer u.MarkStopped()

	if !u.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return
	}

	handle := &VU{ID: u.ID, HTTP: u.client, user: u}

	for {
		select {
		case <-u.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		u.runIteration(ctx, handle)

		if delay := u.pacing.Delay(); delay > 0 {
			if !u.pause(ctx, delay) {
				return
			}
		}
	}
}

// runIteration executes and records one iteration.
func (u *VirtualUser) runIteration(ctx context.Context, handle *VU) {
	n := u.iteration.Add(1)
	start := time.Now()

	err := u.safeIterate(ctx, handle)
	latency := time.Since(start)

	tags := map[string]string{"vu": strconv.Itoa(u.ID)}
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		tags["error"] = err.Error()
		u.failures.Add(1)
		u.log.WithField("iteration", n).WithError(err).Debug("iteration failed")
	}

	u.rec.Record(metrics.Observation{
		Metric:    metrics.SeriesIteration,
		Timestamp: start,
		Latency:   latency,
		Outcome:   outcome,
		Tags:      tags,
	})
}

// safeIterate converts a panic in user code into an error.
func (u *VirtualUser) safeIterate(ctx context.Context, handle *VU) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.iterate(ctx, handle)
}

// pause waits for d using a timer. It returns false if the VU should exit.
func (u *VirtualUser) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-u.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (u *VirtualUser) RequestStop() {
	if u.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		u.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(u.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (u *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-u.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed once the VU has stopped.
func (u *VirtualUser) Done() <-chan struct{} {
	return u.doneCh
}

// MarkStopped marks the VU as fully stopped.
func (u *VirtualUser) MarkStopped() {
	u.state.Store(int32(VUStateStopped))
	select {
	case <-u.doneCh:
	default:
		close(u.doneCh)
	}
}

// VU is the handle an iteration function receives.
type VU struct {
	// ID of the virtual user running the iteration
	ID int

	// HTTP is the instrumented client; nil if the run has none.
	HTTP *Client

	user *VirtualUser
}

// Iteration returns the 1-based number of the current iteration.
func (v *VU) Iteration() int64 {
	return v.user.iteration.Load()
}

// Tags returns the tags identifying this VU.
func (v *VU) Tags() map[string]string {
	return map[string]string{"vu": strconv.Itoa(v.ID)}
}

// Record adds a custom observation. A zero Timestamp is set to now.
func (v *VU) Record(obs metrics.Observation) {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	v.user.rec.Record(obs)
}

// Check evaluates checks against resp and records the outcome in the
// "checks" series. Responses from Client carry their request name, which
// becomes the check's sub-metric.
func (v *VU) Check(resp check.Response, checks ...check.Check) bool {
	tags := v.Tags()
	if r, ok := resp.(*Response); ok {
		if r == nil {
			resp = nil
		} else if r.Name != "" {
			tags["name"] = r.Name
		}
	}
	return check.Run(v.user.rec, resp, tags, checks...)
}

// Sleep suspends the iteration for d. It returns ctx.Err() if the run
// abandons the VU first.
func (v *VU) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
