package loadtest

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/surge/internal/loadtest/executor"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// ErrNoIteration is returned when a pool is created without an iteration.
var ErrNoIteration = errors.New("loadtest: iteration function is required")

// PoolConfig contains configuration for a VU pool.
type PoolConfig struct {
	// Iterate is run in a loop by every VU
	Iterate IterationFunc

	// Recorder receives iteration, request and check observations
	Recorder Recorder

	// Client is shared by all VUs (optional)
	Client *Client

	// Pacing between iterations (optional)
	Pacing *executor.PacingConfig

	// Logger (optional)
	Logger logrus.FieldLogger
}

// VUPool manages the lifecycle of Virtual Users.
//
// It provides:
//   - Spawning and stopping VUs to follow a target count
//   - Graceful drain with a timeout
//   - Abandonment of VUs that outlive the drain
//
// VUs are stopped newest first when scaling down.
type VUPool struct {
	config PoolConfig
	log    logrus.FieldLogger

	// Live VUs, keyed by ID, including those still stopping
	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	spawned  atomic.Int64
	closed   atomic.Bool

	// iterCtx is handed to every iteration and only cancelled by Abandon
	iterCtx context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewVUPool creates an empty pool.
func NewVUPool(config PoolConfig) (*VUPool, error) {
	if config.Iterate == nil {
		return nil, ErrNoIteration
	}
	if config.Recorder == nil {
		config.Recorder = discardRecorder{}
	}

	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &VUPool{
		config:  config,
		log:     log,
		vus:     make(map[int]*VirtualUser),
		iterCtx: ctx,
		cancel:  cancel,
	}, nil
}

// Spawn starts a new VU. It returns nil once the pool has been stopped.
func (p *VUPool) Spawn() *VirtualUser {
	if p.closed.Load() {
		return nil
	}

	id := int(p.nextVUID.Add(1))
	vu := newVirtualUser(id, p.config.Iterate, p.config.Pacing, p.config.Recorder, p.config.Client, p.log)

	p.vusMu.Lock()
	p.vus[id] = vu
	p.vusMu.Unlock()

	p.spawned.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		vu.Run(p.iterCtx)

		p.vusMu.Lock()
		delete(p.vus, id)
		p.vusMu.Unlock()
	}()

	return vu
}

// Scale spawns or stops VUs until the active count equals target.
// Returns the active count after adjustment.
func (p *VUPool) Scale(target int) int {
	if target < 0 {
		target = 0
	}

	active := p.active()
	switch {
	case target > len(active):
		for i := len(active); i < target; i++ {
			if p.Spawn() == nil {
				break
			}
		}

	case target < len(active):
		// newest first
		sort.Slice(active, func(i, j int) bool { return active[i].ID > active[j].ID })
		for _, vu := range active[:len(active)-target] {
			vu.RequestStop()
		}
	}

	return p.ActiveCount()
}

// active returns the VUs that have not been asked to stop.
func (p *VUPool) active() []*VirtualUser {
	p.vusMu.RLock()
	defer p.vusMu.RUnlock()

	result := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		switch vu.GetState() {
		case VUStateIdle, VUStateRunning:
			result = append(result, vu)
		}
	}
	return result
}

// ActiveCount returns the number of VUs counting toward the target.
func (p *VUPool) ActiveCount() int {
	return len(p.active())
}

// RunningCount returns the number of VU goroutines that have not exited,
// including those finishing their last iteration.
func (p *VUPool) RunningCount() int {
	p.vusMu.RLock()
	defer p.vusMu.RUnlock()
	return len(p.vus)
}

// Spawned returns the total number of VUs ever started.
func (p *VUPool) Spawned() int64 {
	return p.spawned.Load()
}

// StopAll requests every VU to stop and prevents new spawns.
func (p *VUPool) StopAll() {
	p.closed.Store(true)

	p.vusMu.RLock()
	defer p.vusMu.RUnlock()

	for _, vu := range p.vus {
		vu.RequestStop()
	}
}

// Drain waits up to timeout for every VU to exit.
//
// Returns the number of VUs still running when the timeout expired.
func (p *VUPool) Drain(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return 0
	case <-timer.C:
		return p.RunningCount()
	}
}

// Abandon cancels the context of every in-flight iteration. Observations
// those iterations produce afterwards are the recorder's concern.
func (p *VUPool) Abandon() int {
	n := p.RunningCount()
	p.closed.Store(true)
	p.cancel()
	if n > 0 {
		p.log.WithField("vus", n).Warn("abandoning VUs that did not stop in time")
	}
	return n
}

// Close releases the pool's resources. Call it after Drain or Abandon.
func (p *VUPool) Close() {
	p.closed.Store(true)
	p.cancel()
	if p.config.Client != nil {
		p.config.Client.CloseIdleConnections()
	}
}

type discardRecorder struct{}

func (discardRecorder) Record(metrics.Observation) {}
