// Package metrics aggregates observations produced by virtual users into
// per-series summaries backed by HDR histograms.
package metrics

import (
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned by Reset while a run is live.
var ErrRunInProgress = errors.New("metrics: cannot reset while a run is in progress")

// Engine collects and aggregates observations.
//
// # Thread Safety
//
// Record is safe for concurrent use from any number of goroutines. Each
// series has its own mutex so writers to different series never contend,
// and Snapshot reads percentiles under the series lock without copying the
// histogram.
type Engine struct {
	series   map[string]*series
	seriesMu sync.RWMutex

	activeVUs atomic.Int32
	dropped   atomic.Int64
	discarded atomic.Int64
	sealed    atomic.Bool
	live      atomic.Bool

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime   time.Time
	startTimeMu sync.RWMutex

	config EngineConfig
	log    logrus.FieldLogger
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// MaxBuckets is the maximum number of time buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Logger receives warnings about dropped observations.
	Logger logrus.FieldLogger
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Engine{
		series:       make(map[string]*series),
		bucketStore:  NewTimeBucketStore(config.MaxBuckets),
		currentPhase: PhaseInit,
		phaseHistory: make([]PhaseChange, 0),
		startTime:    time.Now(),
		config:       config,
		log:          log,
	}
}

// Start marks the beginning of a run. Reset is rejected until Stop.
func (e *Engine) Start() {
	e.startTimeMu.Lock()
	e.startTime = time.Now()
	e.startTimeMu.Unlock()
	e.bucketStore.Start(e.StartTime())
	e.live.Store(true)
}

// Stop marks the end of a run.
func (e *Engine) Stop() {
	e.live.Store(false)
}

// Seal makes the engine discard every subsequent observation. It is used
// once the coordinator has given up on straggling runners.
func (e *Engine) Seal() {
	e.sealed.Store(true)
}

// Record folds an observation into its series.
//
// Malformed observations are dropped with a warning. Observations that
// arrive after Seal are discarded silently.
func (e *Engine) Record(obs Observation) {
	if e.sealed.Load() {
		e.discarded.Add(1)
		return
	}

	if err := obs.Validate(); err != nil {
		e.dropped.Add(1)
		e.log.WithFields(logrus.Fields{
			"metric": obs.Metric,
			"error":  err.Error(),
		}).Warn("dropping malformed observation")
		return
	}

	e.getSeries(obs.Metric).record(obs)
	if name := obs.Tags["name"]; name != "" {
		e.getSeries(SubMetric(obs.Metric, name)).record(obs)
	}

	if obs.Metric == SeriesHTTPReq {
		e.bucketStore.RecordRequest(!obs.Failed())
	}
}

// getSeries returns the series for name, creating it if needed.
func (e *Engine) getSeries(name string) *series {
	e.seriesMu.RLock()
	s, ok := e.series[name]
	e.seriesMu.RUnlock()
	if ok {
		return s
	}

	e.seriesMu.Lock()
	defer e.seriesMu.Unlock()
	if s, ok = e.series[name]; ok {
		return s
	}
	s = newSeries(name, e.config)
	e.series[name] = s
	return s
}

// Snapshot returns the current summary for a series. Unknown series
// yield an empty summary carrying only the name.
//
// P50, P90, P95 and P99 are always computed. Other percentiles (0-100) that
// the caller will read through Quantile are listed in percentiles.
func (e *Engine) Snapshot(name string, percentiles ...float64) Summary {
	e.seriesMu.RLock()
	s, ok := e.series[name]
	e.seriesMu.RUnlock()
	if !ok {
		return Summary{Name: name}
	}
	return s.snapshot(percentiles)
}

// Count returns the number of observations recorded for a series.
func (e *Engine) Count(name string) int64 {
	e.seriesMu.RLock()
	s, ok := e.series[name]
	e.seriesMu.RUnlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Snapshots returns summaries for every known series.
func (e *Engine) Snapshots() map[string]Summary {
	names := e.Series()
	result := make(map[string]Summary, len(names))
	for _, name := range names {
		result[name] = e.Snapshot(name)
	}
	return result
}

// Series returns the sorted names of all known series.
func (e *Engine) Series() []string {
	e.seriesMu.RLock()
	names := make([]string, 0, len(e.series))
	for name := range e.series {
		names = append(names, name)
	}
	e.seriesMu.RUnlock()

	sort.Strings(names)
	return names
}

// Dropped returns the number of malformed observations rejected.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// Discarded returns the number of observations ignored after Seal.
func (e *Engine) Discarded() int64 {
	return e.discarded.Load()
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.Count(SeriesHTTPReq),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// StartTime returns when the current run started.
func (e *Engine) StartTime() time.Time {
	e.startTimeMu.RLock()
	defer e.startTimeMu.RUnlock()
	return e.startTime
}

// EmitBucket appends a time bucket describing the interval since the
// previous one.
func (e *Engine) EmitBucket() *TimeBucket {
	req := e.Snapshot(SeriesHTTPReq)
	return e.bucketStore.CreateBucket(req.Count, req.Failures, req.P95, e.GetActiveVUs(), e.GetPhase())
}

// TimeSeries returns all time buckets in chronological order.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// Reset clears all metrics. It must only be called between runs.
func (e *Engine) Reset() error {
	if e.live.Load() {
		return ErrRunInProgress
	}

	e.seriesMu.Lock()
	e.series = make(map[string]*series)
	e.seriesMu.Unlock()

	e.activeVUs.Store(0)
	e.dropped.Store(0)
	e.discarded.Store(0)
	e.sealed.Store(false)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = make([]PhaseChange, 0)
	e.phaseMu.Unlock()

	e.bucketStore.Reset()
	e.startTimeMu.Lock()
	e.startTime = time.Now()
	e.startTimeMu.Unlock()
	return nil
}

// series accumulates one named metric.
type series struct {
	name   string
	config EngineConfig

	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	count    int64
	failures int64
	min      time.Duration
	max      time.Duration
	first    time.Time
	last     time.Time
}

func newSeries(name string, config EngineConfig) *series {
	return &series{
		name:   name,
		config: config,
		hist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
	}
}

func (s *series) record(obs Observation) {
	// HDR histogram works in microseconds within a fixed range
	micros := obs.Latency.Microseconds()
	if micros < s.config.HistogramMin {
		micros = s.config.HistogramMin
	}
	if micros > s.config.HistogramMax {
		micros = s.config.HistogramMax
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.hist.RecordValue(micros)
	s.count++
	if obs.Failed() {
		s.failures++
	}
	if s.count == 1 || obs.Latency < s.min {
		s.min = obs.Latency
	}
	if obs.Latency > s.max {
		s.max = obs.Latency
	}
	if s.first.IsZero() || obs.Timestamp.Before(s.first) {
		s.first = obs.Timestamp
	}
	if obs.Timestamp.After(s.last) {
		s.last = obs.Timestamp
	}
}

func (s *series) snapshot(percentiles []float64) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return Summary{Name: s.name}
	}

	sum := Summary{
		Name:        s.name,
		Count:       s.count,
		Failures:    s.failures,
		FailureRate: float64(s.failures) / float64(s.count),
		Min:         s.min,
		Max:         s.max,
		First:       s.first,
		Last:        s.last,
	}

	at := func(q float64) time.Duration {
		return sum.clamp(time.Duration(s.hist.ValueAtQuantile(q)) * time.Microsecond)
	}

	sum.Mean = sum.clamp(time.Duration(s.hist.Mean() * float64(time.Microsecond)))
	sum.StdDev = time.Duration(s.hist.StdDev() * float64(time.Microsecond))
	sum.P50 = at(50)
	sum.P90 = at(90)
	sum.P95 = at(95)
	sum.P99 = at(99)

	if len(percentiles) > 0 {
		sum.quantiles = make(map[float64]time.Duration, len(percentiles))
		for _, q := range percentiles {
			sum.quantiles[clampPercentile(q)] = at(clampPercentile(q))
		}
	}
	return sum
}

func clampPercentile(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}
