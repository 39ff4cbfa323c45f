package output

import (
	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// StatsFromCoordinator samples a running coordinator for the live display.
func StatsFromCoordinator(c *engine.Coordinator) *LiveStats {
	elapsed := c.Elapsed()
	req := c.Metrics().Snapshot(metrics.SeriesHTTPReq)
	iter := c.Metrics().Snapshot(metrics.SeriesIteration)

	rps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rps = float64(req.Count) / secs
	}

	return &LiveStats{
		Progress:   c.Progress(),
		Elapsed:    elapsed,
		Phase:      string(c.Metrics().GetPhase()),
		ActiveVUs:  c.ActiveVUs(),
		Requests:   req.Count,
		Failures:   req.Failures,
		RPS:        rps,
		LatencyP95: req.P95,
		Iterations: iter.Count,
	}
}
