package threshold

import (
	"fmt"
	"regexp"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// Kind is how a metric is aggregated.
type Kind string

const (
	// KindTrend exposes latency statistics in milliseconds.
	KindTrend Kind = "trend"

	// KindFailRate is the fraction of failed observations.
	KindFailRate Kind = "rate"

	// KindPassRate is the fraction of successful observations.
	KindPassRate Kind = "pass-rate"

	// KindCounter exposes a count and a per-second rate.
	KindCounter Kind = "counter"
)

func (k Kind) allows(agg Aggregation) bool {
	switch k {
	case KindTrend:
		switch agg {
		case AggPercentile, AggAvg, AggMin, AggMax, AggMed:
			return true
		}
	case KindFailRate, KindPassRate:
		return agg == AggRate
	case KindCounter:
		return agg == AggCount || agg == AggRate
	}
	return false
}

// Target is the series and aggregation kind a metric name refers to.
type Target struct {
	Series string `json:"series"`
	Kind   Kind   `json:"kind"`
}

type builtin struct {
	series string
	kind   Kind
}

// builtins maps the well-known metric names onto recorded series.
var builtins = map[string]builtin{
	"http_req_duration":  {metrics.SeriesHTTPReq, KindTrend},
	"http_req_failed":    {metrics.SeriesHTTPReq, KindFailRate},
	"http_reqs":          {metrics.SeriesHTTPReq, KindCounter},
	"iteration_duration": {metrics.SeriesIteration, KindTrend},
	"iterations":         {metrics.SeriesIteration, KindCounter},
	"iteration_failed":   {metrics.SeriesIteration, KindFailRate},
	"checks":             {metrics.SeriesChecks, KindPassRate},
}

var metricPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.-]*)(?:\{name:([^{}]+)\})?$`)

// Resolve maps a metric name, optionally with a {name:X} filter, onto its
// series. Unknown names are custom trend series.
func Resolve(metric string) (Target, error) {
	m := metricPattern.FindStringSubmatch(metric)
	if m == nil {
		return Target{}, fmt.Errorf("invalid metric name %q", metric)
	}

	base, sub := m[1], m[2]
	t := Target{Series: base, Kind: KindTrend}
	if b, ok := builtins[base]; ok {
		t = Target{Series: b.series, Kind: b.kind}
	}
	if sub != "" {
		t.Series = metrics.SubMetric(t.Series, sub)
	}
	return t, nil
}

// Snapshotter provides summaries by series name, computing the listed
// extra percentiles. *metrics.Engine implements it.
type Snapshotter interface {
	Snapshot(name string, percentiles ...float64) metrics.Summary
}

// Value computes the aggregated value of s for predicate p. Series without
// observations evaluate to zero.
func (t Target) Value(s metrics.Summary, p Predicate, elapsed time.Duration) float64 {
	switch t.Kind {
	case KindTrend:
		switch p.Aggregation {
		case AggPercentile:
			return millis(s.Quantile(p.Percentile))
		case AggMed:
			return millis(s.Quantile(50))
		case AggAvg:
			return millis(s.Mean)
		case AggMin:
			return millis(s.Min)
		case AggMax:
			return millis(s.Max)
		}

	case KindFailRate:
		if s.Count == 0 {
			return 0
		}
		return float64(s.Failures) / float64(s.Count)

	case KindPassRate:
		return s.SuccessRate()

	case KindCounter:
		if p.Aggregation == AggCount {
			return float64(s.Count)
		}
		if elapsed <= 0 {
			return 0
		}
		return float64(s.Count) / elapsed.Seconds()
	}
	return 0
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
