package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes an Engine to a Prometheus registry.
//
// Values are read from engine snapshots at scrape time, so the collector
// adds no work to the recording path.
type Collector struct {
	engine *Engine

	observations *prometheus.Desc
	failures     *prometheus.Desc
	latency      *prometheus.Desc
	activeVUs    *prometheus.Desc
	dropped      *prometheus.Desc
}

// NewCollector creates a collector for engine under namespace.
func NewCollector(engine *Engine, namespace string) *Collector {
	if namespace == "" {
		namespace = "surge"
	}

	return &Collector{
		engine: engine,
		observations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "observations_total"),
			"Total number of observations recorded per series",
			[]string{"series"}, nil,
		),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failures_total"),
			"Total number of failed observations per series",
			[]string{"series"}, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "latency_seconds"),
			"Latency distribution per series",
			[]string{"series"}, nil,
		),
		activeVUs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_vus"),
			"Number of currently active virtual users",
			nil, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_observations_total"),
			"Malformed observations rejected by the aggregator",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.observations
	ch <- c.failures
	ch <- c.latency
	ch <- c.activeVUs
	ch <- c.dropped
}

// braces in sub-metric keys read poorly in label values
var braceReplacer = strings.NewReplacer("{", "[", "}", "]")

// seriesLabel turns a series key into a label value. Request names are
// user input, so invalid UTF-8 is replaced.
func seriesLabel(name string) string {
	return strings.ToValidUTF8(braceReplacer.Replace(name), "\uFFFD")
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	seen := make(map[string]bool)
	for _, name := range c.engine.Series() {
		label := seriesLabel(name)
		if seen[label] {
			continue
		}
		seen[label] = true
		sum := c.engine.Snapshot(name)

		ch <- prometheus.MustNewConstMetric(c.observations, prometheus.CounterValue, float64(sum.Count), label)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(sum.Failures), label)
		ch <- prometheus.MustNewConstSummary(
			c.latency,
			uint64(sum.Count),
			sum.Mean.Seconds()*float64(sum.Count),
			map[float64]float64{
				0.5:  sum.P50.Seconds(),
				0.9:  sum.P90.Seconds(),
				0.95: sum.P95.Seconds(),
				0.99: sum.P99.Seconds(),
			},
			label,
		)
	}

	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(c.engine.GetActiveVUs()))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.engine.Dropped()))
}

// Handler returns an HTTP handler serving engine metrics from a dedicated
// registry.
func Handler(engine *Engine, namespace string) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(engine, namespace)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
