package loadtest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/loadtest"
	"github.com/wesleyorama2/surge/internal/loadtest/check"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

func TestHTTPScenario_Validate(t *testing.T) {
	assert.Error(t, (&loadtest.HTTPScenario{}).Validate())
	assert.Error(t, (&loadtest.HTTPScenario{Requests: []loadtest.RequestSpec{{Name: "x"}}}).Validate())
	assert.Error(t, (&loadtest.HTTPScenario{Requests: []loadtest.RequestSpec{{URL: "http://x", Method: "BAD METHOD"}}}).Validate())
	assert.NoError(t, (&loadtest.HTTPScenario{Requests: []loadtest.RequestSpec{{URL: "http://localhost/"}}}).Validate())
}

func TestHTTPScenario_Iteration(t *testing.T) {
	srv := newBackend(t)
	engine := metrics.NewEngine()
	client := loadtest.NewClient(loadtest.DefaultClientConfig(), engine)

	scenario := &loadtest.HTTPScenario{
		Requests: []loadtest.RequestSpec{
			{
				Name:   "home",
				URL:    srv.URL + "/ok",
				Checks: []check.Check{check.Status(http.StatusOK), check.JSONPathEquals("$.status", "ok")},
			},
			{
				Name:      "broken",
				Method:    "get",
				URL:       srv.URL + "/fail",
				Checks:    []check.Check{check.Status(http.StatusOK)},
				ThinkTime: time.Millisecond,
			},
		},
	}
	require.NoError(t, scenario.Validate())

	pool, err := loadtest.NewVUPool(loadtest.PoolConfig{
		Iterate:  scenario.Iteration(),
		Recorder: engine,
		Client:   client,
	})
	require.NoError(t, err)
	defer pool.Close()

	vu := pool.Spawn()
	waitFor(t, 2*time.Second, func() bool { return vu.Iterations() >= 2 })
	pool.StopAll()
	require.Equal(t, 0, pool.Drain(2*time.Second))

	iterations := engine.Snapshot(metrics.SeriesIteration)
	assert.Equal(t, int64(0), iterations.Failures, "HTTP failures do not fail the iteration")

	home := engine.Snapshot(metrics.SubMetric(metrics.SeriesHTTPReq, "home"))
	broken := engine.Snapshot(metrics.SubMetric(metrics.SeriesHTTPReq, "broken"))
	assert.Equal(t, iterations.Count, home.Count)
	assert.Equal(t, iterations.Count, broken.Count)
	assert.Equal(t, broken.Count, broken.Failures)

	homeChecks := engine.Snapshot(metrics.SubMetric(metrics.SeriesChecks, "home"))
	assert.Equal(t, 2*iterations.Count, homeChecks.Count)
	assert.Equal(t, int64(0), homeChecks.Failures)

	brokenChecks := engine.Snapshot(metrics.SubMetric(metrics.SeriesChecks, "broken"))
	assert.Equal(t, brokenChecks.Count, brokenChecks.Failures)
}

func TestHTTPScenario_RequiresClient(t *testing.T) {
	scenario := &loadtest.HTTPScenario{Requests: []loadtest.RequestSpec{{URL: "http://localhost/"}}}
	pool, engine := newTestPool(t, scenario.Iteration(), nil)

	vu := pool.Spawn()
	waitFor(t, time.Second, func() bool { return vu.Iterations() >= 1 })
	pool.StopAll()
	pool.Drain(time.Second)

	s := engine.Snapshot(metrics.SeriesIteration)
	assert.Equal(t, s.Count, s.Failures)
}

func TestHTTPScenario_FailedRequestFailsChecks(t *testing.T) {
	engine := metrics.NewEngine()
	client := loadtest.NewClient(loadtest.ClientConfig{Timeout: 200 * time.Millisecond}, engine)
	scenario := &loadtest.HTTPScenario{Requests: []loadtest.RequestSpec{{
		Name:   "down",
		URL:    "http://127.0.0.1:1/",
		Checks: []check.Check{check.Status(200)},
	}}}

	pool, err := loadtest.NewVUPool(loadtest.PoolConfig{Iterate: scenario.Iteration(), Recorder: engine, Client: client})
	require.NoError(t, err)
	defer pool.Close()

	vu := pool.Spawn()
	waitFor(t, 2*time.Second, func() bool { return vu.Iterations() >= 1 })
	pool.StopAll()
	pool.Drain(2 * time.Second)

	checks := engine.Snapshot(metrics.SeriesChecks)
	require.Greater(t, checks.Count, int64(0))
	assert.Equal(t, checks.Count, checks.Failures)
	assert.Equal(t, int64(0), engine.Snapshot(metrics.SeriesIteration).Failures)
}
