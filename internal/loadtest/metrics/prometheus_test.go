package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	engine := NewEngine()
	engine.Record(obs(SeriesHTTPReq, 20*time.Millisecond, false))
	engine.Record(obs(SeriesHTTPReq, 40*time.Millisecond, true))
	engine.SetActiveVUs(2)

	c := NewCollector(engine, "surge")

	expected := `
# HELP surge_active_vus Number of currently active virtual users
# TYPE surge_active_vus gauge
surge_active_vus 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected), "surge_active_vus")
	require.NoError(t, err)

	expected = `
# HELP surge_failures_total Total number of failed observations per series
# TYPE surge_failures_total counter
surge_failures_total{series="http_req"} 1
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected), "surge_failures_total")
	require.NoError(t, err)
}

func TestHandler(t *testing.T) {
	engine := NewEngine()
	engine.Record(obs(SeriesIteration, time.Millisecond, false))

	h, err := Handler(engine, "")
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `surge_observations_total{series="iteration"} 1`)
	assert.Contains(t, string(body), "surge_latency_seconds_count")
}

func TestCollector_InvalidUTF8Names(t *testing.T) {
	engine := NewEngine()
	for _, name := range []string{"\xff\xfe menu", "\xfe\xff menu", "home"} {
		o := obs(SeriesHTTPReq, 10*time.Millisecond, false)
		o.Tags = map[string]string{"name": name}
		engine.Record(o)
	}

	c := NewCollector(engine, "surge")
	assert.NotPanics(t, func() {
		// http_req plus one entry per distinct sanitized name
		assert.Equal(t, 3, testutil.CollectAndCount(c, "surge_observations_total"))
	})

	h, err := Handler(engine, "surge")
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `series="http_req[name:home]"`)
	assert.Contains(t, string(body), "\uFFFD menu")
}
