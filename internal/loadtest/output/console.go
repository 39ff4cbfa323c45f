// Package output renders load test progress and results.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fatih/color"

	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// ANSI cursor control for the live display
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	ruleWidth      = 56
	labelWidth     = 28
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration
	Phase    string

	ActiveVUs int

	Requests   int64
	Failures   int64
	RPS        float64
	LatencyP95 time.Duration

	Iterations int64
}

// Console writes the live display and the end-of-run summary.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	NoColors    bool
	ForceTTY    bool
}

// NewConsole creates a console writer. Colors are used only when the writer
// is a terminal, unless forced either way.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColors:
		colors = NoColorScheme()
	case config.ForceColors:
		colors = ForceColorScheme()
	case isTTY && supportsColors():
		colors = DefaultColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: config.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(name, executorType string, duration time.Duration, maxVUs int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = "surge"
	}
	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - Running [%s]", c.colors.Title.Sprint(name), executorType))
	c.writeln(fmt.Sprintf("up to %d VUs over %s", maxVUs, formatDuration(duration)))
	c.writeln(rule)
	c.writeln("")
}

// Update redraws the live display in place. It does nothing unless the
// output is a terminal; see PrintNonInteractiveUpdate.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status, for CI logs and
// redirected output.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %.0f%% | %s | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.Phase,
		stats.ActiveVUs,
		stats.Requests,
		stats.RPS,
		stats.Failures,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	bar := renderProgressBar(stats.Progress, 40)
	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Pass.Sprint(bar),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Muted.Sprint(formatDuration(stats.Elapsed))),
		fmt.Sprintf("Phase:    %s", c.colors.Phase.Sprint(stats.Phase)),
		fmt.Sprintf("VUs: %s  Reqs: %s  RPS: %s  Errors: %s  P95: %s",
			c.colors.Value.Sprint(stats.ActiveVUs),
			c.colors.Value.Sprint(formatNumber(stats.Requests)),
			c.colors.Value.Sprintf("%.1f", stats.RPS),
			c.errorColor(stats.Failures, stats.Requests).Sprint(stats.Failures),
			c.colors.Value.Sprint(formatDurationShort(stats.LatencyP95))),
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the end-of-run report.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	name := result.Name
	if name == "" {
		name = "surge"
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(name), c.status(result)))
	c.writeln(rule)
	c.writeln("")

	c.field("Run ID", result.RunID)
	c.field("Executor", result.Executor)
	c.field("Duration", formatDuration(result.Duration))
	c.field("Iterations", fmt.Sprintf("%s complete, %s failed",
		formatNumber(result.CompletedIterations()), formatNumber(result.FailedIterations)))
	c.field("VUs", fmt.Sprintf("max %d, %d spawned", result.MaxVUs, result.SpawnedVUs))
	c.field("Data", fmt.Sprintf("%s sent, %s received",
		bytefmt.ByteSize(uint64(result.DataSent)), bytefmt.ByteSize(uint64(result.DataReceived))))
	c.writeln("")

	c.printMetrics(result)
	c.printThresholds(result)
	c.printWarnings(result)
}

func (c *Console) status(result *engine.Result) string {
	switch {
	case result.State == engine.StateAborted:
		return c.colors.Fail.Sprintf("Aborted (%s) ✗", result.AbortReason)
	case result.Passed:
		return c.colors.Pass.Sprint("Passed ✓")
	default:
		return c.colors.Fail.Sprint("Failed ✗")
	}
}

func (c *Console) printMetrics(result *engine.Result) {
	if len(result.Metrics) == 0 {
		return
	}

	secs := result.Duration.Seconds()
	c.writeln(c.colors.Label.Sprint("Metrics:"))

	if s, ok := result.Metrics[metrics.SeriesChecks]; ok {
		c.metricLine("checks", passRate(s))
	}
	if s, ok := result.Metrics[metrics.SeriesHTTPReq]; ok {
		c.metricLine("http_req_duration", trend(s))
		c.metricLine("http_req_failed", failRate(s))
		c.metricLine("http_reqs", counter(s, secs))
	}
	if s, ok := result.Metrics[metrics.SeriesIteration]; ok {
		c.metricLine("iteration_duration", trend(s))
		c.metricLine("iterations", counter(s, secs))
	}

	// sub-metrics and custom series
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		switch name {
		case metrics.SeriesChecks, metrics.SeriesHTTPReq, metrics.SeriesIteration:
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := result.Metrics[name]
		switch {
		case strings.HasPrefix(name, metrics.SeriesHTTPReq+"{"):
			c.metricLine("http_req_duration"+strings.TrimPrefix(name, metrics.SeriesHTTPReq), trend(s))
		case strings.HasPrefix(name, metrics.SeriesChecks+"{"):
			c.metricLine(name, passRate(s))
		case strings.HasPrefix(name, metrics.SeriesIteration+"{"):
			c.metricLine("iteration_duration"+strings.TrimPrefix(name, metrics.SeriesIteration), trend(s))
		default:
			c.metricLine(name, trend(s))
		}
	}
	c.writeln("")
}

func (c *Console) printThresholds(result *engine.Result) {
	if len(result.Thresholds) == 0 {
		return
	}

	c.writeln(c.colors.Label.Sprint("Thresholds:"))
	for _, t := range result.Thresholds {
		mark := c.colors.Pass.Sprint("✓")
		if !t.Passed {
			mark = c.colors.Fail.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s: %s (actual: %s)", mark, t.Metric, t.Expression, formatValue(t.Value)))
	}
	c.writeln("")
}

func (c *Console) printWarnings(result *engine.Result) {
	var warnings []string
	if t := result.AbortTrigger; t != nil {
		warnings = append(warnings, fmt.Sprintf("run aborted by threshold %s: %s", t.Metric, t.Expression))
	}
	if result.AbandonedVUs > 0 {
		warnings = append(warnings, fmt.Sprintf("%d VUs abandoned after graceful stop", result.AbandonedVUs))
	}
	if result.DroppedObservations > 0 {
		warnings = append(warnings, fmt.Sprintf("%d malformed observations dropped", result.DroppedObservations))
	}
	if result.DiscardedObservations > 0 {
		warnings = append(warnings, fmt.Sprintf("%d late observations discarded", result.DiscardedObservations))
	}

	for _, w := range warnings {
		c.writeln(c.colors.Warn.Sprint("! " + w))
	}
	if len(warnings) > 0 {
		c.writeln("")
	}
}

func (c *Console) field(label, value string) {
	c.writeln(fmt.Sprintf("%-14s %s", label+":", c.colors.Value.Sprint(value)))
}

func (c *Console) metricLine(name, value string) {
	dots := labelWidth - len(name)
	if dots < 3 {
		dots = 3
	}
	c.writeln(fmt.Sprintf("  %s %s %s", name, c.colors.Muted.Sprint(strings.Repeat(".", dots)), value))
}

// errorColor grades the failure ratio: green up to 1%, yellow up to 5%.
func (c *Console) errorColor(failures, total int64) *color.Color {
	if total == 0 || failures == 0 {
		return c.colors.Pass
	}
	ratio := float64(failures) / float64(total)
	switch {
	case ratio > 0.05:
		return c.colors.Fail
	case ratio > 0.01:
		return c.colors.Warn
	default:
		return c.colors.Pass
	}
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func trend(s metrics.Summary) string {
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
		formatDurationShort(s.Mean),
		formatDurationShort(s.Min),
		formatDurationShort(s.P50),
		formatDurationShort(s.Max),
		formatDurationShort(s.P90),
		formatDurationShort(s.P95))
}

func failRate(s metrics.Summary) string {
	return fmt.Sprintf("%.2f%% (%s of %s)", s.FailureRate*100, formatNumber(s.Failures), formatNumber(s.Count))
}

func passRate(s metrics.Summary) string {
	return fmt.Sprintf("%.2f%% (%s of %s)", s.SuccessRate()*100, formatNumber(s.Successes()), formatNumber(s.Count))
}

func counter(s metrics.Summary, secs float64) string {
	rate := 0.0
	if secs > 0 {
		rate = float64(s.Count) / secs
	}
	return fmt.Sprintf("%s %.2f/s", formatNumber(s.Count), rate)
}
