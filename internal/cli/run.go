package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/loadtest/check"
	"github.com/wesleyorama2/surge/internal/loadtest/config"
	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/output"
	"github.com/wesleyorama2/surge/internal/logging"
)

// Quick mode defaults
const (
	defaultVUs      = 10
	defaultDuration = "30s"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	configFile string

	// quick mode
	name       string
	url        string
	vus        int
	duration   string
	stages     string
	sleep      time.Duration
	status     int
	thresholds []string

	rps      float64
	timeout  time.Duration
	insecure bool

	jsonOutput  bool
	outputPath  string
	metricsAddr string
	quiet       bool

	logLevel  string
	logFormat string
	logOutput string

	progressInterval time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a plan file or from flags.

Plan file mode:
  surge run -c plan.yaml

Quick mode, fixed VU count:
  surge run --url https://quickpizza.grafana.com/ --vus 3 --duration 10s \
    --threshold "http_req_duration=p(95) < 200" \
    --threshold "http_req_failed=rate < 0.1"

Quick mode, staged:
  surge run --url https://quickpizza.grafana.com/ --stages "4s:2,5s:5,3s:0" --sleep 1s

Exit code is 0 when every threshold passed, 1 when a threshold failed or
the run was aborted, and 2 on a configuration error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Plan file (YAML or JSON)")
	f.StringVar(&opts.name, "name", "", "Run name for reporting")
	f.StringVar(&opts.url, "url", "", "URL to test (alternative to --config)")
	f.IntVar(&opts.vus, "vus", 0, "Number of virtual users")
	f.StringVar(&opts.duration, "duration", "", "Test duration (e.g., 10s, 5m)")
	f.StringVar(&opts.stages, "stages", "", "Stages in format 'duration:target,duration:target,...'")
	f.DurationVar(&opts.sleep, "sleep", 0, "Pause between iterations of each VU")
	f.IntVar(&opts.status, "check-status", 0, "Check that every response has this status")
	f.StringArrayVar(&opts.thresholds, "threshold", nil, "Threshold as 'metric=expression' (repeatable)")
	f.Float64Var(&opts.rps, "rps", 0, "Cap on requests per second across all VUs")
	f.DurationVarP(&opts.timeout, "timeout", "t", 0, "HTTP request timeout")
	f.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	f.BoolVar(&opts.jsonOutput, "json", false, "Write the result as JSON to stdout")
	f.StringVar(&opts.outputPath, "out", "", "Write the JSON result to this file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, print only the verdict")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	f.StringVar(&opts.logOutput, "log-output", "stderr", "Log output (stdout, stderr or a file path)")
	f.DurationVar(&opts.progressInterval, "progress-interval", time.Second, "Live progress refresh interval")

	return cmd
}

// runLoadTest executes one run end to end.
func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	plan, err := loadPlan(cmd, opts)
	if err != nil {
		return configError(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       opts.logLevel,
		Format:      opts.logFormat,
		Output:      opts.logOutput,
		ServiceName: "surge",
		Version:     version,
	})
	if err != nil {
		return configError(err)
	}
	defer logger.Close()

	runConfig, err := plan.RunConfig(logger.WithComponent("engine"))
	if err != nil {
		return configError(err)
	}
	runConfig.Metrics = metrics.NewEngineWithConfig(metrics.EngineConfig{Logger: logger.WithComponent("metrics")})

	coord, err := engine.New(runConfig)
	if err != nil {
		return configError(err)
	}

	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, coord.Metrics(), logger.WithComponent("exporter"))
		if err != nil {
			return configError(err)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stdout := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{
		Writer: stdout,
		Quiet:  opts.quiet || opts.jsonOutput,
	})

	exec := runConfig.Executor
	console.PrintHeader(plan.Name, string(exec.Type), exec.TotalDuration(), maxTarget(plan))

	result, err := runWithProgress(ctx, coord, console, opts.progressInterval)
	if err != nil {
		return &ExitError{Code: ExitFailed, Err: err}
	}

	logger.WithDuration(result.Duration).WithFields(logrus.Fields{
		"run_id":     result.RunID,
		"state":      result.State,
		"passed":     result.Passed,
		"iterations": result.Iterations,
	}).Info("load test finished")

	if opts.jsonOutput {
		if err := output.WriteJSON(stdout, result); err != nil {
			return &ExitError{Code: ExitFailed, Err: err}
		}
	} else {
		console.PrintSummary(result)
	}

	if opts.outputPath != "" {
		if err := output.WriteJSONFile(opts.outputPath, result); err != nil {
			return &ExitError{Code: ExitFailed, Err: err}
		}
	}

	return verdict(result)
}

// runWithProgress runs the coordinator while refreshing the live display.
func runWithProgress(ctx context.Context, coord *engine.Coordinator, console *output.Console, interval time.Duration) (*engine.Result, error) {
	type outcome struct {
		result *engine.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := coord.Run(ctx)
		done <- outcome{r, err}
	}()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if coord.State() != engine.StateRunning {
				continue
			}
			stats := output.StatsFromCoordinator(coord)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// verdict maps a finished run to the command's error.
func verdict(result *engine.Result) error {
	if result.Passed {
		return nil
	}

	if result.State == engine.StateAborted {
		return &ExitError{Code: ExitFailed, Err: fmt.Errorf("run aborted: %s", result.AbortReason)}
	}

	failed := result.FailedThresholds()
	names := make([]string, 0, len(failed))
	for _, t := range failed {
		names = append(names, t.Metric+": "+t.Expression)
	}
	return &ExitError{Code: ExitFailed, Err: fmt.Errorf("thresholds failed: %s", strings.Join(names, ", "))}
}

// serveMetrics exposes the aggregator on addr until the returned stop
// function is called.
func serveMetrics(addr string, m *metrics.Engine, log logrus.FieldLogger) (func(), error) {
	handler, err := metrics.Handler(m, "surge")
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics handler: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// loadPlan reads the plan file or builds one from flags, applies flag
// overrides, then defaults and validation.
func loadPlan(cmd *cobra.Command, opts *runOptions) (*config.TestConfig, error) {
	var (
		plan *config.TestConfig
		err  error
	)

	switch {
	case opts.configFile != "":
		plan, err = config.LoadConfig(opts.configFile)
		if err != nil {
			return nil, err
		}
		if err := applyOverrides(cmd, plan, opts); err != nil {
			return nil, err
		}
	case opts.url != "":
		plan, err = buildConfigFromCLI(opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("either --config or --url is required")
	}

	if err := addThresholdFlags(plan, opts.thresholds); err != nil {
		return nil, err
	}

	config.ApplyDefaults(plan)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// buildConfigFromCLI builds a single-request plan from flags.
func buildConfigFromCLI(opts *runOptions) (*config.TestConfig, error) {
	plan := &config.TestConfig{
		Name:        opts.name,
		Description: fmt.Sprintf("Test generated from CLI flags for %s", opts.url),
		Scenario: config.ScenarioConfig{
			Requests: []config.RequestConfig{{
				Name:   "default",
				Method: "GET",
				URL:    opts.url,
			}},
		},
		Options: &config.Options{
			RPS:                opts.rps,
			HTTPTimeout:        config.Duration(opts.timeout),
			InsecureSkipVerify: opts.insecure,
		},
	}
	if plan.Name == "" {
		plan.Name = "CLI Test"
	}

	if opts.status > 0 {
		plan.Scenario.Requests[0].Checks = []check.Config{{Type: "status", Status: opts.status}}
	}
	if opts.sleep > 0 {
		plan.Scenario.Pacing = &config.PacingConfig{Type: "constant", Duration: config.Duration(opts.sleep)}
	}

	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		plan.Stages = stages
		return plan, nil
	}

	vus := opts.vus
	if vus == 0 {
		vus = defaultVUs
	}
	duration := opts.duration
	if duration == "" {
		duration = defaultDuration
	}
	d, err := config.ParseDurationString(duration)
	if err != nil {
		return nil, err
	}
	plan.VUs = vus
	plan.Duration = config.Duration(d)
	return plan, nil
}

// applyOverrides lets explicit flags replace values from the plan file.
func applyOverrides(cmd *cobra.Command, plan *config.TestConfig, opts *runOptions) error {
	flags := cmd.Flags()

	if flags.Changed("name") {
		plan.Name = opts.name
	}

	switch {
	case flags.Changed("stages"):
		stages, err := parseStages(opts.stages)
		if err != nil {
			return fmt.Errorf("invalid stages format: %w", err)
		}
		plan.Stages = stages
		plan.VUs, plan.Duration = 0, 0

	case flags.Changed("vus") || flags.Changed("duration"):
		if flags.Changed("vus") {
			plan.VUs = opts.vus
		}
		if flags.Changed("duration") {
			d, err := config.ParseDurationString(opts.duration)
			if err != nil {
				return err
			}
			plan.Duration = config.Duration(d)
		}
		plan.Stages = nil
	}

	if flags.Changed("sleep") {
		plan.Scenario.Pacing = &config.PacingConfig{Type: "constant", Duration: config.Duration(opts.sleep)}
	}

	if plan.Options == nil {
		plan.Options = &config.Options{}
	}
	if flags.Changed("rps") {
		plan.Options.RPS = opts.rps
	}
	if flags.Changed("timeout") {
		plan.Options.HTTPTimeout = config.Duration(opts.timeout)
	}
	if flags.Changed("insecure") {
		plan.Options.InsecureSkipVerify = opts.insecure
	}
	return nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		d, err := config.ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// addThresholdFlags appends "metric=expression" flags to the plan.
func addThresholdFlags(plan *config.TestConfig, flags []string) error {
	for _, f := range flags {
		metric, expr, ok := strings.Cut(f, "=")
		metric = strings.TrimSpace(metric)
		if !ok || metric == "" || strings.TrimSpace(expr) == "" {
			return fmt.Errorf("invalid threshold %q: expected 'metric=expression'", f)
		}

		if plan.Thresholds == nil {
			plan.Thresholds = make(map[string]config.ThresholdList)
		}
		plan.Thresholds[metric] = append(plan.Thresholds[metric], config.ThresholdConfig{Threshold: strings.TrimSpace(expr)})
	}
	return nil
}

// maxTarget is the highest VU count the plan reaches.
func maxTarget(plan *config.TestConfig) int {
	if len(plan.Stages) == 0 {
		return plan.VUs
	}
	max := 0
	for _, s := range plan.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}
