// Package main wires the adaptive CPU scheduler daemon entrypoint.
package main

//nolint:depguard // main wires project-internal modules and zap logging
import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"adaptivecpu-schedpol/internal/buildinfo"
	"adaptivecpu-schedpol/internal/telemetry"
	"adaptivecpu-schedpol/pkg/cloudreport"
	"adaptivecpu-schedpol/pkg/est"
	"adaptivecpu-schedpol/pkg/hostsim"
	httpmetrics "adaptivecpu-schedpol/pkg/http/metrics"
	"adaptivecpu-schedpol/pkg/http/status"
	"adaptivecpu-schedpol/pkg/imds"
	"adaptivecpu-schedpol/pkg/sched"
)

const (
	defaultConfigPath = "/etc/schedpold/config.yaml"
	defaultLogLevel   = "info"
	modeDryRun        = "dry-run"
	modeEnforce       = "enforce"
	modeNoop          = "noop"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type runDeps struct {
	newLogger  func(level string) (*zap.Logger, error)
	loadConfig func(path string) (runtimeConfig, error)
	newHost    func(cfg runtimeConfig) sched.Host
	newIMDS    func() imds.Client
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:  newLogger,
		loadConfig: loadConfig,
		newHost:    defaultHostFactory,
		newIMDS:    func() imds.Client { return imds.NewClient(&http.Client{Timeout: 500 * time.Millisecond}) },
	}
}

func run(ctx context.Context, args []string, deps runDeps, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err) //nolint:errcheck

		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err) //nolint:errcheck

		return exitCodeRuntimeError
	}

	defer func() {
		_ = logger.Sync()
	}()

	info := buildinfo.Current()
	logger.Info(
		"starting schedpold",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("configPath", opts.configPath),
		zap.String("mode", opts.mode),
	)

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))

		return exitCodeRuntimeError
	}

	host := deps.newHost(cfg)

	controllerHost := host
	if cfg.Telemetry.CachePath != "" {
		controllerHost = &cachingHost{
			Host:  host,
			attrs: sched.NewAttributeCache(host.AttributeStore(), cfg.Telemetry.CachePath),
		}
	}

	controller := sched.NewController(controllerHost, cfg.Controller, logger)

	metricsExporter := httpmetrics.NewExporter()
	statusHandler := status.NewHandler()

	var reporter *cloudreport.Reporter

	if cfg.OCI.CompartmentID != "" {
		resourceID := resolveResourceID(ctx, deps.newIMDS(), logger)

		reporter, err = cloudreport.NewInstancePrincipalReporter(cfg.OCI.CompartmentID, resourceID, logger)
		if err != nil {
			logger.Warn("cloud reporting disabled: failed to build OCI reporter", zap.Error(err))

			reporter = nil
		}
	}

	var csvWriter *telemetry.TickWriter

	if cfg.Telemetry.CSVPath != "" {
		file, err := os.OpenFile(cfg.Telemetry.CSVPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("csv telemetry disabled: failed to open file", zap.Error(err))
		} else {
			defer func() { _ = file.Close() }()

			csvWriter = telemetry.NewTickWriter(file)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsExporter)
	mux.Handle("/healthz", statusHandler)

	server := &http.Server{Addr: cfg.HTTP.Bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	defer func() { _ = server.Close() }()

	if opts.mode == modeNoop {
		logger.Info("noop mode: exiting without scheduling")

		return exitCodeSuccess
	}

	if simHost, ok := host.(*hostsim.Host); ok {
		go feedDemoUsageFromHostCPU(ctx, simHost, cfg.Tick.Interval)
	}

	runErr := tickLoop(ctx, controller, cfg.Tick.Interval, logger, metricsExporter, statusHandler, reporter, csvWriter)
	if runErr != nil {
		logger.Error("tick loop failed", zap.Error(runErr))

		return exitCodeRuntimeError
	}

	return exitCodeSuccess
}

func tickLoop(
	ctx context.Context,
	controller *sched.Controller,
	interval time.Duration,
	logger *zap.Logger,
	metricsExporter *httpmetrics.Exporter,
	statusHandler *status.Handler,
	reporter *cloudreport.Reporter,
	csvWriter *telemetry.TickWriter,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, report, err := controller.Schedule(ctx)

			metricsExporter.Observe(report)
			statusHandler.Observe(report, err)

			if err != nil {
				logger.Error("tick failed", zap.Error(err))

				continue
			}

			if reporter != nil {
				reporter.Publish(ctx, report)
			}

			if csvWriter != nil {
				if werr := csvWriter.WriteTick(report); werr != nil {
					logger.Warn("csv telemetry write failed", zap.Error(werr))
				}
			}
		}
	}
}

// resolveResourceID asks IMDS for the running instance's OCID, for tagging
// published telemetry. IMDS is unreachable outside OCI, so failures are
// logged at debug level and resourceID is simply left blank.
func resolveResourceID(ctx context.Context, client imds.Client, logger *zap.Logger) string {
	id, err := client.InstanceID(ctx)
	if err != nil {
		logger.Debug("instance metadata unavailable, publishing without resourceId dimension", zap.Error(err))

		return ""
	}

	return id
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	err := cfg.Level.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

type options struct {
	configPath string
	logLevel   string
	mode       string
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("schedpold", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the scheduler configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.mode, "mode", modeDryRun, "Scheduler mode to use (dry-run, enforce, noop)")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.mode = strings.ToLower(strings.TrimSpace(opts.mode))
	if opts.mode == "" {
		opts.mode = modeDryRun
	}

	if !isValidMode(opts.mode) {
		return options{}, fmt.Errorf(
			"%w: %q (supported: %s, %s, %s)",
			errUnsupportedMode, opts.mode, modeDryRun, modeEnforce, modeNoop,
		)
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}

	return opts, nil
}

var (
	errInvalidLogLevel = errors.New("invalid log level")
	errUnsupportedMode = errors.New("unsupported mode provided")
)

func isValidMode(mode string) bool {
	switch mode {
	case modeDryRun, modeEnforce, modeNoop:
		return true
	default:
		return false
	}
}

// cachingHost decorates a sched.Host, replacing its AttributeStore with one
// backed by an on-disk, file-lock-guarded cache (sched.AttributeCache) so
// ierr/derr survive a process restart even when the underlying host (e.g.
// pkg/hostsim's in-memory reference implementation) does not persist them
// itself. Every other method is forwarded to the embedded Host unchanged.
type cachingHost struct {
	sched.Host
	attrs sched.AttributeStore
}

func (h *cachingHost) AttributeStore() sched.AttributeStore { return h.attrs }

//nolint:ireturn // factory intentionally hides host implementation
func defaultHostFactory(cfg runtimeConfig) sched.Host {
	_ = cfg

	host := hostsim.New(demoBudget, []string{"cpu0", "cpu1", "cpu2", "cpu3"})

	host.AddApp(hostsim.AppSpec{ID: "demo-app-1", State: sched.StateReady})
	host.AddApp(hostsim.AppSpec{ID: "demo-app-2", State: sched.StateReady})

	return host
}

const demoBudget = 1000

// feedDemoUsageFromHostCPU drives the demo applications' reported CPU usage
// from real /proc/stat utilisation samples, so the reference CLI demonstrates
// the PID loop reacting to actual, changing load instead of a fixed number.
// It runs until ctx is cancelled; sampler errors (e.g. a non-Linux host)
// simply stop the feed, leaving the demo host's last usage values in place.
func feedDemoUsageFromHostCPU(ctx context.Context, host *hostsim.Host, interval time.Duration) {
	if interval <= 0 {
		interval = defaultTickInterval
	}

	sampler := est.NewSampler(est.FileSource{}, interval)

	for obs := range sampler.Run(ctx) {
		if obs.Err != nil {
			return
		}

		host.SetUsageAll(int64(obs.Utilisation * float64(demoBudget)))
	}
}
