package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"adaptivecpu-schedpol/pkg/hostsim"
	"adaptivecpu-schedpol/pkg/sched"
)

var errStubLoggerBoom = errors.New("logger failure")

func TestParseArgsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != defaultConfigPath {
		t.Fatalf("expected default config path, got %q", opts.configPath)
	}

	if opts.logLevel != defaultLogLevel {
		t.Fatalf("expected default log level, got %q", opts.logLevel)
	}

	if opts.mode != modeDryRun {
		t.Fatalf("expected default mode, got %q", opts.mode)
	}
}

func TestParseArgsValidCustomizations(t *testing.T) {
	t.Parallel()

	args := []string{"--config", "./testdata/config.yaml", "--log-level", "debug", "--mode", "enforce"}

	opts, err := parseArgs(args)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != "./testdata/config.yaml" {
		t.Fatalf("unexpected config path: %q", opts.configPath)
	}

	if opts.logLevel != "debug" {
		t.Fatalf("unexpected log level: %q", opts.logLevel)
	}

	if opts.mode != modeEnforce {
		t.Fatalf("unexpected mode: %q", opts.mode)
	}
}

func TestParseArgsTrimsAndLowercasesMode(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"--mode", "  NOOP ", "--log-level", " info "})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.mode != modeNoop {
		t.Fatalf("expected trimmed lowercase mode, got %q", opts.mode)
	}

	if opts.logLevel != defaultLogLevel {
		t.Fatalf("expected trimmed log level, got %q", opts.logLevel)
	}
}

func TestParseArgsRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"--mode", "observe"})
	if err == nil {
		t.Fatal("expected error for unsupported mode")
	}

	if !errors.Is(err, errUnsupportedMode) {
		t.Fatalf("expected errUnsupportedMode, got %v", err)
	}
}

func TestParseArgsReturnsFlagError(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"--unknown-flag"})
	if err == nil {
		t.Fatal("expected flag parsing error")
	}
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := newLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error when creating logger with invalid level")
	}

	if !errors.Is(err, errInvalidLogLevel) {
		t.Fatalf("expected errInvalidLogLevel, got %v", err)
	}
}

func TestNewLoggerAppliesLevel(t *testing.T) {
	t.Parallel()

	logger, err := newLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected logger to enable debug level")
	}
}

func TestRunNoopModeSkipsTickLoop(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	deps := defaultRunDeps()
	deps.newLogger = func(string) (*zap.Logger, error) { return logger, nil }
	deps.loadConfig = func(string) (runtimeConfig, error) { return defaultRuntimeConfig(), nil }
	deps.newHost = func(runtimeConfig) sched.Host { return hostsim.New(100, []string{"cpu0"}) }

	exitCode := run(t.Context(), []string{"--mode", "noop"}, deps, io.Discard)
	if exitCode != exitCodeSuccess {
		t.Fatalf("expected zero exit code, got %d", exitCode)
	}

	if len(observed.FilterMessage("noop mode: exiting without scheduling").All()) != 1 {
		t.Fatalf("expected noop log entry, got %+v", observed.All())
	}
}

func TestRunReturnsParseErrorExitCode(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	deps := defaultRunDeps()

	exitCode := run(t.Context(), []string{"--mode", "invalid"}, deps, &stderr)
	if exitCode != exitCodeParseError {
		t.Fatalf("expected exit code %d, got %d", exitCodeParseError, exitCode)
	}

	if got := stderr.String(); !strings.Contains(got, "unsupported mode") {
		t.Fatalf("expected unsupported mode message, got %q", got)
	}
}

func TestRunReturnsRuntimeErrorWhenLoggerFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	deps := defaultRunDeps()
	deps.newLogger = func(string) (*zap.Logger, error) { return nil, errStubLoggerBoom }

	exitCode := run(t.Context(), nil, deps, &stderr)
	if exitCode != exitCodeRuntimeError {
		t.Fatalf("expected exit code %d, got %d", exitCodeRuntimeError, exitCode)
	}

	if got := stderr.String(); !strings.Contains(got, "failed to configure logger") {
		t.Fatalf("expected logger configuration failure message, got %q", got)
	}
}

func TestRunReturnsRuntimeErrorWhenConfigFails(t *testing.T) {
	t.Parallel()

	deps := defaultRunDeps()
	deps.loadConfig = func(string) (runtimeConfig, error) { return runtimeConfig{}, errStubLoggerBoom }

	exitCode := run(t.Context(), nil, deps, io.Discard)
	if exitCode != exitCodeRuntimeError {
		t.Fatalf("expected exit code %d, got %d", exitCodeRuntimeError, exitCode)
	}
}

func TestRunTicksUntilContextCancellation(t *testing.T) {
	t.Parallel()

	deps := defaultRunDeps()
	deps.loadConfig = func(string) (runtimeConfig, error) {
		cfg := defaultRuntimeConfig()
		cfg.Tick.Interval = 5 * time.Millisecond
		cfg.HTTP.Bind = "127.0.0.1:0"

		return cfg, nil
	}

	host := hostsim.New(100, []string{"cpu0"})
	host.AddApp(hostsim.AppSpec{ID: "app1", State: sched.StateReady})
	deps.newHost = func(runtimeConfig) sched.Host { return host }

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	exitCode := run(ctx, []string{"--mode", "enforce"}, deps, io.Discard)
	if exitCode != exitCodeSuccess {
		t.Fatalf("expected zero exit code, got %d", exitCode)
	}
}

func TestIsValidMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{modeDryRun, modeEnforce, modeNoop} {
		if !isValidMode(mode) {
			t.Fatalf("expected %q to be valid", mode)
		}
	}

	if isValidMode("bogus") {
		t.Fatal("expected bogus mode to be invalid")
	}
}

func TestDefaultHostFactorySeedsDemoApplications(t *testing.T) {
	t.Parallel()

	host := defaultHostFactory(defaultRuntimeConfig())

	count, err := host.SchedulablesCount(context.Background(), sched.StateReady)
	if err != nil {
		t.Fatalf("SchedulablesCount returned error: %v", err)
	}

	if count != 2 {
		t.Fatalf("expected two seeded demo applications, got %d", count)
	}
}

func TestMainSuccessDoesNotExit(t *testing.T) { //nolint:paralleltest // mutates process-wide state
	originalArgs := os.Args

	defer func() { os.Args = originalArgs }()

	os.Args = []string{"schedpold", "--mode", "noop", "--log-level", "error"}

	main()
}
