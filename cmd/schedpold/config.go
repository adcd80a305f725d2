package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"adaptivecpu-schedpol/pkg/sched"
)

const (
	envKp            = "SCHEDPOL_KP"
	envKi            = "SCHEDPOL_KI"
	envKd            = "SCHEDPOL_KD"
	envNegDelta      = "SCHEDPOL_NEG_DELTA"
	envTickInterval  = "SCHEDPOL_TICK_INTERVAL"
	envHTTPBind      = "SCHEDPOL_HTTP_ADDR"
	envCompartmentID = "OCI_COMPARTMENT_ID"
	envCSVPath       = "SCHEDPOL_CSV_PATH"
	envCachePath     = "SCHEDPOL_ATTR_CACHE_PATH"
)

type runtimeConfig struct {
	Controller sched.Config
	Tick       tickConfig
	HTTP       httpConfig
	OCI        ociConfig
	Telemetry  telemetryConfig
}

type tickConfig struct {
	Interval time.Duration
}

type httpConfig struct {
	Bind string
}

type ociConfig struct {
	CompartmentID string
}

type telemetryConfig struct {
	CSVPath   string
	CachePath string
}

type fileConfig struct {
	Controller controllerFileConfig `yaml:"controller"`
	Tick       tickFileConfig       `yaml:"tick"`
	HTTP       httpFileConfig       `yaml:"http"`
	OCI        ociFileConfig        `yaml:"oci"`
	Telemetry  telemetryFileConfig  `yaml:"telemetry"`
}

type controllerFileConfig struct {
	Kp       *float64 `yaml:"kp"`
	Ki       *float64 `yaml:"ki"`
	Kd       *float64 `yaml:"kd"`
	NegDelta *int64   `yaml:"negDelta"`
}

type tickFileConfig struct {
	Interval *time.Duration `yaml:"interval"`
}

type httpFileConfig struct {
	Bind *string `yaml:"bind"`
}

type ociFileConfig struct {
	CompartmentID *string `yaml:"compartmentId"`
}

type telemetryFileConfig struct {
	CSVPath   *string `yaml:"csvPath"`
	CachePath *string `yaml:"cachePath"`
}

const defaultTickInterval = time.Second

func defaultRuntimeConfig() runtimeConfig {
	var cfg runtimeConfig

	cfg.Controller = sched.DefaultConfig()
	cfg.Tick.Interval = defaultTickInterval
	cfg.HTTP.Bind = ":9109"
	cfg.Telemetry.CSVPath = ""
	cfg.Telemetry.CachePath = ""

	return cfg
}

func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		mergeControllerConfig(&cfg.Controller, fileCfg.Controller)
		mergeTickConfig(&cfg.Tick, fileCfg.Tick)
		mergeHTTPConfig(&cfg.HTTP, fileCfg.HTTP)
		mergeOCIConfig(&cfg.OCI, fileCfg.OCI)
		mergeTelemetryConfig(&cfg.Telemetry, fileCfg.Telemetry)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeControllerConfig(dst *sched.Config, src controllerFileConfig) {
	assignFloat(&dst.Kp, src.Kp)
	assignFloat(&dst.Ki, src.Ki)
	assignFloat(&dst.Kd, src.Kd)
	assignInt64(&dst.NegDelta, src.NegDelta)
}

func mergeTickConfig(dst *tickConfig, src tickFileConfig) {
	assignDuration(&dst.Interval, src.Interval)
}

func mergeHTTPConfig(dst *httpConfig, src httpFileConfig) {
	assignString(&dst.Bind, src.Bind)
}

func mergeOCIConfig(dst *ociConfig, src ociFileConfig) {
	assignString(&dst.CompartmentID, src.CompartmentID)
}

func mergeTelemetryConfig(dst *telemetryConfig, src telemetryFileConfig) {
	assignString(&dst.CSVPath, src.CSVPath)
	assignString(&dst.CachePath, src.CachePath)
}

func applyEnvOverrides(cfg *runtimeConfig) {
	cfg.Controller.Kp = envFloat(envKp, cfg.Controller.Kp)
	cfg.Controller.Ki = envFloat(envKi, cfg.Controller.Ki)
	cfg.Controller.Kd = envFloat(envKd, cfg.Controller.Kd)
	cfg.Controller.NegDelta = envInt64(envNegDelta, cfg.Controller.NegDelta)
	cfg.Tick.Interval = envDuration(envTickInterval, cfg.Tick.Interval)
	cfg.HTTP.Bind = envString(envHTTPBind, cfg.HTTP.Bind)
	cfg.OCI.CompartmentID = envString(envCompartmentID, cfg.OCI.CompartmentID)
	cfg.Telemetry.CSVPath = envString(envCSVPath, cfg.Telemetry.CSVPath)
	cfg.Telemetry.CachePath = envString(envCachePath, cfg.Telemetry.CachePath)

	if cfg.Tick.Interval <= 0 {
		cfg.Tick.Interval = defaultTickInterval
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func assignInt64(target *int64, value *int64) {
	if value != nil {
		*target = *value
	}
}

func assignDuration(target *time.Duration, value *time.Duration) {
	if value != nil {
		*target = *value
	}
}

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func envFloat(key string, fallback float64) float64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)

	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	duration, err := time.ParseDuration(trimmed)
	if err != nil {
		return fallback
	}

	return duration
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	return strings.TrimSpace(value)
}
