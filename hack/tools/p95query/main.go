// Command p95query prints the trailing P95 available_cpu figure cloudreport
// published for a resource, as a quick operator sanity check that scheduling
// telemetry is actually reaching Monitoring.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"adaptivecpu-schedpol/pkg/oci"
)

const defaultTimeout = 30 * time.Second

var (
	errMissingInstance    = errors.New("resource OCID is required")
	errMissingCompartment = errors.New("compartment OCID is required")
)

type queryConfig struct {
	resourceID    string
	compartmentID string
	last7d        bool
	timeout       time.Duration
	allowEmpty    bool
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		logFatal(err)
	}

	err = runQuery(cfg)
	if err != nil {
		logFatal(err)
	}
}

//nolint:gochecknoglobals // test seam for injecting fake clients
var newMetricsClient = func(
	compartmentID string,
) (oci.MetricsClient, error) {
	return oci.NewInstancePrincipalClient(compartmentID)
}

func parseConfig(args []string) (queryConfig, error) {
	var cfg queryConfig

	flags := flag.NewFlagSet("p95query", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.StringVar(&cfg.resourceID, "resource", "", "resourceId dimension of the published metrics to query")
	flags.StringVar(
		&cfg.compartmentID,
		"compartment",
		"",
		"Compartment OCID scoped for Monitoring queries",
	)
	flags.BoolVar(
		&cfg.last7d,
		"last7d",
		true,
		"Query the trailing seven days instead of the last 24 hours",
	)
	flags.DurationVar(
		&cfg.timeout,
		"timeout",
		defaultTimeout,
		"Timeout for the Monitoring API request",
	)
	flags.BoolVar(
		&cfg.allowEmpty,
		"allow-empty",
		false,
		"Exit successfully when Monitoring returns no datapoints",
	)

	err := flags.Parse(args)
	if err != nil {
		return queryConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	return cfg, nil
}

func runQuery(cfg queryConfig) error {
	if cfg.resourceID == "" {
		return errMissingInstance
	}

	if cfg.compartmentID == "" {
		return errMissingCompartment
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	client, err := newMetricsClient(cfg.compartmentID)
	if err != nil {
		return fmt.Errorf("build instance principal client: %w", err)
	}

	value, err := client.QueryAvailableCPUP95(ctx, cfg.resourceID, cfg.last7d)
	if err != nil {
		if errors.Is(err, oci.ErrNoMetricsData) && cfg.allowEmpty {
			log.Printf("no metrics returned for %s", cfg.resourceID)

			return nil
		}

		return fmt.Errorf("query available cpu P95: %w", err)
	}

	log.Printf("P95 available CPU for %s: %.2f", cfg.resourceID, value)

	return nil
}

func logFatal(err error) {
	log.Printf("error: %v", err)
	os.Exit(1)
}
