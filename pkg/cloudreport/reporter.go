// Package cloudreport mirrors each scheduling tick's headline numbers to
// OCI Monitoring, guarded by a circuit breaker so a Monitoring outage never
// blocks a tick.
package cloudreport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"adaptivecpu-schedpol/pkg/sched"
)

const (
	monitoringNamespace = "schedpol_tick"
	metricAvailableCPU  = "available_cpu"
	metricScheduled     = "scheduled_total"
	metricSkipped       = "skipped_total"
	metricErrored       = "errored_total"
)

var errMissingCompartmentID = errors.New("cloudreport: compartment ID is required")

// metricsPublisher is the narrow surface cloudreport needs from the OCI
// Monitoring API, mirroring the metricsClient seam used for queries
// elsewhere in this module's OCI-facing code.
type metricsPublisher interface {
	PostMetricData(
		ctx context.Context,
		request monitoring.PostMetricDataRequest,
	) (monitoring.PostMetricDataResponse, error)
}

// Reporter publishes TickReport summaries to OCI Monitoring.
type Reporter struct {
	publisher     metricsPublisher
	compartmentID string
	resourceID    string
	breaker       *gobreaker.CircuitBreaker
	logger        *zap.Logger
	now           func() time.Time
}

// NewInstancePrincipalReporter builds a Reporter authenticated via instance
// principal, the same authentication path used by the OCI metrics query
// client elsewhere in this module. resourceID, when non-empty, is attached
// to every published datapoint as a dimension (typically the instance OCID
// resolved from IMDS).
func NewInstancePrincipalReporter(compartmentID, resourceID string, logger *zap.Logger) (*Reporter, error) {
	if compartmentID == "" {
		return nil, errMissingCompartmentID
	}

	provider, err := auth.InstancePrincipalConfigurationProvider()
	if err != nil {
		return nil, fmt.Errorf("build instance principal provider: %w", err)
	}

	client, err := monitoring.NewMonitoringClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("create monitoring client: %w", err)
	}

	reporter := newReporter(&client, compartmentID, logger)
	reporter.resourceID = resourceID

	return reporter, nil
}

func newReporter(publisher metricsPublisher, compartmentID string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "cloudreport-monitoring",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})

	return &Reporter{
		publisher:     publisher,
		compartmentID: compartmentID,
		breaker:       breaker,
		logger:        logger,
		now:           time.Now,
	}
}

// Publish mirrors one tick's headline numbers to Monitoring. Failures
// (including an open breaker) are logged and swallowed: cloud reporting is
// strictly best-effort and must never affect the scheduling core.
func (r *Reporter) Publish(ctx context.Context, report sched.TickReport) {
	request := r.buildRequest(report)

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return r.publisher.PostMetricData(ctx, request)
	})
	if err != nil {
		r.logger.Warn("cloud tick report publish failed", zap.Error(err))
	}
}

func (r *Reporter) buildRequest(report sched.TickReport) monitoring.PostMetricDataRequest {
	timestamp := common.SDKTime{Time: r.now().UTC()}

	var dimensions map[string]string
	if r.resourceID != "" {
		dimensions = map[string]string{"resourceId": r.resourceID}
	}

	datapoint := func(name string, value float64) monitoring.MetricDataDetails {
		namespace := monitoringNamespace
		metricName := name
		compartmentID := r.compartmentID

		return monitoring.MetricDataDetails{
			Namespace:     &namespace,
			CompartmentId: &compartmentID,
			Name:          &metricName,
			Dimensions:    dimensions,
			Datapoints: []monitoring.Datapoint{
				{Timestamp: &timestamp, Value: common.Float64(value)},
			},
		}
	}

	details := monitoring.PostMetricDataDetails{
		MetricData: []monitoring.MetricDataDetails{
			datapoint(metricAvailableCPU, float64(report.AvailableCPU)),
			datapoint(metricScheduled, float64(report.Scheduled)),
			datapoint(metricSkipped, float64(report.Skipped)),
			datapoint(metricErrored, float64(report.Errored)),
		},
	}

	var request monitoring.PostMetricDataRequest

	request.PostMetricDataDetails = details

	return request
}
