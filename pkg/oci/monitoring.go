package oci

import "context"

// MetricsClient exposes the minimum surface area of the OCI Monitoring API
// needed to check published scheduling telemetry from outside the daemon.
type MetricsClient interface {
	QueryAvailableCPUP95(ctx context.Context, resourceID string, last7d bool) (float32, error)
}
