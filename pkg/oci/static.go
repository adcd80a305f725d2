package oci

import "context"

// NewStaticMetricsClient returns a MetricsClient that always reports the provided value,
// for exercising callers without a live Monitoring backend.
func NewStaticMetricsClient(value float32) MetricsClient {
	return &staticMetricsClient{value: value}
}

type staticMetricsClient struct {
	value float32
}

func (c *staticMetricsClient) QueryAvailableCPUP95(context.Context, string, bool) (float32, error) {
	return c.value, nil
}
