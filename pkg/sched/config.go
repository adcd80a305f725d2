package sched

// Config holds the four tunable controller coefficients. It is loaded once
// at startup and treated as read-only for the life of the process, the way
// adapt.Config is built once by DefaultConfig and then passed down to
// NewAdaptiveController in the host program this module was extracted from.
type Config struct {
	// NegDelta is substituted for prev_delta when an application's
	// observed usage has saturated its quota.
	NegDelta int64 `yaml:"negDelta"`
	// Kp, Ki, Kd are the proportional, integral, and derivative gains.
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// DefaultConfig returns the coefficients used when no override is supplied.
// These mirror the values carried by the original policy's plugin manifest.
func DefaultConfig() Config {
	return Config{
		NegDelta: -10,
		Kp:       0.5,
		Ki:       0.25,
		Kd:       0.1,
	}
}
