package sched

// tickState carries the values that live exactly one Schedule call. It is
// threaded explicitly through the decision engine rather than held as
// ambient module state, so ticks stay independent and easy to test.
type tickState struct {
	availableCPU     int64
	nrRunApps        int
	nrNotRunApps     int
	quotaNotRunApps  int64
	view             ViewToken
}

// outcome classifies what happened to one application during a tick, for
// TickReport consumption by the ambient telemetry and metrics layers.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeSkip
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "OK"
	case outcomeSkip:
		return "SKIP"
	case outcomeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
