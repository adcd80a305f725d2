// Package sched implements the adaptive CPU quota scheduling policy: a
// per-tick decision engine that assigns each managed application a share of
// available processing-element bandwidth based on its recent usage.
package sched

import "fmt"

// AppID is an opaque application handle supplied by the host. The engine
// never interprets it beyond equality and a printable short form.
type AppID string

// String renders the identifier for logging.
func (id AppID) String() string {
	return string(id)
}

// SchedulableState is the subset of application lifecycle state the engine
// cares about when partitioning a tick's iteration passes.
type SchedulableState int

const (
	// StateRunning identifies an application currently executing and
	// already charged a quota by the accountant.
	StateRunning SchedulableState = iota
	// StateReady identifies an application admitted but not yet running.
	StateReady
	// StateThawed identifies an application resuming from a frozen state.
	StateThawed
	// StateRestoring identifies an application restoring from a checkpoint.
	StateRestoring
)

// String renders the state for logging and CSV output.
func (s SchedulableState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateReady:
		return "READY"
	case StateThawed:
		return "THAWED"
	case StateRestoring:
		return "RESTORING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// tickPassOrder is the strict iteration order mandated for a single tick.
// RUNNING must be visited, and fully processed, before any of the other
// three passes begin.
var tickPassOrder = [...]SchedulableState{ //nolint:gochecknoglobals // fixed policy order, not runtime state
	StateRunning,
	StateReady,
	StateThawed,
	StateRestoring,
}

// AllocationPolicy selects how the host should place a resource request
// across candidate processing elements.
type AllocationPolicy int

const (
	// PolicySequential requests contiguous processing elements where
	// possible. This is the policy the decision engine always uses.
	PolicySequential AllocationPolicy = iota
	// PolicyBalanced spreads a request evenly across domains. Unused by
	// the engine today; retained because the host interface defines it.
	PolicyBalanced
)

// ResourceRequest describes a quota ask attached to a working mode.
type ResourceRequest struct {
	Path   string
	Amount int64
	Policy AllocationPolicy
}

// CPUResourcePath is the resource path the engine always requests against.
const CPUResourcePath = "sys.cpu.pe"

// WorkingMode is the host-level descriptor of one tick's proposed resource
// assignment for an application. The engine builds a new value every tick;
// it never mutates a prior tick's working mode.
type WorkingMode struct {
	// Index is the working mode's position in the application's catalog.
	// For a "Default" mode it equals the number of working modes known
	// before this one; an "Adaptation" mode leaves it at zero.
	Index int
	// Description is a short human label: "Default" for a first-time
	// scheduling decision, "Adaptation" for a feedback-driven one.
	Description string
	// Requests holds the resource asks attached via AddResourceRequest.
	Requests []ResourceRequest
	// bindings records successful CPU bindings made against this mode.
	bindings []binding
}

type binding struct {
	cpuID          string
	referenceNumber int64
}

// AddResourceRequest records a resource ask on the working mode.
func (wm *WorkingMode) AddResourceRequest(path string, amount int64, policy AllocationPolicy) {
	wm.Requests = append(wm.Requests, ResourceRequest{Path: path, Amount: amount, Policy: policy})
}

// BindResource records a successful binding of this mode to a concrete CPU.
// refNumber must be the nonnegative reference number returned by the host.
func (wm *WorkingMode) BindResource(cpuID string, refNumber int64) {
	wm.bindings = append(wm.bindings, binding{cpuID: cpuID, referenceNumber: refNumber})
}

// Status is a return code surfaced by the engine to its caller.
type Status int

const (
	// StatusScheduleDone indicates the tick completed (possibly with
	// some applications skipped or errored individually).
	StatusScheduleDone Status = iota
	// StatusScheduleOK indicates a single application was scheduled.
	StatusScheduleOK
	// StatusSkipApp indicates an application was intentionally left
	// unscheduled this tick (no budget share, or admission gate closed).
	StatusSkipApp
	// StatusError indicates a recoverable, per-application failure.
	StatusError
	// StatusResourceUnavailable indicates the tick could not start
	// because the host reports no processing elements at all.
	StatusResourceUnavailable
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case StatusScheduleDone:
		return "SCHEDULE_DONE"
	case StatusScheduleOK:
		return "SCHEDULE_OK"
	case StatusSkipApp:
		return "SKIP_APP"
	case StatusError:
		return "ERROR"
	case StatusResourceUnavailable:
		return "RESOURCE_UNAVAILABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Tuning constants fixed by policy.
const (
	// InitialDefaultQuota is the quota units granted to an application
	// the first time it is scheduled, capped by the tick's fair share.
	InitialDefaultQuota int64 = 150
	// MinAssignableQuota is the policy's minimum assignable quota. The
	// decision engine does not read it: a not-yet-running application's
	// first quota is bounded only by its fair share and InitialDefaultQuota.
	MinAssignableQuota int64 = 10
	// AdmissibleDelta is the full width of the PID controller's
	// dead-band around the set-point; half of it is the set-point error.
	AdmissibleDelta int64 = 10
	// SaturationThreshold is how close prev_used may be to prev_quota
	// before the engine treats the application as saturated.
	SaturationThreshold int64 = 1
)

const (
	attrIntegralError = "ierr"
	attrDerivativeErr = "derr"

	descriptionDefault    = "Default"
	descriptionAdaptation = "Adaptation"
)
