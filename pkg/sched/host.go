package sched

import "context"

// RuntimeProfile is the usage telemetry the host keeps for one application.
type RuntimeProfile struct {
	CPUUsage     int64
	CTimeMillis  int64
	GoalGapPct   float64
	Valid        bool
}

// AttributeStore is the persistent key/value surface the engine uses to
// carry controller state (ierr, derr) across ticks. The host owns the
// backing storage; AttributeCache (attrcache.go) can wrap an
// implementation that is not itself durable.
type AttributeStore interface {
	GetAttr(ctx context.Context, app AppID, key string) (string, bool, error)
	SetAttr(ctx context.Context, app AppID, key, value string) error
}

// Accountant reports resource availability and current charges.
type Accountant interface {
	Available(ctx context.Context, resourcePath string) (int64, error)
	UsedBy(ctx context.Context, app AppID, resourcePath string) (int64, error)
}

// Application is the narrow per-application view the engine consumes.
type Application interface {
	ID() AppID
	StrID() string
	State(ctx context.Context) (SchedulableState, error)
	Running(ctx context.Context) (bool, error)
	RuntimeProfile(ctx context.Context) (RuntimeProfile, error)
	WorkingModeCount(ctx context.Context) (int, error)
}

// BindingDomain is one CPU-typed resource domain the host offers for
// binding, e.g. a single physical core identified by a string ID.
type BindingDomain struct {
	ResourceType string
	CPUIDs       []string
}

// BindingManager enumerates CPU binding domains and performs the actual
// bind of a working mode to a concrete processing element.
type BindingManager interface {
	BindingDomains(ctx context.Context) ([]BindingDomain, error)
	// Bind attempts to bind wm to cpuID. It returns a nonnegative
	// reference number on success, or an error on failure.
	Bind(ctx context.Context, wm *WorkingMode, cpuID string) (int64, error)
}

// ApplicationManager commits a schedule request for one application.
type ApplicationManager interface {
	ScheduleRequest(ctx context.Context, app AppID, wm *WorkingMode, view ViewToken, refNumber int64) error
}

// ViewToken is a host-issued handle for the tentative resource view being
// built across one tick; the engine treats it as opaque and write-through.
type ViewToken string

// Host aggregates every external collaborator the engine needs. A
// production resource manager and pkg/hostsim's reference implementation
// both satisfy it.
type Host interface {
	// ResourceTypeIDs returns every known identifier for a resource kind
	// (e.g. "sys.cpu.pe"), used at tick start to fail fast when no
	// processing elements exist at all.
	ResourceTypeIDs(ctx context.Context, resourceType string) ([]string, error)
	// SchedulablesCount returns how many applications are in the given
	// state.
	SchedulablesCount(ctx context.Context, state SchedulableState) (int, error)
	// Iterate returns every application handle currently in the given
	// state, in host-stable order.
	Iterate(ctx context.Context, state SchedulableState) ([]Application, error)
	// NewViewToken issues a fresh resource-view token for a tick.
	NewViewToken(ctx context.Context) (ViewToken, error)

	Accountant() Accountant
	AttributeStore() AttributeStore
	BindingManager() BindingManager
	ApplicationManager() ApplicationManager
}
