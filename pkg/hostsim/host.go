// Package hostsim is an in-memory reference implementation of the host
// interface pkg/sched consumes. It exists so tests, the demo CLI, and the
// integration suite can drive the scheduling core without a real resource
// manager attached.
package hostsim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"adaptivecpu-schedpol/pkg/sched"
)

// AppSpec seeds one simulated application.
type AppSpec struct {
	ID          sched.AppID
	State       sched.SchedulableState
	CPUUsage    int64
	InitQuota   int64
	ModeCount   int
}

type simApp struct {
	spec  AppSpec
	mu    sync.Mutex
}

func (a *simApp) ID() sched.AppID     { return a.spec.ID }
func (a *simApp) StrID() string       { return string(a.spec.ID) }

func (a *simApp) State(context.Context) (sched.SchedulableState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.spec.State, nil
}

func (a *simApp) Running(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.spec.State == sched.StateRunning, nil
}

func (a *simApp) RuntimeProfile(context.Context) (sched.RuntimeProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return sched.RuntimeProfile{CPUUsage: a.spec.CPUUsage, Valid: true}, nil
}

func (a *simApp) WorkingModeCount(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.spec.ModeCount, nil
}

// SetUsage updates the simulated CPU usage sample reported on the next
// RuntimeProfile call, emulating a live telemetry feed between ticks.
func (a *simApp) SetUsage(usage int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.spec.CPUUsage = usage
}

// SetState transitions the simulated application, e.g. once a demo CLI
// observes it has finished starting up.
func (a *simApp) SetState(state sched.SchedulableState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.spec.State = state
}

// Host is the in-memory reference Host. It is safe for concurrent use,
// though the real scheduling contract (§5) assumes a single caller per
// tick.
type Host struct {
	mu          sync.Mutex
	apps        map[sched.AppID]*simApp
	quotas      map[sched.AppID]int64
	totalBudget int64
	cpuIDs      []string
	attrs       map[sched.AppID]map[string]string
	viewSeq     int
	binder      *binder
	appManager  *appManager
}

// New builds an empty Host with totalBudget quota units and the given CPU
// identifiers available for binding.
func New(totalBudget int64, cpuIDs []string) *Host {
	h := &Host{
		apps:        map[sched.AppID]*simApp{},
		quotas:      map[sched.AppID]int64{},
		totalBudget: totalBudget,
		cpuIDs:      append([]string(nil), cpuIDs...),
		attrs:       map[sched.AppID]map[string]string{},
	}
	h.binder = &binder{host: h}
	h.appManager = &appManager{host: h}

	return h
}

// AddApp registers a simulated application and returns a handle for
// subsequent mutation (SetUsage, SetState) between ticks.
func (h *Host) AddApp(spec AppSpec) *simApp {
	h.mu.Lock()
	defer h.mu.Unlock()

	app := &simApp{spec: spec}
	h.apps[spec.ID] = app
	h.quotas[spec.ID] = spec.InitQuota

	return app
}

// SetUsageAll updates every registered application's simulated CPU usage to
// usage, for feeding an external utilisation signal into a running demo
// without needing per-application handles.
func (h *Host) SetUsageAll(usage int64) {
	h.mu.Lock()
	apps := make([]*simApp, 0, len(h.apps))
	for _, app := range h.apps {
		apps = append(apps, app)
	}
	h.mu.Unlock()

	for _, app := range apps {
		app.SetUsage(usage)
	}
}

// ResourceTypeIDs implements sched.Host.
func (h *Host) ResourceTypeIDs(_ context.Context, resourceType string) ([]string, error) {
	if resourceType != sched.CPUResourcePath {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.cpuIDs...), nil
}

// SchedulablesCount implements sched.Host.
func (h *Host) SchedulablesCount(ctx context.Context, state sched.SchedulableState) (int, error) {
	apps, err := h.Iterate(ctx, state)
	if err != nil {
		return 0, err
	}

	return len(apps), nil
}

// Iterate implements sched.Host, in a stable order (sorted by AppID) so
// tests are deterministic.
func (h *Host) Iterate(_ context.Context, state sched.SchedulableState) ([]sched.Application, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.apps))
	for id, app := range h.apps {
		if app.spec.State == state {
			ids = append(ids, string(id))
		}
	}

	sort.Strings(ids)

	out := make([]sched.Application, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.apps[sched.AppID(id)])
	}

	return out, nil
}

// NewViewToken implements sched.Host.
func (h *Host) NewViewToken(context.Context) (sched.ViewToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.viewSeq++

	return sched.ViewToken(fmt.Sprintf("view-%d", h.viewSeq)), nil
}

// Accountant implements sched.Host.
func (h *Host) Accountant() sched.Accountant { return (*accountant)(h) }

// AttributeStore implements sched.Host.
func (h *Host) AttributeStore() sched.AttributeStore { return (*attrStore)(h) }

// BindingManager implements sched.Host.
func (h *Host) BindingManager() sched.BindingManager { return h.binder }

// ApplicationManager implements sched.Host.
func (h *Host) ApplicationManager() sched.ApplicationManager { return h.appManager }

type accountant Host

func (a *accountant) Available(_ context.Context, resourcePath string) (int64, error) {
	if resourcePath != sched.CPUResourcePath {
		return 0, nil
	}

	h := (*Host)(a)
	h.mu.Lock()
	defer h.mu.Unlock()

	used := int64(0)
	for _, q := range h.quotas {
		used += q
	}

	return h.totalBudget - used, nil
}

func (a *accountant) UsedBy(_ context.Context, app sched.AppID, resourcePath string) (int64, error) {
	if resourcePath != sched.CPUResourcePath {
		return 0, nil
	}

	h := (*Host)(a)
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.quotas[app], nil
}

// commitQuota is called by appManager.ScheduleRequest once a tick accepts a
// binding, updating the accountant's book of record for the application.
func (h *Host) commitQuota(app sched.AppID, quota int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.quotas[app] = quota
}

type attrStore Host

func (s *attrStore) GetAttr(_ context.Context, app sched.AppID, key string) (string, bool, error) {
	h := (*Host)(s)
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.attrs[app]
	if !ok {
		return "", false, nil
	}

	v, ok := m[key]

	return v, ok, nil
}

func (s *attrStore) SetAttr(_ context.Context, app sched.AppID, key, value string) error {
	h := (*Host)(s)
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.attrs[app]
	if !ok {
		m = map[string]string{}
		h.attrs[app] = m
	}

	m[key] = value

	return nil
}

type binder struct {
	host *Host
}

func (b *binder) BindingDomains(context.Context) ([]sched.BindingDomain, error) {
	b.host.mu.Lock()
	defer b.host.mu.Unlock()

	return []sched.BindingDomain{{ResourceType: sched.CPUResourcePath, CPUIDs: append([]string(nil), b.host.cpuIDs...)}}, nil
}

func (b *binder) Bind(_ context.Context, _ *sched.WorkingMode, cpuID string) (int64, error) {
	b.host.mu.Lock()
	defer b.host.mu.Unlock()

	for _, id := range b.host.cpuIDs {
		if id == cpuID {
			b.host.viewSeq++

			return int64(b.host.viewSeq), nil
		}
	}

	return 0, fmt.Errorf("%w: %s", errUnknownCPU, cpuID)
}

type appManager struct {
	host *Host
}

func (m *appManager) ScheduleRequest(_ context.Context, app sched.AppID, wm *sched.WorkingMode, _ sched.ViewToken, _ int64) error {
	var amount int64

	for _, req := range wm.Requests {
		if req.Path == sched.CPUResourcePath {
			amount = req.Amount
		}
	}

	m.host.commitQuota(app, amount)

	return nil
}
