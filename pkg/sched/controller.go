package sched

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AppDecision is one application's outcome within a TickReport.
type AppDecision struct {
	App     string
	State   SchedulableState
	Outcome string
	Info    AppInfo
}

// TickReport is the Go-only aggregate of one Schedule call's outcomes. It
// is never consulted by the decision engine itself; it exists purely for
// the ambient telemetry, metrics, and status layers built around the core.
type TickReport struct {
	Status        Status
	View          ViewToken
	AvailableCPU  int64
	Scheduled     int
	Skipped       int
	Errored       int
	Decisions     []AppDecision
	Errors        error
}

// Controller is the Tick Controller (§4.1): it orchestrates one scheduling
// tick end to end.
type Controller struct {
	host       Host
	engine     *quotaEngine
	dispatcher *bindingDispatcher
	logger     *zap.Logger
}

// NewController builds a Controller wired against host, using cfg for the
// PID coefficients. A nil logger defaults to a no-op logger.
func NewController(host Host, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := newQuotaEngine(cfg, host.AttributeStore(), logger)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sched-host-binding",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	dispatcher := newBindingDispatcher(host, engine, breaker, logger)

	return &Controller{host: host, engine: engine, dispatcher: dispatcher, logger: logger}
}

// Schedule runs one tick to completion (§4.1). A per-application failure
// never aborts the tick; it is recorded in the returned TickReport and the
// tick proceeds to the next application.
func (c *Controller) Schedule(ctx context.Context) (Status, TickReport, error) {
	peIDs, err := c.host.ResourceTypeIDs(ctx, CPUResourcePath)
	if err != nil {
		return StatusResourceUnavailable, TickReport{}, fmt.Errorf("enumerate processing elements: %w", err)
	}

	if len(peIDs) == 0 {
		return StatusResourceUnavailable, TickReport{}, fmt.Errorf("%w: no processing elements reported", errNoProcessingElements)
	}

	nrRun, err := c.host.SchedulablesCount(ctx, StateRunning)
	if err != nil {
		return StatusError, TickReport{}, fmt.Errorf("count running applications: %w", err)
	}

	nrNotRun := 0
	for _, st := range []SchedulableState{StateReady, StateThawed, StateRestoring} {
		count, err := c.host.SchedulablesCount(ctx, st)
		if err != nil {
			return StatusError, TickReport{}, fmt.Errorf("count applications in state %s: %w", st, err)
		}

		nrNotRun += count
	}

	available, err := c.host.Accountant().Available(ctx, CPUResourcePath)
	if err != nil {
		return StatusError, TickReport{}, fmt.Errorf("read available CPU budget: %w", err)
	}

	view, err := c.host.NewViewToken(ctx)
	if err != nil {
		return StatusError, TickReport{}, fmt.Errorf("obtain resource view token: %w", err)
	}

	ts := &tickState{
		availableCPU: available,
		nrRunApps:    nrRun,
		nrNotRunApps: nrNotRun,
		view:         view,
	}

	report := TickReport{Status: StatusScheduleDone, View: view}

	var aggErr error

	for i, state := range tickPassOrder {
		apps, err := c.host.Iterate(ctx, state)
		if err != nil {
			aggErr = multierr.Append(aggErr, fmt.Errorf("iterate state %s: %w", state, err))

			continue
		}

		for _, app := range apps {
			status, info, assignErr := c.dispatcher.assignWorkingMode(ctx, app, ts)

			decision := AppDecision{State: state, Info: info}
			if info.App != nil {
				decision.App = info.App.StrID()
			}

			switch status {
			case StatusScheduleOK:
				decision.Outcome = outcomeOK.String()
				report.Scheduled++
			case StatusSkipApp:
				decision.Outcome = outcomeSkip.String()
				report.Skipped++
			default:
				decision.Outcome = outcomeError.String()
				report.Errored++

				if assignErr != nil {
					aggErr = multierr.Append(aggErr, assignErr)
				}
			}

			report.Decisions = append(report.Decisions, decision)
		}

		// quota_not_run_apps is computed exactly once, strictly between
		// the RUNNING pass and the first of the remaining three passes.
		if i == 0 {
			if ts.nrNotRunApps > 0 {
				ts.quotaNotRunApps = ts.availableCPU / int64(ts.nrNotRunApps)
			} else {
				ts.quotaNotRunApps = 0
			}
		}
	}

	report.AvailableCPU = ts.availableCPU
	report.Errors = aggErr

	c.logger.Info("tick complete",
		zap.Int("scheduled", report.Scheduled),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored),
		zap.Int64("availableCPU", report.AvailableCPU),
	)

	return StatusScheduleDone, report, nil
}
