package sched

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNilApplication is returned when assignWorkingMode is invoked with a nil
// application handle.
var ErrNilApplication = errors.New("sched: nil application handle")

// bindingDispatcher builds the working mode for one application, attaches
// its CPU quota request, and attempts to bind and schedule it against the
// host's CPU domains in first-fit order (§4.4).
type bindingDispatcher struct {
	host    Host
	engine  *quotaEngine
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func newBindingDispatcher(host Host, engine *quotaEngine, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *bindingDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &bindingDispatcher{host: host, engine: engine, breaker: breaker, logger: logger}
}

// assignWorkingMode implements §4.4 end to end for one application.
func (d *bindingDispatcher) assignWorkingMode(ctx context.Context, app Application, ts *tickState) (Status, AppInfo, error) {
	if app == nil {
		return StatusError, AppInfo{}, ErrNilApplication
	}

	info, err := buildAppInfo(ctx, d.host, app)
	if err != nil {
		return StatusError, AppInfo{}, err
	}

	running, err := app.Running(ctx)
	if err != nil {
		return StatusError, info, fmt.Errorf("read running state for %s: %w", app.StrID(), err)
	}

	if !running && ts.quotaNotRunApps == 0 {
		return StatusSkipApp, info, nil
	}

	if err := d.engine.computeQuota(ctx, &info, ts, running); err != nil {
		return StatusError, info, err
	}

	info.WorkingMode.AddResourceRequest(CPUResourcePath, info.NextQuota, PolicySequential)

	domains, err := d.host.BindingManager().BindingDomains(ctx)
	if err != nil {
		return StatusError, info, fmt.Errorf("enumerate binding domains: %w", err)
	}

	for _, domain := range domains {
		for _, cpuID := range domain.CPUIDs {
			refNumber, bindErr := d.bindThroughBreaker(ctx, info.WorkingMode, cpuID)
			if bindErr != nil {
				d.logger.Debug("bind attempt failed", zap.String("app", app.StrID()), zap.String("cpu", cpuID), zap.Error(bindErr))

				continue
			}

			info.WorkingMode.BindResource(cpuID, refNumber)

			scheduleErr := d.scheduleThroughBreaker(ctx, app.ID(), info.WorkingMode, ts.view, refNumber)
			if scheduleErr != nil {
				d.logger.Debug("schedule request failed", zap.String("app", app.StrID()), zap.String("cpu", cpuID), zap.Error(scheduleErr))

				continue
			}

			return StatusScheduleOK, info, nil
		}
	}

	return StatusError, info, fmt.Errorf("%s: no CPU accepted binding or schedule request", app.StrID())
}

func (d *bindingDispatcher) bindThroughBreaker(ctx context.Context, wm *WorkingMode, cpuID string) (int64, error) {
	if d.breaker == nil {
		return d.host.BindingManager().Bind(ctx, wm, cpuID)
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		return d.host.BindingManager().Bind(ctx, wm, cpuID)
	})
	if err != nil {
		return 0, err
	}

	refNumber, _ := result.(int64)

	return refNumber, nil
}

func (d *bindingDispatcher) scheduleThroughBreaker(ctx context.Context, appID AppID, wm *WorkingMode, view ViewToken, refNumber int64) error {
	run := func() (interface{}, error) {
		return nil, d.host.ApplicationManager().ScheduleRequest(ctx, appID, wm, view, refNumber)
	}

	if d.breaker == nil {
		_, err := run()

		return err
	}

	_, err := d.breaker.Execute(run)

	return err
}
