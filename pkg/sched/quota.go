package sched

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// quotaEngine is the PID-style feedback controller (§4.3). It mutates the
// AppInfo it is given, the shared tick state's available budget, and the
// application's persistent ierr/derr attributes.
type quotaEngine struct {
	cfg    Config
	attrs  AttributeStore
	logger *zap.Logger
}

func newQuotaEngine(cfg Config, attrs AttributeStore, logger *zap.Logger) *quotaEngine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &quotaEngine{cfg: cfg, attrs: attrs, logger: logger}
}

// computeQuota mutates info and ts in place. running reflects whether the
// application is currently in StateRunning; every other state takes the
// first-scheduling branch, including an application that ran in a previous
// tick and has since stopped (see SPEC_FULL.md §9, open question 2).
func (e *quotaEngine) computeQuota(ctx context.Context, info *AppInfo, ts *tickState, running bool) error {
	if !running {
		return e.firstScheduling(ctx, info, ts)
	}

	return e.feedback(ctx, info, ts)
}

func (e *quotaEngine) firstScheduling(ctx context.Context, info *AppInfo, ts *tickState) error {
	quota := ts.quotaNotRunApps
	if InitialDefaultQuota < quota {
		quota = InitialDefaultQuota
	}

	info.NextQuota = quota

	modeCount, err := info.App.WorkingModeCount(ctx)
	if err != nil {
		return fmt.Errorf("read working mode count for %s: %w", info.App.StrID(), err)
	}

	info.WorkingMode = &WorkingMode{Index: modeCount, Description: descriptionDefault}

	if err := e.attrs.SetAttr(ctx, info.App.ID(), attrIntegralError, "0"); err != nil {
		return fmt.Errorf("initialize ierr for %s: %w", info.App.StrID(), err)
	}

	if err := e.attrs.SetAttr(ctx, info.App.ID(), attrDerivativeErr, "0"); err != nil {
		return fmt.Errorf("initialize derr for %s: %w", info.App.StrID(), err)
	}

	ts.availableCPU -= quota

	return nil
}

func (e *quotaEngine) feedback(ctx context.Context, info *AppInfo, ts *tickState) error {
	prevDelta := info.PrevDelta
	if info.PrevUsed >= info.PrevQuota-SaturationThreshold {
		prevDelta = e.cfg.NegDelta
	}

	halfDelta := AdmissibleDelta / 2
	errVal := halfDelta - prevDelta
	if errVal < 0 {
		if -errVal < halfDelta {
			errVal = 0
		}
	} else if errVal < halfDelta {
		errVal = 0
	}

	prevIErr, err := e.readAttrInt(ctx, info.App.ID(), attrIntegralError)
	if err != nil {
		return err
	}

	prevDErr, err := e.readAttrInt(ctx, info.App.ID(), attrDerivativeErr)
	if err != nil {
		return err
	}

	ierrNew := prevIErr + errVal
	derrNew := errVal - prevDErr

	pVar := truncToInt64(e.cfg.Kp * float64(errVal))
	iVar := truncToInt64(e.cfg.Ki * float64(ierrNew))
	dVar := truncToInt64(e.cfg.Kd * float64(derrNew))
	cv := pVar + iVar + dVar

	if cv > 0 && cv > ts.availableCPU {
		cv = ts.availableCPU
	}

	if cv < 0 && absInt64(cv) > info.PrevQuota {
		quota := ts.availableCPU
		if InitialDefaultQuota < quota {
			quota = InitialDefaultQuota
		}

		if quota < 0 {
			quota = 0
		}

		info.NextQuota = quota
	} else {
		next := info.PrevQuota + cv
		if next < 0 {
			next = 0
		}

		info.NextQuota = next
	}

	info.WorkingMode = &WorkingMode{Description: descriptionAdaptation}

	if err := e.attrs.SetAttr(ctx, info.App.ID(), attrIntegralError, strconv.FormatInt(ierrNew, 10)); err != nil {
		return fmt.Errorf("persist ierr for %s: %w", info.App.StrID(), err)
	}

	if err := e.attrs.SetAttr(ctx, info.App.ID(), attrDerivativeErr, strconv.FormatInt(errVal, 10)); err != nil {
		return fmt.Errorf("persist derr for %s: %w", info.App.StrID(), err)
	}

	if info.NextQuota > info.PrevQuota {
		ts.availableCPU -= info.NextQuota - info.PrevQuota
	} else {
		ts.availableCPU += info.PrevQuota - info.NextQuota
	}

	e.logger.Debug("computed adaptive quota",
		zap.String("app", info.App.StrID()),
		zap.Int64("prevQuota", info.PrevQuota),
		zap.Int64("nextQuota", info.NextQuota),
		zap.Int64("error", errVal),
		zap.Int64("cv", cv),
	)

	return nil
}

func (e *quotaEngine) readAttrInt(ctx context.Context, app AppID, key string) (int64, error) {
	raw, ok, err := e.attrs.GetAttr(ctx, app, key)
	if err != nil {
		return 0, fmt.Errorf("read attr %s for %s: %w", key, app, err)
	}

	if !ok {
		return 0, nil
	}

	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}

	return val, nil
}

func truncToInt64(f float64) int64 {
	return int64(f)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}
