package sched

import (
	"context"
	"fmt"
)

// AppInfo is the per-tick snapshot and working decision record for one
// application.
type AppInfo struct {
	App         Application
	WorkingMode *WorkingMode
	PrevQuota   int64
	PrevUsed    int64
	PrevDelta   int64
	NextQuota   int64
}

// buildAppInfo snapshots everything the decision engine needs about app.
// It has no observable side effects.
func buildAppInfo(ctx context.Context, host Host, app Application) (AppInfo, error) {
	prevQuota, err := host.Accountant().UsedBy(ctx, app.ID(), CPUResourcePath)
	if err != nil {
		return AppInfo{}, fmt.Errorf("read prior quota for %s: %w", app.StrID(), err)
	}

	profile, err := app.RuntimeProfile(ctx)
	if err != nil {
		return AppInfo{}, fmt.Errorf("read runtime profile for %s: %w", app.StrID(), err)
	}

	return AppInfo{
		App:       app,
		PrevQuota: prevQuota,
		PrevUsed:  profile.CPUUsage,
		PrevDelta: prevQuota - profile.CPUUsage,
	}, nil
}
