// Package telemetry writes one CSV row per application decision per tick,
// for offline analysis. The decision core's host interface (§6 of
// SPEC_FULL.md) leaves this side-channel unspecified beyond naming it; this
// package is a concrete, minimal implementation using only the standard
// library, since no CSV-writing dependency appears anywhere in this
// module's dependency corpus.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"adaptivecpu-schedpol/pkg/sched"
)

var csvHeader = []string{
	"app", "state", "outcome", "prev_quota", "prev_used", "prev_delta", "next_quota",
}

// TickWriter appends one row per application decision to an underlying CSV
// stream. It writes the header exactly once, on the first call to
// WriteTick.
type TickWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewTickWriter wraps dst in a TickWriter.
func NewTickWriter(dst io.Writer) *TickWriter {
	return &TickWriter{w: csv.NewWriter(dst)}
}

// WriteTick appends one row per decision in report.
func (t *TickWriter) WriteTick(report sched.TickReport) error {
	if !t.wroteHeader {
		if err := t.w.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}

		t.wroteHeader = true
	}

	for _, d := range report.Decisions {
		row := []string{
			d.App,
			d.State.String(),
			d.Outcome,
			strconv.FormatInt(d.Info.PrevQuota, 10),
			strconv.FormatInt(d.Info.PrevUsed, 10),
			strconv.FormatInt(d.Info.PrevDelta, 10),
			strconv.FormatInt(d.Info.NextQuota, 10),
		}

		if err := t.w.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", d.App, err)
		}
	}

	t.w.Flush()

	return t.w.Error()
}
