package metrics

import (
	"errors"
	"testing"

	"adaptivecpu-schedpol/pkg/sched"
)

func TestExporterWriteToRejectsNilWriter(t *testing.T) {
	t.Parallel()

	exporter := NewExporter()

	_, err := exporter.WriteTo(nil)
	if !errors.Is(err, errNilWriter) {
		t.Fatalf("expected errNilWriter, got %v", err)
	}
}

func TestSnapshotDefaultsStatusToUnknown(t *testing.T) {
	t.Parallel()

	exporter := NewExporter()

	snap := exporter.snapshot()
	if snap.tickStatus != "unknown" {
		t.Fatalf("expected unknown status before first Observe, got %q", snap.tickStatus)
	}
}

func TestObserveAccumulatesTickCount(t *testing.T) {
	t.Parallel()

	exporter := NewExporter()
	exporter.Observe(sched.TickReport{Status: sched.StatusScheduleDone})
	exporter.Observe(sched.TickReport{Status: sched.StatusScheduleDone})

	if snap := exporter.snapshot(); snap.tickCount != 2 {
		t.Fatalf("expected tickCount 2, got %.0f", snap.tickCount)
	}
}
