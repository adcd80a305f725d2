// Package metrics exposes the scheduling core's per-tick counters over
// HTTP in OpenMetrics text format, for a Prometheus-compatible scrape
// target.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"adaptivecpu-schedpol/pkg/sched"
)

const contentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

var errNilWriter = errors.New("metrics: writer is nil")

// Exporter tracks the latest tick's headline numbers and exposes them via
// HTTP.
type Exporter struct {
	mu sync.RWMutex

	tickStatus   string
	availableCPU float64
	scheduled    float64
	skipped      float64
	errored      float64
	tickCount    float64
}

// NewExporter constructs an Exporter with zeroed metrics.
func NewExporter() *Exporter {
	return new(Exporter)
}

// Observe records one TickReport's headline numbers.
func (e *Exporter) Observe(report sched.TickReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tickStatus = report.Status.String()
	e.availableCPU = float64(report.AvailableCPU)
	e.scheduled = float64(report.Scheduled)
	e.skipped = float64(report.Skipped)
	e.errored = float64(report.Errored)
	e.tickCount++
}

// ServeHTTP implements http.Handler for the metrics exporter.
func (e *Exporter) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	data, err := e.Render()
	if err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", contentType)
	_, _ = writer.Write(data)
}

// Render returns the current metrics snapshot encoded as OpenMetrics text.
func (e *Exporter) Render() ([]byte, error) {
	var buffer bytes.Buffer

	_, err := e.WriteTo(&buffer)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// WriteTo writes the current metrics snapshot to dst.
func (e *Exporter) WriteTo(dst io.Writer) (int64, error) {
	if dst == nil {
		return 0, errNilWriter
	}

	snap := e.snapshot()

	lines := []string{
		"# HELP schedpol_tick_status Most recent tick's return status (value set to 1 for the active status).\n",
		"# TYPE schedpol_tick_status gauge\n",
		fmt.Sprintf("schedpol_tick_status{status=\"%s\"} 1\n", snap.tickStatus),
		"# HELP schedpol_available_cpu Remaining CPU quota budget after the most recent tick.\n",
		"# TYPE schedpol_available_cpu gauge\n",
		fmt.Sprintf("schedpol_available_cpu %.0f\n", snap.availableCPU),
		"# HELP schedpol_scheduled_total Applications successfully scheduled in the most recent tick.\n",
		"# TYPE schedpol_scheduled_total gauge\n",
		fmt.Sprintf("schedpol_scheduled_total %.0f\n", snap.scheduled),
		"# HELP schedpol_skipped_total Applications skipped for lack of budget in the most recent tick.\n",
		"# TYPE schedpol_skipped_total gauge\n",
		fmt.Sprintf("schedpol_skipped_total %.0f\n", snap.skipped),
		"# HELP schedpol_errored_total Applications that failed binding or scheduling in the most recent tick.\n",
		"# TYPE schedpol_errored_total gauge\n",
		fmt.Sprintf("schedpol_errored_total %.0f\n", snap.errored),
		"# HELP schedpol_ticks_total Number of ticks observed since process start.\n",
		"# TYPE schedpol_ticks_total counter\n",
		fmt.Sprintf("schedpol_ticks_total %.0f\n", snap.tickCount),
		"# EOF\n",
	}

	var total int64

	for _, line := range lines {
		n, err := io.WriteString(dst, line)

		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write metrics: %w", err)
		}
	}

	return total, nil
}

type exporterSnapshot struct {
	tickStatus   string
	availableCPU float64
	scheduled    float64
	skipped      float64
	errored      float64
	tickCount    float64
}

func (e *Exporter) snapshot() exporterSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := e.tickStatus
	if status == "" {
		status = "unknown"
	}

	return exporterSnapshot{
		tickStatus:   status,
		availableCPU: e.availableCPU,
		scheduled:    e.scheduled,
		skipped:      e.skipped,
		errored:      e.errored,
		tickCount:    e.tickCount,
	}
}
