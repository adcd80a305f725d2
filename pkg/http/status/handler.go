// Package status exposes a JSON health endpoint reporting the scheduling
// core's most recent tick outcome.
package status

import (
	"encoding/json"
	"net/http"
	"sync"

	"adaptivecpu-schedpol/pkg/sched"
)

// Snapshot captures the status returned by the handler.
type Snapshot struct {
	Status    string `json:"status"`
	Scheduled int    `json:"scheduled"`
	Skipped   int    `json:"skipped"`
	Errored   int    `json:"errored"`
	LastError string `json:"lastError"`
}

// Handler renders the most recently observed tick as JSON. It starts in an
// "unavailable" state before the first Observe call.
type Handler struct {
	mu       sync.RWMutex
	snapshot Snapshot
	have     bool
}

// NewHandler constructs an empty Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Observe records one tick's outcome for the next ServeHTTP call.
func (h *Handler) Observe(report sched.TickReport, tickErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{
		Status:    report.Status.String(),
		Scheduled: report.Scheduled,
		Skipped:   report.Skipped,
		Errored:   report.Errored,
	}

	if tickErr != nil {
		snap.LastError = tickErr.Error()
	} else if report.Errors != nil {
		snap.LastError = report.Errors.Error()
	}

	h.snapshot = snap
	h.have = true
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if h == nil {
		http.Error(writer, "status handler unavailable", http.StatusServiceUnavailable)

		return
	}

	h.mu.RLock()
	snap := h.snapshot
	have := h.have
	h.mu.RUnlock()

	if !have {
		http.Error(writer, "no tick observed yet", http.StatusServiceUnavailable)

		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		http.Error(writer, "marshal status", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(payload)
}
