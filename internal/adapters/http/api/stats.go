package api

import (
	"maps"
	"net/http"
	"runtime"
	"time"
)

// StatsProvider reports pipeline and lobby counters.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves GET /stats: the provider's counters plus process uptime.
type StatsHandler struct {
	provider StatsProvider
	started  time.Time
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, started: time.Now()}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
	}
	maps.Copy(out, h.provider.GetStats())
	writeJSON(w, http.StatusOK, out)
}
