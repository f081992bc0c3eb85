package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ratings
	ratingUpdates    *prometheus.CounterVec
	ratingPeriods    prometheus.Counter
	outcomesSkipped  prometheus.Counter
	ratingLatency    prometheus.Histogram
	tierChanges      *prometheus.CounterVec
	rankedPlayers    *prometheus.GaugeVec
	matchReports     *prometheus.CounterVec
	reportDuplicates prometheus.Counter

	// Matchmaking
	lobbiesActive    prometheus.Gauge
	lobbyPlayers     prometheus.Gauge
	lobbyEvents      *prometheus.CounterVec
	contentSelection *prometheus.CounterVec
	votes            *prometheus.CounterVec
	placements       *prometheus.CounterVec

	// Content acquisition
	acquireLatency prometheus.Histogram
	acquireResults *prometheus.CounterVec

	// Queue and workers
	queueSize          *prometheus.GaugeVec
	queueCapacity      *prometheus.GaugeVec
	queueEnqueueErrors *prometheus.CounterVec
	workerLatency      *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	gcPause     prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ranklobby",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.ratingUpdates = m.counterVec("rating_updates_total", "Rating rows written, by entity kind", "kind")
	m.ratingPeriods = m.counter("rating_periods_total", "Closed rating periods (base checkpoints)")
	m.outcomesSkipped = m.counter("rating_outcomes_skipped_total", "Outcomes ignored because of disallowed mods")
	m.ratingLatency = m.histogram("rating_apply_latency_milliseconds", "Latency of one rating apply")
	m.tierChanges = m.counterVec("tier_changes_total", "Tier changes by direction", "direction")
	m.rankedPlayers = m.gaugeVec("ranked_players", "Players in the percentile index", "mode")
	m.matchReports = m.counterVec("match_reports_total", "Match reports by result", "result")
	m.reportDuplicates = m.counter("match_reports_duplicate_total", "Match reports dropped as already processed")

	m.lobbiesActive = m.gauge("lobbies_active", "Open lobbies known to the router")
	m.lobbyPlayers = m.gauge("lobby_players", "Players across all open lobbies")
	m.lobbyEvents = m.counterVec("lobby_events_total", "Lobby events handled, by kind", "event")
	m.contentSelection = m.counterVec("content_selections_total", "Content selections by result", "result")
	m.votes = m.counterVec("votes_total", "Votes by kind and result", "kind", "result")
	m.placements = m.counterVec("router_placements_total", "Router placements by result", "result")

	m.acquireLatency = m.histogram("acquire_latency_milliseconds", "Content acquisition latency")
	m.acquireResults = m.counterVec("acquire_results_total", "Content acquisition results", "result")

	m.queueSize = m.gaugeVec("queue_size", "Current queue depth", "queue")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Queue capacity", "queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected enqueues (backpressure)", "queue")
	m.workerLatency = m.histogramVec("worker_processing_latency_milliseconds", "Per-item worker latency", "pool")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration",
		"endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.memoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.goroutines = m.gauge("system_goroutines", "Running goroutines")
	m.gcPause = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// RecordRatingUpdate counts one persisted rating row.
func RecordRatingUpdate(kind string) { globalManager.ratingUpdates.WithLabelValues(kind).Inc() }

// RecordRatingPeriod counts one base checkpoint.
func RecordRatingPeriod() { globalManager.ratingPeriods.Inc() }

// RecordOutcomeSkipped counts an outcome ignored for rating.
func RecordOutcomeSkipped() { globalManager.outcomesSkipped.Inc() }

// RecordRatingLatency records apply latency in milliseconds.
func RecordRatingLatency(ms float64) { globalManager.ratingLatency.Observe(ms) }

// RecordTierChange counts a promotion or demotion.
func RecordTierChange(promoted bool) {
	dir := "demotion"
	if promoted {
		dir = "promotion"
	}
	globalManager.tierChanges.WithLabelValues(dir).Inc()
}

// UpdateRankedPlayers sets the size of a mode's percentile index.
func UpdateRankedPlayers(mode string, n int) {
	globalManager.rankedPlayers.WithLabelValues(mode).Set(float64(n))
}

// RecordMatchReport counts a match report outcome: processed, dropped, failed.
func RecordMatchReport(result string) { globalManager.matchReports.WithLabelValues(result).Inc() }

// RecordReportDuplicate counts a replayed match report.
func RecordReportDuplicate() { globalManager.reportDuplicates.Inc() }

// UpdateLobbies sets the open lobby and player gauges.
func UpdateLobbies(lobbies, players int) {
	globalManager.lobbiesActive.Set(float64(lobbies))
	globalManager.lobbyPlayers.Set(float64(players))
}

// RecordLobbyEvent counts one handled lobby event.
func RecordLobbyEvent(event string) { globalManager.lobbyEvents.WithLabelValues(event).Inc() }

// RecordContentSelection counts a selection result: selected, fallback, exhausted, error.
func RecordContentSelection(result string) {
	globalManager.contentSelection.WithLabelValues(result).Inc()
}

// RecordVote counts a vote of kind kick, skip or abort.
func RecordVote(kind string, passed bool) {
	result := "pending"
	if passed {
		result = "passed"
	}
	globalManager.votes.WithLabelValues(kind, result).Inc()
}

// RecordPlacement counts a router placement result: placed, none, spawned.
func RecordPlacement(result string) { globalManager.placements.WithLabelValues(result).Inc() }

// RecordAcquire records one content acquisition.
func RecordAcquire(result string, ms float64) {
	globalManager.acquireResults.WithLabelValues(result).Inc()
	globalManager.acquireLatency.Observe(ms)
}

// UpdateQueue sets depth and capacity of a named queue.
func UpdateQueue(queue string, size, capacity int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
	globalManager.queueCapacity.WithLabelValues(queue).Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(queue string) {
	globalManager.queueEnqueueErrors.WithLabelValues(queue).Inc()
}

// RecordWorkerLatency records per-item processing latency for a pool.
func RecordWorkerLatency(pool string, ms float64) {
	globalManager.workerLatency.WithLabelValues(pool).Observe(ms)
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.memoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(n int) { globalManager.goroutines.Set(float64(n)) }

// RecordSystemGCPauseTime observes an average GC pause.
func RecordSystemGCPauseTime(ms float64) { globalManager.gcPause.Observe(ms) }
