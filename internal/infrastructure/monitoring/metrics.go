package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  *prometheus.GaugeVec
	SessionsPruned  *prometheus.CounterVec
	FeedbackLoops   prometheus.Counter
	TargetEmissions *prometheus.CounterVec

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec
	MergedTargets    *prometheus.GaugeVec
	Dismissals       *prometheus.CounterVec

	// Bridge metrics
	BridgeCalls    *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec
	BridgeErrors   *prometheus.CounterVec

	// Supervisor metrics
	CrashEvents      *prometheus.CounterVec
	SafeModeTriggers prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector backed by its own registry, so several
// instances can coexist (one per process, one per test).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_http_requests_total",
				Help: "Total number of diagnostics HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartspacer_http_request_duration_seconds",
				Help:    "Diagnostics HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smartspacer_sessions_active",
				Help: "Number of live smartspace sessions per kind",
			},
			[]string{"kind"},
		),
		SessionsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_sessions_pruned_total",
				Help: "Duplicate sessions destroyed by pruning",
			},
			[]string{"kind"},
		),
		FeedbackLoops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "smartspacer_feedback_loops_total",
				Help: "Session creations rejected because they came from this app",
			},
		),
		TargetEmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_target_emissions_total",
				Help: "Merged target lists delivered to sessions",
			},
			[]string{"surface"},
		),

		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_provider_calls_total",
				Help: "Plugin provider calls",
			},
			[]string{"authority", "method", "status"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartspacer_provider_duration_seconds",
				Help:    "Plugin provider call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"authority", "method"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_provider_errors_total",
				Help: "Plugin provider call failures",
			},
			[]string{"authority", "method", "reason"},
		),
		MergedTargets: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smartspacer_merged_targets",
				Help: "Targets in the last merged list per surface",
			},
			[]string{"surface"},
		),
		Dismissals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_dismissals_total",
				Help: "Dismissals routed to providers",
			},
			[]string{"result"},
		),

		BridgeCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_bridge_calls_total",
				Help: "Calls made to the privileged bridge",
			},
			[]string{"method", "status"},
		),
		BridgeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartspacer_bridge_duration_seconds",
				Help:    "Privileged bridge call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
		BridgeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_bridge_errors_total",
				Help: "Privileged bridge failures by reason",
			},
			[]string{"method", "reason"},
		),

		CrashEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartspacer_crash_events_total",
				Help: "Crash storms reported by the bridge",
			},
			[]string{"package"},
		),
		SafeModeTriggers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "smartspacer_safe_mode_triggers_total",
				Help: "Times safe mode was entered",
			},
		),
	}
}

// Registry returns the registry to expose over /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a diagnostics HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live sessions for a kind
func (m *Metrics) SetSessionsActive(kind string, count int) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Set(float64(count))
}

// IncSessionsPruned counts sessions destroyed as duplicates
func (m *Metrics) IncSessionsPruned(kind string, n int) {
	if m == nil {
		return
	}
	m.SessionsPruned.WithLabelValues(kind).Add(float64(n))
}

// IncFeedbackLoops counts rejected self-delivered sessions
func (m *Metrics) IncFeedbackLoops() {
	if m == nil {
		return
	}
	m.FeedbackLoops.Inc()
}

// RecordEmission records a target list delivered to a session
func (m *Metrics) RecordEmission(surface string, count int) {
	if m == nil {
		return
	}
	m.TargetEmissions.WithLabelValues(surface).Inc()
	m.MergedTargets.WithLabelValues(surface).Set(float64(count))
}

// RecordProviderCall records a plugin provider call
func (m *Metrics) RecordProviderCall(authority, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(authority, method, status).Inc()
	m.ProviderDuration.WithLabelValues(authority, method).Observe(duration.Seconds())
}

// RecordProviderError records a failed provider call
func (m *Metrics) RecordProviderError(authority, method, reason string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(authority, method, reason).Inc()
}

// RecordDismissal records the outcome of a dismissal round-trip
func (m *Metrics) RecordDismissal(result string) {
	if m == nil {
		return
	}
	m.Dismissals.WithLabelValues(result).Inc()
}

// RecordBridgeCall records a bridge call
func (m *Metrics) RecordBridgeCall(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BridgeCalls.WithLabelValues(method, status).Inc()
	m.BridgeDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBridgeError records a bridge failure
func (m *Metrics) RecordBridgeError(method, reason string) {
	if m == nil {
		return
	}
	m.BridgeErrors.WithLabelValues(method, reason).Inc()
}

// RecordCrash records a crash storm for a package
func (m *Metrics) RecordCrash(pkg string) {
	if m == nil {
		return
	}
	m.CrashEvents.WithLabelValues(pkg).Inc()
}

// IncSafeMode counts safe mode entries
func (m *Metrics) IncSafeMode() {
	if m == nil {
		return
	}
	m.SafeModeTriggers.Inc()
}
