// Package monitoring exposes Prometheus metrics for the smartspacer host.
//
// Each Metrics value owns a private registry; the diagnostics server serves it
// on /metrics. Recording methods are safe on a nil *Metrics so components can
// be constructed without instrumentation in tests.
//
// Covered areas:
//   - sessions: live sessions per kind, pruned duplicates, feedback loops
//   - providers: call counts, latency and failures per authority and method
//   - bridge: call counts, latency and failure reasons
//   - supervisor: crash storms and safe mode entries
//
// Example:
//
//	metrics := monitoring.NewMetrics()
//	timer := monitoring.NewProviderTimer(metrics, authority, sdk.MethodGetTargets)
//	defer timer.Stop(monitoring.StatusOf(err))
package monitoring
