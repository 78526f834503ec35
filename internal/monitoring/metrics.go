// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:       Total and successful relay counts
//   - input/output tokens:      Usage totals reported by the upstream
//   - token_refreshes/failures: OAuth refresh activity
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	requests        atomic.Int64
	successes       atomic.Int64
	inputTokens     atomic.Int64
	outputTokens    atomic.Int64
	tokenRefreshes  atomic.Int64
	refreshFailures atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records a relayed request.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordUsage records token usage reported by the upstream.
func (mc *MetricsCollector) RecordUsage(inputTokens, outputTokens int) {
	mc.inputTokens.Add(int64(inputTokens))
	mc.outputTokens.Add(int64(outputTokens))
}

// RecordTokenRefresh records an OAuth refresh attempt.
func (mc *MetricsCollector) RecordTokenRefresh(success bool) {
	mc.tokenRefreshes.Add(1)
	if !success {
		mc.refreshFailures.Add(1)
	}
}

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":         mc.requests.Load(),
		"successes":        mc.successes.Load(),
		"input_tokens":     mc.inputTokens.Load(),
		"output_tokens":    mc.outputTokens.Load(),
		"token_refreshes":  mc.tokenRefreshes.Load(),
		"refresh_failures": mc.refreshFailures.Load(),
	}
}
