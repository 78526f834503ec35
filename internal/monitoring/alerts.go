// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:   Warn when a relay exceeds the latency threshold
//   - FlagUpstreamError: Warn on upstream 4xx/5xx responses
//   - FlagRefreshFailed: Error when an OAuth token refresh fails
//   - FlagPanic:         Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = 30 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when relay latency exceeds the threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, path string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("path", path).
		Msg("high_latency")
}

// FlagUpstreamError logs an upstream API error response.
func (am *AlertManager) FlagUpstreamError(requestID string, statusCode int, body string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Int("status", statusCode).
		Str("body", body).
		Msg("upstream_error")
}

// FlagRefreshFailed logs a failed OAuth token refresh.
func (am *AlertManager) FlagRefreshFailed(requestID string, err error) {
	am.logger.Error().
		Str("request_id", requestID).
		Err(err).
		Msg("token_refresh_failed")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Msg("panic_recovered")
}
