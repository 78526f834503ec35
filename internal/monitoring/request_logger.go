// Package monitoring - request_logger.go logs HTTP request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming: Request received from client
//   - LogOutgoing: Request forwarded to the Anthropic API
//   - LogResponse: Response sent back to client
//   - LogRelay:    Completed relay with model resolution and usage
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	BodySize   int
	StartTime  time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		BodySize:   bodySize,
		StartTime:  time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Int("body_size", info.BodySize).
		Msg("incoming")
}

// OutgoingRequestInfo contains outgoing request information.
type OutgoingRequestInfo struct {
	RequestID string
	TargetURL string
	Model     string
	Stream    bool
	BodySize  int
}

// LogOutgoing logs a request forwarded upstream.
func (rl *RequestLogger) LogOutgoing(info *OutgoingRequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("target", info.TargetURL).
		Str("model", info.Model).
		Bool("stream", info.Stream).
		Int("body_size", info.BodySize).
		Msg("outgoing")
}

// ResponseInfo contains response information.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}

// LogRelay logs a completed /v1/messages relay.
func (rl *RequestLogger) LogRelay(event *RelayEvent) {
	evt := rl.logger.Info().
		Str("request_id", event.RequestID).
		Str("model", event.RequestedModel).
		Int("status", event.StatusCode).
		Int64("duration_ms", event.DurationMs)
	if event.ResolvedModel != event.RequestedModel {
		evt = evt.Str("resolved_model", event.ResolvedModel)
	}
	if event.InputTokens > 0 || event.OutputTokens > 0 {
		evt = evt.Int("input_tokens", event.InputTokens).Int("output_tokens", event.OutputTokens)
	}
	evt.Msg("relay")
}
