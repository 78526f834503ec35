// The /v1/messages relay handler.
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/automa016/maximize/internal/monitoring"
	"github.com/automa016/maximize/internal/store"
)

const (
	// maxRequestBody bounds incoming request size.
	maxRequestBody = 50 << 20

	// maxResponseBody bounds non-streaming upstream responses.
	maxResponseBody = 100 << 20

	// maxErrorBody bounds how much of an upstream error body is logged.
	maxErrorBody = 1 << 20
)

// handleMessages relays a Messages API request to the Anthropic API.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	requestID := monitoring.RequestIDFromContext(r.Context())
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if len(body) > maxRequestBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		return
	}
	if !gjson.ValidBytes(body) {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}

	body, requested, resolved := resolveModel(body, s.cfg)
	stream := gjson.GetBytes(body, "stream").Bool()

	token, err := s.oauth.GetValidToken(r.Context())
	if err != nil {
		s.alerts.FlagRefreshFailed(requestID, err)
		s.writeError(w, http.StatusInternalServerError, "api_error", "token refresh failed")
		return
	}
	if token == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication_error",
			"OAuth token missing or expired. Run `maximize login` to authenticate.")
		return
	}

	body = ensureThinkingBudget(body)
	body = sanitizeRequest(body)
	body = injectSystemPrompt(body)

	ctx := r.Context()
	if !stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.API.RequestTimeout)
		defer cancel()
	}

	upReq, err := s.buildUpstreamRequest(ctx, body, token, r.Header.Get("anthropic-beta"), stream)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "api_error", "failed to build upstream request")
		return
	}

	s.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: requestID,
		TargetURL: upReq.URL.String(),
		Model:     resolved,
		Stream:    stream,
		BodySize:  len(body),
	})

	resp, err := s.httpClient.Do(upReq)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "api_error", "upstream request failed")
		s.recordRelay(requestID, requested, resolved, stream, http.StatusBadGateway, start, 0, 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.relayUpstreamError(w, resp, requestID)
		s.recordRelay(requestID, requested, resolved, stream, resp.StatusCode, start, 0, 0)
		return
	}

	if stream {
		if err := s.relayStream(w, resp.Body); err != nil {
			s.logger.Warn().Str("request_id", requestID).Err(err).Msg("stream relay aborted")
		}
		s.recordRelay(requestID, requested, resolved, stream, resp.StatusCode, start, 0, 0)
		return
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "api_error", "failed to read upstream response")
		s.recordRelay(requestID, requested, resolved, stream, http.StatusBadGateway, start, 0, 0)
		return
	}

	inputTokens := int(gjson.GetBytes(respBody, "usage.input_tokens").Int())
	outputTokens := int(gjson.GetBytes(respBody, "usage.output_tokens").Int())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		s.logger.Warn().Str("request_id", requestID).Err(err).Msg("failed to write response")
	}

	s.recordRelay(requestID, requested, resolved, stream, resp.StatusCode, start, inputTokens, outputTokens)
}

// relayUpstreamError propagates an upstream error response. JSON bodies pass
// through verbatim so clients see the API's own error shape.
func (s *Server) relayUpstreamError(w http.ResponseWriter, resp *http.Response, requestID string) {
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	logged := string(errBody)
	if len(logged) > 500 {
		logged = logged[:500]
	}
	s.alerts.FlagUpstreamError(requestID, resp.StatusCode, logged)

	if gjson.ValidBytes(errBody) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(errBody)
		return
	}
	s.writeError(w, resp.StatusCode, "api_error", "upstream error")
}

// relayStream copies the upstream SSE byte stream to the client, flushing
// after every read so events arrive as they are produced.
func (s *Server) relayStream(w http.ResponseWriter, upstream io.Reader) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := upstream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// recordRelay updates metrics, the usage store, and the relay log.
func (s *Server) recordRelay(requestID, requested, resolved string, stream bool, status int, start time.Time, inputTokens, outputTokens int) {
	duration := time.Since(start)
	success := status >= 200 && status < 300

	if inputTokens > 0 || outputTokens > 0 {
		s.metrics.RecordUsage(inputTokens, outputTokens)
	}

	// The request context may already be canceled by the time the relay
	// finishes, so persist with a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.usage.Record(ctx, &store.RelayRecord{
		RequestID:      requestID,
		Timestamp:      start.UTC(),
		RequestedModel: requested,
		ResolvedModel:  resolved,
		Stream:         stream,
		StatusCode:     status,
		DurationMs:     duration.Milliseconds(),
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
	}); err != nil {
		s.logger.Warn().Str("request_id", requestID).Err(err).Msg("failed to persist relay record")
	}

	s.requestLogger.LogRelay(&monitoring.RelayEvent{
		RequestID:      requestID,
		Timestamp:      start,
		RequestedModel: requested,
		ResolvedModel:  resolved,
		Stream:         stream,
		StatusCode:     status,
		Success:        success,
		DurationMs:     duration.Milliseconds(),
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
	})
}
