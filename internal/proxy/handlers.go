// Handlers for the health, auth status, and stats endpoints.
package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// handleHealthz reports liveness. Requires no authentication.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "maximize",
		"timestamp": time.Now().Unix(),
	})
}

// handleAuthStatus reports OAuth token state without exposing the tokens.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.oauth.Storage().Status())
}

// handleDebugToken exposes masked token material for troubleshooting.
func (s *Server) handleDebugToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	tokens, err := s.oauth.Storage().LoadTokens()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "api_error", "failed to load tokens")
		return
	}
	if tokens == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"has_tokens": false})
		return
	}

	resp := map[string]interface{}{
		"has_tokens":    true,
		"source":        s.oauth.Storage().TokenSource(),
		"access_token":  maskToken(tokens.AccessToken),
		"refresh_token": maskToken(tokens.RefreshToken),
		"token_length":  len(tokens.AccessToken),
		"expires_at":    tokens.ExpiresAt,
	}
	if !strings.HasPrefix(tokens.AccessToken, "sk-ant-") && !strings.HasPrefix(tokens.AccessToken, "sess-") {
		resp["warning"] = "access token has an unrecognized format"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStats returns in-memory counters plus persisted usage totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	resp := map[string]interface{}{
		"counters": s.metrics.Stats(),
	}
	if stats, err := s.usage.Stats(r.Context()); err == nil && stats != nil {
		resp["usage"] = stats
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

// maskToken keeps the first and last few characters for identification.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 16 {
		return "..."
	}
	return token[:12] + "..." + token[len(token)-4:]
}
