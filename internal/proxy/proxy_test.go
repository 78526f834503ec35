package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/config"
	"github.com/automa016/maximize/internal/store"
)

// newTestServer builds a Server with valid tokens on disk and an optional
// mock upstream.
func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()
	t.Setenv("MAXIMIZE_ACCESS_TOKEN", "")
	t.Setenv("MAXIMIZE_REFRESH_TOKEN", "")

	cfg := config.Default()
	cfg.Server.LogLevel = "error"

	mgr, err := auth.NewManager(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	require.NoError(t, mgr.Storage().SaveTokens("test-access-token", "test-refresh-token", 3600))

	s := New(cfg, mgr, store.NopStore{})
	if upstreamURL != "" {
		s.upstreamBase = upstreamURL
	}
	return s
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestAuthStatusEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auth/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, gjson.GetBytes(body, "has_tokens").Bool())
	assert.False(t, gjson.GetBytes(body, "is_expired").Bool())
}

func TestDebugTokenMasksTokens(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/token")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	masked := gjson.GetBytes(body, "access_token").String()
	assert.Equal(t, "test-access-...oken", masked)
	assert.NotContains(t, masked, "test-access-token")
	assert.Equal(t, "file", gjson.GetBytes(body, "source").String())
	assert.EqualValues(t, len("test-access-token"), gjson.GetBytes(body, "token_length").Int())
}

func TestMessagesRelay(t *testing.T) {
	var upstreamBody []byte
	var upstreamHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		upstreamHeaders = r.Header.Clone()
		assert.Equal(t, "beta=true", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":12,"output_tokens":3}}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	reqBody := `{"model":"s","max_tokens":64,"messages":[{"role":"user","content":"ping"}]}`
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "msg_1", gjson.GetBytes(body, "id").String())

	// Nickname expanded before forwarding
	assert.Equal(t, "claude-3-5-sonnet-20241022", gjson.GetBytes(upstreamBody, "model").String())

	// Identity block injected first
	blocks := gjson.GetBytes(upstreamBody, "system").Array()
	require.NotEmpty(t, blocks)
	assert.Contains(t, blocks[0].Get("text").String(), "Claude Code")

	// OAuth token and required betas forwarded
	assert.Equal(t, "Bearer test-access-token", upstreamHeaders.Get("Authorization"))
	for _, beta := range config.RequiredBetas {
		assert.Contains(t, upstreamHeaders.Get("anthropic-beta"), beta)
	}
	assert.Equal(t, cliUserAgent, upstreamHeaders.Get("User-Agent"))
}

func TestMessagesRelayStreaming(t *testing.T) {
	events := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, events)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	reqBody := `{"model":"s","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"ping"}]}`
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, events, string(body))
}

func TestMessagesWithoutToken(t *testing.T) {
	t.Setenv("MAXIMIZE_ACCESS_TOKEN", "")
	t.Setenv("MAXIMIZE_REFRESH_TOKEN", "")

	cfg := config.Default()
	cfg.Server.LogLevel = "error"
	mgr, err := auth.NewManager(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	s := New(cfg, mgr, store.NopStore{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"s","max_tokens":1,"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "authentication_error", gjson.GetBytes(body, "error.type").String())
}

func TestMessagesInvalidJSON(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessagesUpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"s","messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "max_tokens required", gjson.GetBytes(body, "error.message").String())
}

func TestAPIKeyAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)
	s.cfg.APIKey = "secret-key"
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	reqBody := `{"model":"s","max_tokens":1,"messages":[]}`

	// Missing key
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Bearer form
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// x-api-key form
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/messages", strings.NewReader(reqBody))
	req.Header.Set("x-api-key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Contains(t, parsed, "counters")
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2)

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))

	// Other IPs are unaffected
	assert.True(t, rl.allow("5.6.7.8"))
}

func TestRateLimiterEviction(t *testing.T) {
	rl := newRateLimiter(1)
	rl.maxBuckets = 2

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
	assert.True(t, rl.allow("c"))
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.LessOrEqual(t, len(rl.requests), 2)
}
