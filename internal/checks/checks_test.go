package checks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// newStubProxy fakes the relay surface the checks probe. requireKey
// makes /v1/messages demand the given bearer key, answering 401
// otherwise. rejectModels lists models answered with an
// invalid_request_error.
func newStubProxy(t *testing.T, requireKey string, rejectModels ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok","service":"maximize"}`)
	})
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"has_tokens":true,"is_expired":false,"time_until_expiry":"7h 52m"}`)
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if requireKey != "" && r.Header.Get("Authorization") != "Bearer "+requireKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid api key"}}`)
			return
		}

		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()

		for _, rejected := range rejectModels {
			if model == rejected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"model not found"}}`)
				return
			}
		}

		if gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
			io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"1 2 \"}}\n\n")
			io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"3 4 5\"}}\n\n")
			io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if gjson.GetBytes(body, "thinking.type").String() == "enabled" {
			io.WriteString(w, `{"content":[{"type":"thinking","thinking":"27*43=1161"},{"type":"text","text":"1161"}],"usage":{"input_tokens":20,"output_tokens":30}}`)
			return
		}
		io.WriteString(w, `{"content":[{"type":"text","text":"OK"}],"usage":{"input_tokens":10,"output_tokens":2}}`)
	})
	return httptest.NewServer(mux)
}

func TestSuiteAllPass(t *testing.T) {
	srv := newStubProxy(t, "")
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), env, Suite())

	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 7, summary.Passed())
	assert.True(t, summary.Success())
	assert.False(t, summary.Interrupted)
	assert.Contains(t, out.String(), "7/7 checks passed")
}

func TestSuiteWithEnforcedKey(t *testing.T) {
	srv := newStubProxy(t, "test-key")
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), env, Suite())

	assert.Equal(t, 7, summary.Passed())
}

func TestAPIKeyAuthToleratesRejectedKey(t *testing.T) {
	srv := newStubProxy(t, "right-key")
	defer srv.Close()

	// Both the bare and the keyed request answer 401: auth is enforced,
	// the configured key is just wrong. That proves the middleware works.
	env := NewEnv(srv.URL, "wrong-key")
	require.NoError(t, checkAPIKeyAuth(context.Background(), env))

	warnings := env.takeWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "rejected")
}

func TestAuthStatusWarnsWithoutTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"has_tokens":false,"is_expired":true,"time_until_expiry":"No tokens"}`)
	}))
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	require.NoError(t, checkAuthStatus(context.Background(), env))

	warnings := env.takeWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "maximize login")
}

func TestAuthStatusWarnsWhenExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"has_tokens":true,"is_expired":true,"time_until_expiry":"5m ago"}`)
	}))
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	require.NoError(t, checkAuthStatus(context.Background(), env))

	warnings := env.takeWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "expired")
}

func TestThinkingWithoutBlockWarns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"1161"}],"usage":{"input_tokens":20,"output_tokens":5}}`)
	}))
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	require.NoError(t, checkThinking(context.Background(), env))

	warnings := env.takeWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "thinking block")
}

func TestRunnerPrintsWarnings(t *testing.T) {
	checks := []Check{
		{Name: "warns", Run: func(_ context.Context, env *Env) error {
			env.Warnf("something noteworthy")
			return nil
		}},
	}

	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), NewEnv("http://unused", "k"), checks)

	assert.Equal(t, 1, summary.Passed())
	require.Len(t, summary.Results[0].Warnings, 1)
	assert.Contains(t, out.String(), "warning:")
	assert.Contains(t, out.String(), "something noteworthy")
}

func TestHealthTimeoutsDiffer(t *testing.T) {
	if testing.Short() {
		t.Skip("slow stub")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2500 * time.Millisecond)
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	assert.Error(t, checkHealthQuick(context.Background(), env))
	assert.NoError(t, checkHealth(context.Background(), env))
}

func TestNicknamesTolerateUnavailable(t *testing.T) {
	srv := newStubProxy(t, "", "xl", "xxl")
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	assert.NoError(t, checkNicknames(context.Background(), env))
}

func TestNicknamesAllUnavailable(t *testing.T) {
	srv := newStubProxy(t, "", nicknameSweep...)
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	err := checkNicknames(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nickname resolved")
}

func TestQuickSuite(t *testing.T) {
	srv := newStubProxy(t, "")
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), env, QuickSuite())

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Passed())
}

func TestLocalSuite(t *testing.T) {
	srv := newStubProxy(t, "")
	defer srv.Close()

	env := NewEnv(srv.URL, "test-key")
	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), env, LocalSuite())

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Passed())
}

func TestSuiteAgainstDeadServer(t *testing.T) {
	env := NewEnv("http://127.0.0.1:1", "test-key")
	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), env, QuickSuite())

	assert.Equal(t, 0, summary.Passed())
	assert.False(t, summary.Success())
	assert.Contains(t, out.String(), "Troubleshooting")
}

func TestSummaryThreshold(t *testing.T) {
	pass := Result{Name: "a"}
	fail := Result{Name: "b", Err: errors.New("boom")}

	s := &Summary{Total: 7, Results: []Result{pass, pass, pass, pass, pass, fail, fail}}
	assert.InDelta(t, 5.0/7.0, s.PassRate(), 0.001)
	assert.True(t, s.Success())

	s = &Summary{Total: 7, Results: []Result{pass, pass, pass, pass, fail, fail, fail}}
	assert.False(t, s.Success())
}

func TestRunnerInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := newStubProxy(t, "")
	defer srv.Close()

	var out bytes.Buffer
	summary := NewRunner(&out).Run(ctx, NewEnv(srv.URL, "k"), Suite())

	assert.True(t, summary.Interrupted)
	assert.Empty(t, summary.Results)
	assert.False(t, summary.Success())
}

func TestRunnerPanicRecovery(t *testing.T) {
	checks := []Check{
		{Name: "explodes", Run: func(context.Context, *Env) error { panic("boom") }},
		{Name: "fine", Run: func(context.Context, *Env) error { return nil }},
	}

	var out bytes.Buffer
	summary := NewRunner(&out).Run(context.Background(), NewEnv("http://unused", "k"), checks)

	require.Len(t, summary.Results, 2)
	assert.False(t, summary.Results[0].Passed())
	assert.Contains(t, summary.Results[0].Err.Error(), "panicked")
	assert.True(t, summary.Results[1].Passed())
}

func TestEnvFromEnvironment(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://localhost:9999")
	t.Setenv(EnvAPIKey, "custom-key")

	env := EnvFromEnvironment()
	assert.Equal(t, "http://localhost:9999", env.BaseURL)
	assert.Equal(t, "custom-key", env.APIKey)

	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvAPIKey, "")
	env = EnvFromEnvironment()
	assert.Equal(t, DefaultBaseURL, env.BaseURL)
	assert.Equal(t, DefaultAPIKey, env.APIKey)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(none)", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	masked := maskKey(DefaultAPIKey)
	assert.True(t, strings.HasPrefix(masked, "max-5763"))
	assert.NotContains(t, masked, "8768-")
}
