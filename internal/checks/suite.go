// The diagnostic checks themselves.
package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/automa016/maximize/internal/anthropic"
)

// nicknameSweep lists every model nickname the relay resolves, smallest
// to largest.
var nicknameSweep = []string{"xs", "s", "m", "l", "xl", "xxl"}

// Suite is the full remote diagnostic run.
func Suite() []Check {
	return []Check{
		{Name: "health endpoint", Run: checkHealth},
		{Name: "auth status", Run: checkAuthStatus},
		{Name: "api key auth", Run: checkAPIKeyAuth},
		{Name: "basic message", Run: checkBasicMessage},
		{Name: "streaming", Run: checkStreaming},
		{Name: "model nicknames", Run: checkNicknames},
		{Name: "extended thinking", Run: checkThinking},
	}
}

// QuickSuite is the minimal liveness probe.
func QuickSuite() []Check {
	return []Check{
		{Name: "health endpoint", Run: checkHealthQuick},
	}
}

// LocalSuite smoke-tests a local server with fixed completion cases.
func LocalSuite() []Check {
	cases := []struct {
		nick   string
		prompt string
	}{
		{"s", "Reply with exactly: OK"},
		{"m", "What is 2+2? Answer with just the number."},
		{"l", "Name one primary color."},
	}
	checks := make([]Check, 0, len(cases))
	for _, c := range cases {
		c := c
		checks = append(checks, Check{
			Name: fmt.Sprintf("local message (%s)", c.nick),
			Run: func(ctx context.Context, env *Env) error {
				resp, err := env.Client.CreateMessage(ctx, &anthropic.MessageRequest{
					Model:     c.nick,
					MaxTokens: 100,
					Messages: []anthropic.Message{
						{Role: "user", Content: c.prompt},
					},
				}, messageTimeout)
				if err != nil {
					return err
				}
				if resp.Text() == "" {
					return errors.New("empty response text")
				}
				return nil
			},
		})
	}
	return checks
}

// checkHealth probes /healthz.
func checkHealth(ctx context.Context, env *Env) error {
	return probeHealth(ctx, env, statusTimeout)
}

// checkHealthQuick is the liveness probe with the tight quick-mode deadline.
func checkHealthQuick(ctx context.Context, env *Env) error {
	return probeHealth(ctx, env, quickHealthTimeout)
}

func probeHealth(ctx context.Context, env *Env, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, status, err := getJSON(ctx, env, "/healthz")
	if err != nil {
		return fmt.Errorf("health endpoint unreachable: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", status)
	}
	if got := gjson.GetBytes(body, "status").String(); got != "ok" {
		return fmt.Errorf("unexpected health status %q", got)
	}
	return nil
}

// checkAuthStatus verifies the endpoint answers. Missing or expired
// tokens are reported as warnings, not failures, so an unauthenticated
// deployment still surfaces how to fix itself.
func checkAuthStatus(ctx context.Context, env *Env) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	body, status, err := getJSON(ctx, env, "/auth/status")
	if err != nil {
		return fmt.Errorf("auth status unreachable: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("auth status returned %d", status)
	}
	if !gjson.GetBytes(body, "has_tokens").Bool() {
		env.Warnf("server has no OAuth tokens; run `maximize login`")
	} else if gjson.GetBytes(body, "is_expired").Bool() {
		env.Warnf("OAuth tokens are expired; run `maximize refresh`")
	}
	return nil
}

// checkAPIKeyAuth probes whether the relay enforces its API key. An
// unauthenticated request answered with 401 means auth is on, so a
// keyed request must then succeed. Any other first answer means auth
// is disabled, which also passes.
func checkAPIKeyAuth(ctx context.Context, env *Env) error {
	probeCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	probe := `{"model":"s","max_tokens":1,"messages":[{"role":"user","content":"Hi"}]}`
	req, err := http.NewRequestWithContext(probeCtx, http.MethodPost, env.BaseURL+"/v1/messages", strings.NewReader(probe))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("messages endpoint unreachable: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		// No 401 without credentials: the deployment runs without an
		// API key requirement.
		return nil
	}

	// The bare request got a 401, so key auth is enforced. Any HTTP
	// answer to the keyed request confirms the middleware works; the key
	// itself being wrong is a warning, not a broken deployment.
	_, err = env.Client.CreateMessage(ctx, &anthropic.MessageRequest{
		Model:     "s",
		MaxTokens: 1,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Hi"},
		},
	}, messageTimeout)
	var apiErr *anthropic.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		env.Warnf("configured API key was rejected, but key auth is enforced")
	case errors.As(err, &apiErr):
		env.Warnf("keyed request answered %d", apiErr.StatusCode)
	default:
		return fmt.Errorf("keyed request failed: %w", err)
	}
	return nil
}

// checkBasicMessage relays one short non-streaming request.
func checkBasicMessage(ctx context.Context, env *Env) error {
	resp, err := env.Client.CreateMessage(ctx, &anthropic.MessageRequest{
		Model:     "l",
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Reply with exactly: OK"},
		},
	}, messageTimeout)
	if err != nil {
		return err
	}
	if resp.Text() == "" {
		return errors.New("empty response text")
	}
	return nil
}

// checkStreaming relays a streaming request and verifies deltas arrive.
func checkStreaming(ctx context.Context, env *Env) error {
	chunks := 0
	text, err := env.Client.StreamMessage(ctx, &anthropic.MessageRequest{
		Model:     "m",
		MaxTokens: 100,
		Stream:    true,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Count from 1 to 5"},
		},
	}, messageTimeout, func(string) { chunks++ })
	if err != nil {
		return err
	}
	if chunks == 0 {
		return errors.New("no streaming deltas received")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("empty streamed text")
	}
	return nil
}

// checkNicknames sweeps every nickname with a one-token request. A
// nickname the subscription cannot reach is tolerated; the check fails
// only when none resolve.
func checkNicknames(ctx context.Context, env *Env) error {
	resolved := 0
	var failures []string
	for _, nick := range nicknameSweep {
		_, err := env.Client.CreateMessage(ctx, &anthropic.MessageRequest{
			Model:     nick,
			MaxTokens: 1,
			Messages: []anthropic.Message{
				{Role: "user", Content: "Hi"},
			},
		}, messageTimeout)
		if err == nil {
			resolved++
			continue
		}
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && isModelUnavailable(apiErr) {
			env.Warnf("nickname %q not available on this subscription", nick)
			failures = append(failures, fmt.Sprintf("%s (unavailable)", nick))
			continue
		}
		env.Warnf("nickname %q failed: %v", nick, err)
		failures = append(failures, fmt.Sprintf("%s: %v", nick, err))
	}
	if resolved == 0 {
		return fmt.Errorf("no nickname resolved: %s", strings.Join(failures, "; "))
	}
	return nil
}

// isModelUnavailable matches rejections caused by the subscription tier
// rather than by the relay.
func isModelUnavailable(apiErr *anthropic.APIError) bool {
	if apiErr.Type == "invalid_request_error" || apiErr.Type == "not_found_error" {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "not found")
}

// checkThinking verifies extended thinking requests relay cleanly. A
// subscription without the feature is tolerated.
func checkThinking(ctx context.Context, env *Env) error {
	resp, err := env.Client.CreateMessage(ctx, &anthropic.MessageRequest{
		Model:     "l",
		MaxTokens: 4000,
		Thinking:  &anthropic.Thinking{Type: "enabled", BudgetTokens: 1024},
		Messages: []anthropic.Message{
			{Role: "user", Content: "What is 27 * 43? Think it through."},
		},
	}, messageTimeout)
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "thinking") {
			env.Warnf("extended thinking not available on this account")
			return nil
		}
		return err
	}
	if !resp.HasThinking() {
		// The relay worked even though the model skipped the thinking
		// block, so this is not a deployment failure.
		env.Warnf("response contains no thinking block; feature may not be available")
	}
	return nil
}

// getJSON fetches a proxy endpoint and returns the body and status.
func getJSON(ctx context.Context, env *Env, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.BaseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := env.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
