// Upstream request construction for the Anthropic API.
package proxy

import (
	"bytes"
	"context"
	"net/http"

	"github.com/automa016/maximize/internal/config"
)

// upstreamPath includes beta=true, required for OAuth-authenticated calls.
const upstreamPath = "/v1/messages?beta=true"

// cliUserAgent matches the Claude Code CLI. The API rejects OAuth requests
// from clients it does not recognize.
const cliUserAgent = "claude-cli/1.0.113 (external, cli)"

// stainlessHeaders mimic the official SDK's telemetry headers.
var stainlessHeaders = map[string]string{
	"X-Stainless-Retry-Count":     "0",
	"X-Stainless-Timeout":         "60",
	"X-Stainless-Lang":            "js",
	"X-Stainless-Package-Version": "0.55.1",
	"X-Stainless-OS":              "MacOS",
	"X-Stainless-Arch":            "arm64",
	"X-Stainless-Runtime":         "node",
	"X-Stainless-Runtime-Version": "v24.3.0",
}

// buildUpstreamRequest assembles the outgoing request to the Anthropic API
// with the OAuth bearer token and the header set the API expects from
// Claude Code.
func (s *Server) buildUpstreamRequest(ctx context.Context, body []byte, token, clientBetas string, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.upstreamBase+upstreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "*")
	h.Set("Authorization", "Bearer "+token)
	h.Set("anthropic-version", config.AnthropicVersion)
	h.Set("anthropic-beta", mergeBetas(clientBetas))
	h.Set("anthropic-dangerous-direct-browser-access", "true")
	h.Set("User-Agent", cliUserAgent)
	h.Set("x-app", "cli")
	h.Set("sec-fetch-mode", "cors")
	for k, v := range stainlessHeaders {
		h.Set(k, v)
	}
	if stream {
		h.Set("x-stainless-helper-method", "stream")
	}

	return req, nil
}
