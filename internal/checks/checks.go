// Package checks implements the diagnostic suite for a running Maximize
// deployment. Each check exercises one piece of the relay surface and
// reports pass or fail; the suite passes when at least passThreshold of
// the checks do.
package checks

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/automa016/maximize/internal/anthropic"
)

const (
	// DefaultBaseURL is the production deployment, used when
	// MAXIMIZE_BASE_URL is unset.
	DefaultBaseURL = "https://maximize.automa.016180.xyz"

	// DefaultAPIKey is the shared diagnostic key, used when
	// MAXIMIZE_API_KEY is unset.
	DefaultAPIKey = "max-5763-2548-9184-0810-2743-7182-4371-2878-9576-8768"

	// EnvBaseURL and EnvAPIKey override the defaults.
	EnvBaseURL = "MAXIMIZE_BASE_URL"
	EnvAPIKey  = "MAXIMIZE_API_KEY"

	// passThreshold is the minimum pass rate for overall success.
	passThreshold = 0.7
)

// Per-check timeouts. Endpoint probes are fast; message relays wait on
// the upstream model. The quick liveness probe uses a tighter deadline
// than the full suite's health check.
const (
	quickHealthTimeout = 2 * time.Second
	statusTimeout      = 5 * time.Second
	messageTimeout     = 30 * time.Second
)

// Env carries the target deployment and shared clients for all checks.
type Env struct {
	BaseURL string
	APIKey  string
	Client  *anthropic.Client
	HTTP    *http.Client

	warnings []string
}

// Warnf records a non-fatal observation. Warnings are printed under the
// check's status line and do not affect the pass tally.
func (e *Env) Warnf(format string, args ...interface{}) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

// takeWarnings drains the warnings recorded by the last check.
func (e *Env) takeWarnings() []string {
	w := e.warnings
	e.warnings = nil
	return w
}

// NewEnv creates a check environment for the given target.
func NewEnv(baseURL, apiKey string) *Env {
	return &Env{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  anthropic.NewClient(baseURL, apiKey),
		HTTP:    &http.Client{},
	}
}

// EnvFromEnvironment builds an Env from MAXIMIZE_BASE_URL and
// MAXIMIZE_API_KEY, falling back to the production defaults.
func EnvFromEnvironment() *Env {
	baseURL := os.Getenv(EnvBaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiKey := os.Getenv(EnvAPIKey)
	if apiKey == "" {
		apiKey = DefaultAPIKey
	}
	return NewEnv(baseURL, apiKey)
}

// Check is a single named diagnostic.
type Check struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}
