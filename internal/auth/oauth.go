package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/automa016/maximize/internal/config"
)

// pkceData persists the verifier between the authorize and exchange steps.
type pkceData struct {
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

type tokenRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
}

// Manager drives the OAuth PKCE flow and token refresh against the
// Anthropic Console endpoints.
type Manager struct {
	storage    *TokenStorage
	pkceFile   string
	httpClient *http.Client

	// tokenBase overrides the token endpoint base URL in tests.
	tokenBase string

	// OnRefreshResult, when set, is invoked after every refresh attempt
	// that reached the token endpoint. The proxy uses it to feed its
	// refresh counters.
	OnRefreshResult func(success bool)

	// refreshMu serializes refreshes so concurrent proxied requests do not
	// trigger duplicate token exchanges.
	refreshMu sync.Mutex
}

// NewManager creates an OAuth manager backed by the given token file.
func NewManager(tokenFile string) (*Manager, error) {
	storage, err := NewTokenStorage(tokenFile)
	if err != nil {
		return nil, err
	}

	return &Manager{
		storage:    storage,
		pkceFile:   filepath.Join(os.TempDir(), "maximize_oauth_pkce.json"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenBase:  config.AuthBaseToken,
	}, nil
}

// Storage exposes the underlying token storage.
func (m *Manager) Storage() *TokenStorage { return m.storage }

func (m *Manager) savePKCE(codeVerifier, state string) error {
	raw, err := json.Marshal(pkceData{CodeVerifier: codeVerifier, State: state})
	if err != nil {
		return err
	}
	return os.WriteFile(m.pkceFile, raw, 0600)
}

func (m *Manager) loadPKCE() (*pkceData, error) {
	raw, err := os.ReadFile(m.pkceFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data pkceData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Manager) clearPKCE() {
	_ = os.Remove(m.pkceFile)
}

// generatePKCE returns a high-entropy code verifier and its S256 challenge.
func generatePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// AuthorizeURL builds the authorization URL and persists the PKCE verifier
// for the subsequent exchange. The verifier doubles as the state value.
func (m *Manager) AuthorizeURL() (string, error) {
	verifier, challenge, err := generatePKCE()
	if err != nil {
		return "", err
	}
	state := verifier

	if err := m.savePKCE(verifier, state); err != nil {
		return "", fmt.Errorf("failed to save PKCE data: %w", err)
	}

	u, err := url.Parse(config.AuthBaseAuthorize + "/oauth/authorize")
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("code", "true")
	q.Set("client_id", config.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", config.RedirectURI)
	q.Set("scope", config.Scopes)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExchangeCode exchanges an authorization code for tokens. Codes arrive from
// the browser in CODE#STATE form.
func (m *Manager) ExchangeCode(ctx context.Context, code string) error {
	parts := strings.SplitN(code, "#", 2)
	if len(parts) < 2 {
		return fmt.Errorf("invalid code format, expected CODE#STATE")
	}
	actualCode, state := parts[0], parts[1]

	// Prefer the saved verifier (interactive flow). Without it, the state is
	// the verifier (environment variable flow).
	verifier := state
	if saved, err := m.loadPKCE(); err == nil && saved != nil {
		log.Debug().Msg("using PKCE verifier from file")
		verifier = saved.CodeVerifier
	} else {
		log.Debug().Msg("using state as PKCE verifier")
	}

	var resp tokenResponse
	err := m.postToken(ctx, tokenRequest{
		Code:         actualCode,
		State:        state,
		GrantType:    "authorization_code",
		ClientID:     config.ClientID,
		RedirectURI:  config.RedirectURI,
		CodeVerifier: verifier,
	}, &resp)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	expiresIn := defaultExpiresIn
	if resp.ExpiresIn != nil {
		expiresIn = *resp.ExpiresIn
	}
	log.Info().Int64("expires_in", expiresIn).Msg("token exchange successful")

	if err := m.storage.SaveTokens(resp.AccessToken, resp.RefreshToken, expiresIn); err != nil {
		return err
	}

	m.clearPKCE()
	return nil
}

// RefreshTokens attempts a refresh_token grant. Returns false (without error)
// when no refresh token exists or the upstream rejects it; errors indicate
// network-level failures.
func (m *Manager) RefreshTokens(ctx context.Context) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another request may have refreshed while we waited for the lock.
	if !m.storage.IsTokenExpired() {
		return true, nil
	}

	refreshToken := m.storage.RefreshToken()
	if refreshToken == "" {
		log.Warn().Msg("no refresh token available")
		return false, nil
	}

	log.Info().Msg("refreshing OAuth tokens")

	var resp tokenResponse
	err := m.postToken(ctx, refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     config.ClientID,
	}, &resp)
	if err != nil {
		m.notifyRefresh(false)
		var upstreamErr *upstreamError
		if errors.As(err, &upstreamErr) {
			log.Error().Int("status", upstreamErr.status).Str("body", upstreamErr.body).Msg("token refresh rejected")
			return false, nil
		}
		return false, err
	}
	m.notifyRefresh(true)

	expiresIn := defaultExpiresIn
	if resp.ExpiresIn != nil {
		expiresIn = *resp.ExpiresIn
	}
	log.Info().Int64("expires_in", expiresIn).Msg("token refresh successful")

	if err := m.storage.SaveTokens(resp.AccessToken, resp.RefreshToken, expiresIn); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) notifyRefresh(success bool) {
	if m.OnRefreshResult != nil {
		m.OnRefreshResult(success)
	}
}

// GetValidToken returns a usable access token, refreshing if expired.
// An empty token with nil error means the caller must re-authenticate.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if !m.storage.IsTokenExpired() {
		return m.storage.AccessToken(), nil
	}

	log.Info().Msg("token expired, attempting automatic refresh")

	refreshed, err := m.RefreshTokens(ctx)
	if err != nil {
		return "", err
	}
	if !refreshed {
		log.Error().Msg("automatic token refresh failed")
		return "", nil
	}
	return m.storage.AccessToken(), nil
}

// upstreamError is a non-2xx response from the token endpoint.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

// postToken posts a JSON payload to the OAuth token endpoint and decodes the
// token response.
func (m *Manager) postToken(ctx context.Context, payload interface{}, out *tokenResponse) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenBase+"/v1/oauth/token", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &upstreamError{status: resp.StatusCode, body: string(body)}
	}

	return json.Unmarshal(body, out)
}
