package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automa016/maximize/internal/config"
)

func newTestManager(t *testing.T, tokenBase string) *Manager {
	t.Helper()
	clearTokenEnv(t)

	mgr, err := NewManager(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	mgr.pkceFile = filepath.Join(t.TempDir(), "pkce.json")
	if tokenBase != "" {
		mgr.tokenBase = tokenBase
	}
	return mgr
}

func TestGeneratePKCE(t *testing.T) {
	verifier, challenge, err := generatePKCE()
	require.NoError(t, err)

	// 32 random bytes base64url-encoded without padding
	assert.Len(t, verifier, 43)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)

	// Each call produces fresh material
	verifier2, _, err := generatePKCE()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, verifier2)
}

func TestAuthorizeURL(t *testing.T) {
	mgr := newTestManager(t, "")

	raw, err := mgr.AuthorizeURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "claude.ai", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, config.ClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, config.RedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, config.Scopes, q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	// The verifier doubles as state and is persisted for the exchange
	saved, err := mgr.loadPKCE()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, saved.CodeVerifier, q.Get("state"))
}

func TestExchangeCode(t *testing.T) {
	var received tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth/token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		expiresIn := int64(3600)
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    &expiresIn,
		})
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	_, err := mgr.AuthorizeURL()
	require.NoError(t, err)
	saved, err := mgr.loadPKCE()
	require.NoError(t, err)

	require.NoError(t, mgr.ExchangeCode(context.Background(), "the-code#the-state"))

	assert.Equal(t, "the-code", received.Code)
	assert.Equal(t, "the-state", received.State)
	assert.Equal(t, "authorization_code", received.GrantType)
	assert.Equal(t, config.ClientID, received.ClientID)
	assert.Equal(t, saved.CodeVerifier, received.CodeVerifier)

	// Tokens saved, PKCE material cleaned up
	assert.Equal(t, "new-access", mgr.Storage().AccessToken())
	_, statErr := os.Stat(mgr.pkceFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExchangeCodeWithoutSavedPKCE(t *testing.T) {
	var received tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "a", RefreshToken: "r"})
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.ExchangeCode(context.Background(), "code#state-as-verifier"))

	// With no saved verifier, the state stands in for it
	assert.Equal(t, "state-as-verifier", received.CodeVerifier)
}

func TestExchangeCodeInvalidFormat(t *testing.T) {
	mgr := newTestManager(t, "")
	err := mgr.ExchangeCode(context.Background(), "missing-state")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODE#STATE")
}

func TestRefreshTokens(t *testing.T) {
	var received refreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "refreshed-access", RefreshToken: "refreshed-refresh"})
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("old-access", "old-refresh", -100))

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)

	assert.Equal(t, "refresh_token", received.GrantType)
	assert.Equal(t, "old-refresh", received.RefreshToken)
	assert.Equal(t, "refreshed-access", mgr.Storage().AccessToken())
}

func TestRefreshTokensRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("old", "bad-refresh", -100))

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestRefreshNotifiesListener(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "a", RefreshToken: "r"})
	}))
	defer srv.Close()

	var results []bool
	mgr := newTestManager(t, srv.URL)
	mgr.OnRefreshResult = func(success bool) { results = append(results, success) }
	require.NoError(t, mgr.Storage().SaveTokens("old", "refresh", -100))

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, []bool{true}, results)
}

func TestRefreshNotifiesListenerOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	var results []bool
	mgr := newTestManager(t, srv.URL)
	mgr.OnRefreshResult = func(success bool) { results = append(results, success) }
	require.NoError(t, mgr.Storage().SaveTokens("old", "bad-refresh", -100))

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, []bool{false}, results)
}

func TestRefreshTokensNetworkError(t *testing.T) {
	mgr := newTestManager(t, "http://127.0.0.1:1")
	require.NoError(t, mgr.Storage().SaveTokens("old", "refresh", -100))

	refreshed, err := mgr.RefreshTokens(context.Background())
	assert.Error(t, err)
	assert.False(t, refreshed)
}

func TestRefreshTokensWithoutRefreshToken(t *testing.T) {
	mgr := newTestManager(t, "http://127.0.0.1:1")

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestRefreshSkippedWhenValid(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("fresh", "refresh", 3600))

	refreshed, err := mgr.RefreshTokens(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Zero(t, calls)
}

func TestGetValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "refreshed", RefreshToken: "r2"})
	}))
	defer srv.Close()

	// Fresh token returned directly
	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("fresh", "r", 3600))
	token, err := mgr.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	// Expired token triggers a refresh
	mgr = newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("stale", "r", -100))
	token, err = mgr.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token)
}

func TestGetValidTokenNeedsReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mgr := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Storage().SaveTokens("stale", "dead-refresh", -100))

	token, err := mgr.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}
