// Package auth manages Anthropic OAuth tokens for the proxy.
//
// DESIGN: Tokens live in ~/.maximize/tokens.json (0600, directory 0700).
// Environment variables override the file for containerized deployments:
//
//	MAXIMIZE_ACCESS_TOKEN / MAXIMIZE_REFRESH_TOKEN   token pair (both required)
//	MAXIMIZE_TOKEN_EXPIRES_AT                        absolute unix expiry (preferred)
//	MAXIMIZE_TOKEN_EXPIRES_IN                        relative seconds (default 86400)
//
// When env tokens match the ones already on disk, the file's expiry is kept
// so restarts do not reset the clock.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// expiryBuffer treats tokens as expired slightly early so in-flight requests
// never race the real expiry.
const expiryBuffer = 60 * time.Second

// defaultExpiresIn is assumed when the token source reports no expiry.
const defaultExpiresIn = int64(86400)

// TokenData is the on-disk token record.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// TokenStatus is the shape served by /auth/status.
type TokenStatus struct {
	HasTokens        bool   `json:"has_tokens"`
	IsExpired        bool   `json:"is_expired"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	TimeUntilExpiry  string `json:"time_until_expiry"`
	ExpiresInSeconds *int64 `json:"expires_in_seconds"`
}

// TokenStorage persists and loads the OAuth token pair.
type TokenStorage struct {
	path string
}

// NewTokenStorage creates storage rooted at tokenFile, creating the parent
// directory with restrictive permissions.
func NewTokenStorage(tokenFile string) (*TokenStorage, error) {
	if info, err := os.Stat(tokenFile); err == nil && info.IsDir() {
		return nil, fmt.Errorf("token file path '%s' is a directory; expected a file like %s", tokenFile, filepath.Join(tokenFile, "tokens.json"))
	}

	s := &TokenStorage{path: tokenFile}
	if err := s.ensureSecureDir(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TokenStorage) ensureSecureDir() error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	return nil
}

// Path returns the token file location.
func (s *TokenStorage) Path() string { return s.path }

// SaveTokens writes a token pair expiring in expiresIn seconds.
func (s *TokenStorage) SaveTokens(accessToken, refreshToken string, expiresIn int64) error {
	return s.saveTokenData(&TokenData{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Unix() + expiresIn,
	})
}

func (s *TokenStorage) saveTokenData(data *TokenData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (s *TokenStorage) loadFromFile() (*TokenData, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file %s: %w", s.path, err)
	}

	var data TokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse token file as JSON: %w", err)
	}
	return &data, nil
}

// LoadTokens returns the current token pair, preferring populated environment
// variables over the file. Returns nil when no tokens exist anywhere.
func (s *TokenStorage) LoadTokens() (*TokenData, error) {
	accessToken := os.Getenv("MAXIMIZE_ACCESS_TOKEN")
	refreshToken := os.Getenv("MAXIMIZE_REFRESH_TOKEN")

	if accessToken != "" && refreshToken != "" {
		// Same token already on disk: keep its expiry instead of resetting it.
		if existing, err := s.loadFromFile(); err == nil && existing != nil && existing.AccessToken == accessToken {
			log.Debug().Msg("loading tokens from environment (preserving stored expiry)")
			return existing, nil
		}

		data := &TokenData{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    envExpiry(),
		}
		log.Debug().Int64("expires_at", data.ExpiresAt).Msg("loading new tokens from environment")

		// Persist so the expiry survives restarts.
		if err := s.saveTokenData(data); err != nil {
			log.Warn().Err(err).Msg("failed to persist environment tokens to file")
		}
		return data, nil
	}

	return s.loadFromFile()
}

// envExpiry resolves the expiry for environment-supplied tokens, preferring
// the absolute timestamp over a relative TTL.
func envExpiry() int64 {
	if v := os.Getenv("MAXIMIZE_TOKEN_EXPIRES_AT"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ts
		}
		log.Warn().Str("value", v).Msg("invalid MAXIMIZE_TOKEN_EXPIRES_AT, falling back to relative expiry")
	}

	expiresIn := defaultExpiresIn
	if v := os.Getenv("MAXIMIZE_TOKEN_EXPIRES_IN"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			expiresIn = secs
		}
	}
	return time.Now().Unix() + expiresIn
}

// TokenSource reports where LoadTokens finds the token pair.
func (s *TokenStorage) TokenSource() string {
	if os.Getenv("MAXIMIZE_ACCESS_TOKEN") != "" && os.Getenv("MAXIMIZE_REFRESH_TOKEN") != "" {
		return "environment"
	}
	return "file"
}

// ClearTokens removes the token file.
func (s *TokenStorage) ClearTokens() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsTokenExpired reports whether the stored token is expired or absent.
func (s *TokenStorage) IsTokenExpired() bool {
	data, err := s.LoadTokens()
	if err != nil || data == nil {
		return true
	}
	return time.Now().Unix() >= data.ExpiresAt-int64(expiryBuffer.Seconds())
}

// AccessToken returns the access token when one exists and is not expired.
func (s *TokenStorage) AccessToken() string {
	if s.IsTokenExpired() {
		return ""
	}
	data, err := s.LoadTokens()
	if err != nil || data == nil {
		return ""
	}
	return data.AccessToken
}

// RefreshToken returns the refresh token regardless of access token expiry.
func (s *TokenStorage) RefreshToken() string {
	data, err := s.LoadTokens()
	if err != nil || data == nil {
		return ""
	}
	return data.RefreshToken
}

// Status summarizes token state for /auth/status and the CLI.
func (s *TokenStorage) Status() TokenStatus {
	data, err := s.LoadTokens()
	if err != nil || data == nil {
		return TokenStatus{
			HasTokens:       false,
			IsExpired:       true,
			TimeUntilExpiry: "No tokens",
		}
	}

	now := time.Now().Unix()
	expiresAt := time.Unix(data.ExpiresAt, 0).UTC().Format(time.RFC3339)

	if now >= data.ExpiresAt {
		return TokenStatus{
			HasTokens:       true,
			IsExpired:       true,
			ExpiresAt:       expiresAt,
			TimeUntilExpiry: formatAgo(now - data.ExpiresAt),
		}
	}

	remaining := data.ExpiresAt - now
	return TokenStatus{
		HasTokens:        true,
		IsExpired:        false,
		ExpiresAt:        expiresAt,
		TimeUntilExpiry:  formatRemaining(remaining),
		ExpiresInSeconds: &remaining,
	}
}

func formatRemaining(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func formatAgo(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm ago", hours, minutes)
	}
	return fmt.Sprintf("%dm ago", minutes)
}
