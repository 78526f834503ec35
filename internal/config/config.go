// Package config loads and validates the proxy configuration.
//
// DESIGN: Configuration is layered, highest precedence first:
//  1. Environment variables (PORT, BIND_ADDRESS, LOG_LEVEL, ...)
//  2. YAML config file (~/.maximize/config.yaml or ./config.yaml)
//  3. Built-in defaults
//
// YAML values support ${VAR} and ${VAR:-default} env expansion.
// A missing config file is not an error; defaults apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Maximize proxy.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Models  ModelsConfig  `yaml:"models"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`

	// APIKey guards /v1/messages when set. Env-only (MAXIMIZE_API_KEY);
	// keeping it out of the config file avoids committing secrets.
	APIKey string `yaml:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	LogLevel    string `yaml:"log_level"`
}

// ModelsConfig contains model nickname settings.
type ModelsConfig struct {
	Default string `yaml:"default"`
	// Nicknames extends or overrides the built-in nickname table.
	Nicknames map[string]string `yaml:"nicknames"`
}

// APIConfig contains upstream API settings.
type APIConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	TokenFile string `yaml:"token_file"`
	// UsageDB is the SQLite request-log path. Empty disables the usage store.
	UsageDB string `yaml:"usage_db"`
}

// Upstream constants. These match what the Claude CLI sends and are not
// user configurable.
const (
	APIBase           = "https://api.anthropic.com"
	AuthBaseAuthorize = "https://claude.ai"
	AuthBaseToken     = "https://console.anthropic.com"
	ClientID          = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	RedirectURI       = "https://console.anthropic.com/oauth/code/callback"
	Scopes            = "org:create_api_key user:profile user:inference"
	AnthropicVersion  = "2023-06-01"
)

// RequiredBetas are always sent upstream; client-supplied anthropic-beta
// values are merged in and deduplicated.
var RequiredBetas = []string{
	"claude-code-20250219",
	"oauth-2025-04-20",
	"fine-grained-tool-streaming-2025-05-14",
}

// builtinNicknames maps short model aliases to full model identifiers.
func builtinNicknames() map[string]string {
	return map[string]string{
		"xs":  "claude-3-5-haiku-20241022",
		"s":   "claude-3-5-sonnet-20241022",
		"m":   "claude-3-7-sonnet-20250219",
		"l":   "claude-sonnet-4-20250514",
		"xl":  "claude-opus-4-20250514",
		"xxl": "claude-opus-4-1-20250805",
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8081,
			BindAddress: "0.0.0.0",
			LogLevel:    "info",
		},
		Models: ModelsConfig{
			Default:   "l",
			Nicknames: builtinNicknames(),
		},
		API: APIConfig{
			RequestTimeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			TokenFile: defaultTokenFile(),
		},
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".maximize", "tokens.json")
	}
	return filepath.Join(home, ".maximize", "tokens.json")
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration, searching the standard locations when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		return LoadFromBytes(data)
	}

	for _, candidate := range searchPaths() {
		if data, err := os.ReadFile(candidate); err == nil {
			return LoadFromBytes(data)
		}
	}

	cfg := Default()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func searchPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".maximize", "config.yaml"))
	}
	return append(paths, "config.yaml")
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// YAML nickname entries extend the built-in table rather than replace it.
	nicknames := builtinNicknames()
	for k, v := range cfg.Models.Nicknames {
		nicknames[k] = v
	}
	cfg.Models.Nicknames = nicknames

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		c.Models.Default = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.API.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TOKEN_FILE"); v != "" {
		c.Storage.TokenFile = v
	}
	if v := os.Getenv("MAXIMIZE_USAGE_DB"); v != "" {
		c.Storage.UsageDB = v
	}
	c.APIKey = os.Getenv("MAXIMIZE_API_KEY")
}

// Validate checks the configuration and normalizes paths.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be positive")
	}
	if c.Storage.TokenFile == "" {
		return fmt.Errorf("storage.token_file is required")
	}

	c.Storage.TokenFile = normalizeTokenFile(expandTilde(c.Storage.TokenFile))
	if c.Storage.UsageDB != "" {
		c.Storage.UsageDB = expandTilde(c.Storage.UsageDB)
	}
	return nil
}

// ResolveModel maps a nickname to its full model identifier. Unknown names
// pass through unchanged so full model IDs keep working.
func (c *Config) ResolveModel(nickname string) string {
	if model, ok := c.Models.Nicknames[nickname]; ok {
		return model
	}
	return nickname
}

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// normalizeTokenFile appends tokens.json when the configured path is a
// directory. A trailing separator is treated the same way.
func normalizeTokenFile(path string) string {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return filepath.Join(path, "tokens.json")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, "tokens.json")
	}
	return path
}
