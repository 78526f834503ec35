// Command maximize runs the relay server, the diagnostic suite, and the
// OAuth helpers. With no arguments it opens the interactive menu.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/config"
)

const version = "1.2.0"

func main() {
	loadDotenv()

	if len(os.Args) < 2 {
		runMenu()
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "login":
		runLogin()
	case "refresh":
		runRefresh()
	case "status":
		runStatus()
	case "logout":
		runLogout()
	case "version", "--version", "-v":
		fmt.Println("maximize " + version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

// loadDotenv loads .env from the working directory and ~/.maximize.
// Missing files are fine; explicit environment always wins.
func loadDotenv() {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".maximize", ".env"))
	}
}

func printUsage() {
	fmt.Print(`maximize - OAuth relay for the Anthropic API

Usage:
  maximize                 interactive menu
  maximize serve [flags]   start the relay server
  maximize check [flags]   run diagnostics against a deployment
  maximize login           authenticate via OAuth
  maximize status          show token status
  maximize refresh         refresh OAuth tokens
  maximize logout          clear stored tokens
  maximize version         print version

Serve flags:
  -config path             config file (default: ~/.maximize/config.yaml)
  -port n                  listen port override

Check flags:
  -base-url url            target deployment (default: $MAXIMIZE_BASE_URL)
  -api-key key             API key (default: $MAXIMIZE_API_KEY)
  -quick                   health probe only
  -local                   smoke-test a local server
`)
}

// loadConfig loads and validates configuration, exiting on failure.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newAuthManager builds the OAuth manager for the configured token file.
func newAuthManager(cfg *config.Config) *auth.Manager {
	mgr, err := auth.NewManager(cfg.Storage.TokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		os.Exit(1)
	}
	return mgr
}
