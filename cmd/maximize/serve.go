// The serve subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/monitoring"
	"github.com/automa016/maximize/internal/proxy"
	"github.com/automa016/maximize/internal/store"
	"github.com/automa016/maximize/internal/tui"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	port := fs.Int("port", 0, "listen port override")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *port != 0 {
		cfg.Server.Port = *port
	}

	monitoring.Global(monitoring.LoggerConfig{Level: cfg.Server.LogLevel})

	mgr := newAuthManager(cfg)
	prepareAuth(mgr)

	usage := openUsageStore(cfg.Storage.UsageDB)
	defer usage.Close()

	server := proxy.New(cfg, mgr, usage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("maximize %s listening on %s:%d\n", version, cfg.Server.BindAddress, cfg.Server.Port)

	select {
	case <-ctx.Done():
		fmt.Println("\nshutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
			os.Exit(1)
		}
	}
}

// prepareAuth exchanges a pending authorization code from the environment
// and reports token state before the server starts.
func prepareAuth(mgr *auth.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if code := os.Getenv("MAXIMIZE_AUTHENTICATION_CODE"); code != "" {
		tui.PrintStep("Exchanging authorization code from MAXIMIZE_AUTHENTICATION_CODE")
		if err := mgr.ExchangeCode(ctx, code); err != nil {
			tui.PrintWarn(fmt.Sprintf("code exchange failed: %v", err))
		} else {
			tui.PrintSuccess("Tokens saved")
		}
	}

	if url, err := mgr.AuthorizeURL(); err == nil {
		tui.PrintInfo("OAuth authorization URL:")
		fmt.Println("  " + url)
		fmt.Println()
	}

	token, err := mgr.GetValidToken(ctx)
	if err != nil {
		tui.PrintWarn(fmt.Sprintf("token check failed: %v", err))
		return
	}
	if token == "" {
		tui.PrintWarn("No valid OAuth tokens. The relay will reject requests until you authenticate.")
		fmt.Println("Open the URL above, approve access, then run `maximize login`")
		fmt.Println("(or set MAXIMIZE_AUTHENTICATION_CODE and restart).")
		fmt.Println()
	}
}

// openUsageStore opens the SQLite usage store, falling back to a no-op
// store when persistence is disabled or unavailable.
func openUsageStore(path string) store.Store {
	if path == "" {
		return store.NopStore{}
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		tui.PrintWarn(fmt.Sprintf("usage store disabled: %v", err))
		return store.NopStore{}
	}
	return s
}
