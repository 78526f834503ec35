// The interactive menu shown when maximize runs with no arguments.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/checks"
	"github.com/automa016/maximize/internal/config"
	"github.com/automa016/maximize/internal/monitoring"
	"github.com/automa016/maximize/internal/proxy"
	"github.com/automa016/maximize/internal/store"
	"github.com/automa016/maximize/internal/tui"
)

// menuState tracks the in-process server between menu actions.
type menuState struct {
	server *proxy.Server
	usage  store.Store
}

func runMenu() {
	cfg := loadConfig("")
	monitoring.Global(monitoring.LoggerConfig{Level: cfg.Server.LogLevel})
	mgr := newAuthManager(cfg)

	tui.PrintBanner()
	fmt.Printf("\n  maximize %s\n\n", version)

	state := &menuState{}
	defer state.stopServer()

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)

	for {
		printMenuHeader(mgr, state.server != nil, addr)

		serverItem := tui.MenuItem{Label: "Start server", Description: "serve on " + addr}
		if state.server != nil {
			serverItem = tui.MenuItem{Label: "Stop server", Description: "running on " + addr}
		}

		items := []tui.MenuItem{
			serverItem,
			{Label: "Run diagnostics", Description: "full check suite against the deployment"},
			{Label: "Quick diagnostics", Description: "health probe only"},
			{Label: "Login", Description: "authenticate via OAuth"},
			{Label: "Token status"},
			{Label: "Refresh tokens"},
			{Label: "Logout", Description: "clear stored tokens"},
			{Label: "Quit"},
		}

		choice, err := tui.SelectMenu("Maximize", items)
		if err != nil || choice == len(items)-1 {
			return
		}

		switch choice {
		case 0:
			state.toggleServer(cfg, mgr)
		case 1:
			runMenuChecks(checks.Suite())
		case 2:
			runMenuChecks(checks.QuickSuite())
		case 3:
			login(mgr)
		case 4:
			printStatus(mgr)
		case 5:
			menuRefresh(mgr)
		case 6:
			menuLogout(mgr)
		}
	}
}

// printMenuHeader redraws the auth and server status lines above the menu.
func printMenuHeader(mgr *auth.Manager, running bool, addr string) {
	st := mgr.Storage().Status()

	label, detail, color := "NO AUTH", "No tokens available", tui.ColorRed
	switch {
	case !st.HasTokens:
	case st.IsExpired:
		label, detail, color = "EXPIRED", "Expired "+st.TimeUntilExpiry, tui.ColorYellow
	default:
		label, detail, color = "VALID", "Expires in "+st.TimeUntilExpiry, tui.ColorGreen
	}

	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf(" Auth Status:   %s%s%s (%s)\n", color, label, tui.ColorReset, detail)
	if running {
		fmt.Printf(" Server Status: %sRUNNING%s at http://%s\n", tui.ColorGreen, tui.ColorReset, addr)
	} else {
		fmt.Printf(" Server Status: %sSTOPPED%s\n", tui.ColorDim, tui.ColorReset)
	}
	fmt.Println(strings.Repeat("-", 50))
}

// toggleServer starts or stops the in-process relay server. Starting
// verifies authentication first, refreshing an expired token if needed.
func (s *menuState) toggleServer(cfg *config.Config, mgr *auth.Manager) {
	if s.server != nil {
		s.stopServer()
		tui.PrintSuccess("Server stopped")
		return
	}

	if !ensureAuth(mgr) {
		tui.PrintError("Cannot start server without authentication. Choose Login first.")
		return
	}

	s.usage = openUsageStore(cfg.Storage.UsageDB)
	s.server = proxy.New(cfg, mgr, s.usage)
	go func(server *proxy.Server) {
		if err := server.Start(); err != nil {
			tui.PrintError(fmt.Sprintf("server: %v", err))
		}
	}(s.server)

	tui.PrintSuccess(fmt.Sprintf("Server started on %s:%d", cfg.Server.BindAddress, cfg.Server.Port))
}

func (s *menuState) stopServer() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		tui.PrintWarn(fmt.Sprintf("shutdown: %v", err))
	}
	if s.usage != nil {
		s.usage.Close()
	}
	s.server = nil
	s.usage = nil
}

// runMenuChecks runs a diagnostic suite against the configured deployment.
func runMenuChecks(suite []checks.Check) {
	env := checks.EnvFromEnvironment()
	runner := checks.NewRunner(os.Stdout)
	runner.PrintBanner(env)
	runner.Run(context.Background(), env, suite)
}

// ensureAuth verifies a usable token before the server starts, refreshing
// automatically and retrying transient network failures.
func ensureAuth(mgr *auth.Manager) bool {
	const attempts = 3
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		token, err := mgr.GetValidToken(ctx)
		cancel()

		if err == nil {
			if token == "" {
				tui.PrintWarn("Not authenticated.")
				return false
			}
			return true
		}
		if i < attempts {
			tui.PrintWarn(fmt.Sprintf("Auth check failed (attempt %d/%d): %v", i, attempts, err))
			time.Sleep(2 * time.Second)
		} else {
			tui.PrintError(fmt.Sprintf("Auth check failed after %d attempts: %v", attempts, err))
		}
	}
	return false
}

func menuRefresh(mgr *auth.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	refreshed, err := mgr.RefreshTokens(ctx)
	switch {
	case err != nil:
		tui.PrintError(fmt.Sprintf("refresh failed: %v", err))
	case refreshed:
		tui.PrintSuccess("Tokens refreshed")
	default:
		tui.PrintWarn("No refreshable tokens")
	}
}

func menuLogout(mgr *auth.Manager) {
	if !tui.PromptYesNo("Clear stored tokens?", false) {
		return
	}
	if err := mgr.Storage().ClearTokens(); err != nil {
		tui.PrintError(fmt.Sprintf("logout failed: %v", err))
		return
	}
	tui.PrintSuccess("Tokens cleared")
}
