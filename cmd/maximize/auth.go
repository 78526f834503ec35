// The login, refresh, status, and logout subcommands.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/tui"
)

func runLogin() {
	cfg := loadConfig("")
	mgr := newAuthManager(cfg)
	login(mgr)
}

// login walks through the OAuth authorization flow.
func login(mgr *auth.Manager) {
	url, err := mgr.AuthorizeURL()
	if err != nil {
		tui.PrintError(fmt.Sprintf("failed to build authorization URL: %v", err))
		return
	}

	tui.PrintHeader("OAuth Login")
	fmt.Println("  1. Open this URL in your browser:")
	fmt.Println()
	fmt.Println("     " + url)
	fmt.Println()
	fmt.Println("  2. Approve access and copy the code shown.")
	fmt.Println()

	code := tui.PromptString("Paste the authorization code: ")
	if code == "" {
		tui.PrintWarn("No code entered, aborting")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.ExchangeCode(ctx, code); err != nil {
		tui.PrintError(fmt.Sprintf("code exchange failed: %v", err))
		return
	}
	tui.PrintSuccess("Authenticated. Tokens saved to " + mgr.Storage().Path())
}

func runRefresh() {
	cfg := loadConfig("")
	mgr := newAuthManager(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refreshed, err := mgr.RefreshTokens(ctx)
	switch {
	case err != nil:
		tui.PrintError(fmt.Sprintf("refresh failed: %v", err))
	case refreshed:
		tui.PrintSuccess("Tokens refreshed")
	default:
		tui.PrintWarn("No refreshable tokens. Run `maximize login`.")
	}
}

func runStatus() {
	cfg := loadConfig("")
	mgr := newAuthManager(cfg)
	printStatus(mgr)
}

func printStatus(mgr *auth.Manager) {
	st := mgr.Storage().Status()
	if !st.HasTokens {
		tui.PrintWarn("Not authenticated. Run `maximize login`.")
		return
	}
	if st.IsExpired {
		tui.PrintWarn(fmt.Sprintf("Tokens expired (%s). Run `maximize refresh` or `maximize login`.", st.TimeUntilExpiry))
		return
	}
	tui.PrintSuccess(fmt.Sprintf("Authenticated, token valid for %s", st.TimeUntilExpiry))
}

func runLogout() {
	cfg := loadConfig("")
	mgr := newAuthManager(cfg)
	if err := mgr.Storage().ClearTokens(); err != nil {
		tui.PrintError(fmt.Sprintf("logout failed: %v", err))
		return
	}
	tui.PrintSuccess("Tokens cleared")
}
