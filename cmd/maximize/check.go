// The check subcommand.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/automa016/maximize/internal/checks"
)

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	baseURL := fs.String("base-url", "", "target deployment URL")
	apiKey := fs.String("api-key", "", "API key for the deployment")
	quick := fs.Bool("quick", false, "health probe only")
	local := fs.Bool("local", false, "smoke-test a local server")
	fs.Parse(args)

	env := checks.EnvFromEnvironment()
	if *local && *baseURL == "" && os.Getenv(checks.EnvBaseURL) == "" {
		env = checks.NewEnv("http://localhost:8081", env.APIKey)
	}
	if *baseURL != "" {
		env = checks.NewEnv(*baseURL, env.APIKey)
	}
	if *apiKey != "" {
		env = checks.NewEnv(env.BaseURL, *apiKey)
	}

	suite := checks.Suite()
	switch {
	case *local:
		suite = checks.LocalSuite()
	case *quick:
		suite = checks.QuickSuite()
	}

	// Ctrl+C aborts remaining checks; partial runs count skipped checks
	// as failures.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := checks.NewRunner(os.Stdout)
	runner.PrintBanner(env)
	summary := runner.Run(ctx, env, suite)

	if summary.Interrupted || !summary.Success() {
		os.Exit(1)
	}
}
