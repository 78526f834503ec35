// Check execution and colorized reporting.
package checks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Result records the outcome of a single check.
type Result struct {
	Name     string
	Err      error
	Warnings []string
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Summary aggregates a suite run.
type Summary struct {
	Results     []Result
	Total       int
	Interrupted bool
}

// Passed counts successful checks.
func (s *Summary) Passed() int {
	n := 0
	for _, r := range s.Results {
		if r.Passed() {
			n++
		}
	}
	return n
}

// PassRate is the fraction of planned checks that passed. Checks skipped
// after an interrupt count as failures.
func (s *Summary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed()) / float64(s.Total)
}

// Success reports whether the run met the pass threshold.
func (s *Summary) Success() bool {
	return s.Total > 0 && s.PassRate() >= passThreshold
}

// Runner executes checks sequentially and reports to out.
type Runner struct {
	out io.Writer
}

// NewRunner creates a runner writing to out.
func NewRunner(out io.Writer) *Runner {
	return &Runner{out: out}
}

// PrintBanner announces the target deployment with the API key masked.
func (r *Runner) PrintBanner(env *Env) {
	fmt.Fprintf(r.out, "%s\n", bold("Maximize diagnostics"))
	fmt.Fprintf(r.out, "  target:  %s\n", cyan(env.BaseURL))
	fmt.Fprintf(r.out, "  api key: %s\n\n", maskKey(env.APIKey))
}

// Run executes the checks in order, stopping early if ctx is canceled.
// Each check runs with panic recovery so one broken check cannot take
// down the suite.
func (r *Runner) Run(ctx context.Context, env *Env, checks []Check) *Summary {
	summary := &Summary{Total: len(checks)}

	for i, c := range checks {
		if ctx.Err() != nil {
			summary.Interrupted = true
			fmt.Fprintf(r.out, "\n%s\n", yellow("interrupted, skipping remaining checks"))
			break
		}

		fmt.Fprintf(r.out, "[%d/%d] %s ... ", i+1, len(checks), c.Name)

		start := time.Now()
		err := runOne(ctx, env, c)
		result := Result{Name: c.Name, Err: err, Warnings: env.takeWarnings(), Duration: time.Since(start)}
		summary.Results = append(summary.Results, result)

		if err == nil {
			fmt.Fprintf(r.out, "%s (%.1fs)\n", green("PASS"), result.Duration.Seconds())
		} else if ctx.Err() != nil {
			fmt.Fprintf(r.out, "%s\n", yellow("INTERRUPTED"))
		} else {
			fmt.Fprintf(r.out, "%s: %v\n", red("FAIL"), err)
		}
		for _, warn := range result.Warnings {
			fmt.Fprintf(r.out, "      %s %s\n", yellow("warning:"), warn)
		}
	}

	r.printSummary(summary)
	return summary
}

// runOne executes a single check, converting panics into failures.
func runOne(ctx context.Context, env *Env, c Check) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check panicked: %v", p)
		}
	}()
	return c.Run(ctx, env)
}

func (r *Runner) printSummary(s *Summary) {
	passed := s.Passed()
	fmt.Fprintf(r.out, "\n%s %d/%d checks passed (%.0f%%)\n",
		bold("Result:"), passed, s.Total, s.PassRate()*100)

	switch {
	case passed == s.Total && s.Total > 0:
		fmt.Fprintf(r.out, "%s\n", green("All checks passed."))
	case s.Success():
		fmt.Fprintf(r.out, "%s\n", yellow("Some checks failed, but the deployment is mostly working."))
	default:
		fmt.Fprintf(r.out, "%s\n", red("Deployment is not healthy."))
		r.printTips(s)
	}
}

// printTips suggests fixes for the observed failures.
func (r *Runner) printTips(s *Summary) {
	fmt.Fprintf(r.out, "\n%s\n", bold("Troubleshooting:"))
	for _, tip := range []string{
		"verify the server is running and reachable: curl <base-url>/healthz",
		"check MAXIMIZE_BASE_URL points at the right deployment",
		"check MAXIMIZE_API_KEY matches the server's configured key",
		"inspect OAuth state: curl <base-url>/auth/status",
		"re-authenticate with `maximize login` if tokens are missing or expired",
		"check the server logs for upstream errors",
	} {
		fmt.Fprintf(r.out, "  - %s\n", tip)
	}
}

// maskKey keeps a short prefix of the API key for identification.
func maskKey(key string) string {
	if key == "" {
		return "(none)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
