package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/warp/nav-engine/app"
	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/ingest"
	"github.com/warp/nav-engine/nav"
)

// openApp loads the config and builds the application without starting
// the scheduler.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := common.LoadConfig(configFiles...)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, common.NewLoggerFromConfig(cfg.Logging))
}

// withApp runs fn against a freshly opened application and closes it after.
func withApp(ctx context.Context, fn func(*app.App) error) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// =============================================================================
// CATALOGUE
// =============================================================================

type syncCmd struct{}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "copy the provider's scheme catalogue into the store" }
func (*syncCmd) Usage() string {
	return `navctl sync

  Fetches every scheme from the provider and inserts those not yet stored.
  Existing schemes are counted as duplicates and left untouched.
`
}
func (*syncCmd) SetFlags(*flag.FlagSet) {}

func (*syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		result, err := a.Catalog.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d, duplicates %d, provider total %d (%s)\n",
			result.Inserted, result.Duplicates, result.ExternalTotal, result.Duration.Round(time.Millisecond))
		return nil
	})
}

type historyCmd struct {
	scheme string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print the recent NAV history of a scheme" }
func (*historyCmd) Usage() string {
	return `navctl history -scheme <code>

  Prints up to 30 recent NAVs, newest first. When nothing is stored the
  history is fetched from the provider and saved.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scheme, "scheme", "", "scheme code")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	code, err := nav.ParseSchemeCode(c.scheme)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		report, err := a.Engine.SchemeHistory(ctx, code)
		if err != nil {
			return err
		}
		return renderHistory(os.Stdout, report)
	})
}

// =============================================================================
// INGESTION
// =============================================================================

type refreshCmd struct{}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "run one full ingestion cycle now" }
func (*refreshCmd) Usage() string {
	return `navctl refresh

  Refreshes the latest NAV of every held scheme, with the configured batch
  pacing, and prints the cycle summary.
`
}
func (*refreshCmd) SetFlags(*flag.FlagSet) {}

func (*refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		result, err := a.Ingestor.RunCycle(ctx)
		if err != nil {
			return err
		}
		printCycle(os.Stdout, result)
		return nil
	})
}

type manualCmd struct{}

func (*manualCmd) Name() string     { return "manual" }
func (*manualCmd) Synopsis() string { return "run the bounded manual update" }
func (*manualCmd) Usage() string {
	return `navctl manual

  Refreshes the first held schemes (ingest.manual_limit), paced by
  ingest.manual_delay.
`
}
func (*manualCmd) SetFlags(*flag.FlagSet) {}

func (*manualCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		result, err := a.Ingestor.RunManual(ctx)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		printFailures(os.Stdout, result.Failures)
		return nil
	})
}

func printCycle(w io.Writer, r *ingest.CycleResult) {
	fmt.Fprintf(w, "run %s: %d schemes, %d succeeded, %d failed, %d new history rows (%s)\n",
		r.RunID, r.Schemes, r.Succeeded, r.Failed, r.NewHistory, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "store: %d latest prices, %d history rows\n", r.LatestTotal, r.HistoryTotal)
	printFailures(w, r.Failures)
}

func printFailures(w io.Writer, failures []ingest.SchemeFailure) {
	for _, f := range failures {
		fmt.Fprintf(w, "  %d %s: %s\n", f.Code, f.Stage, f.Reason)
	}
}

// =============================================================================
// PORTFOLIO
// =============================================================================

type valueCmd struct {
	user string
}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "print a user's portfolio profit and loss" }
func (*valueCmd) Usage() string {
	return `navctl value -user <id>

  Values every holding at the latest stored NAV and prints current value,
  invested value and profit and loss in INR.
`
}

func (c *valueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
}

func (c *valueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		report, err := a.Engine.Value(ctx, c.user)
		if err != nil {
			return err
		}
		return renderValue(os.Stdout, report)
	})
}

// =============================================================================
// AUTH
// =============================================================================

type tokenCmd struct {
	user string
	role string
	ttl  time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "issue a bearer token signed with auth.jwt_secret" }
func (*tokenCmd) Usage() string {
	return `navctl token -user <id> [-role admin] [-ttl 24h]

  Prints an HS256 token accepted by the API. -role admin grants access to
  the operator endpoints.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id (sub claim)")
	f.StringVar(&c.role, "role", "", "role claim, \"admin\" for operators")
	f.DurationVar(&c.ttl, "ttl", 24*time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		tok, err := a.Auth.Sign(c.user, c.role, c.ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	})
}
