package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/lectic-usage/cli/internal/config"
	"github.com/zhaobenny/lectic-usage/internal/logger"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "lectic usage: %v\n", err)
		return 1
	}
	return 0
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	dataDir    string
	verbose    bool

	cfg *config.Config
}

// load resolves the effective configuration. --data-dir beats every other
// source.
func (a *app) load() error {
	path := a.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		path = p
	}
	a.configPath = path

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	a.cfg = cfg
	return nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}
	var (
		opts    reportOptions
		hook    bool
		refresh bool
	)

	root := &cobra.Command{
		Use:   "lectic-usage",
		Short: "Record and chart LLM token usage",
		Long: `lectic-usage keeps an hourly record of tokens spent per model and draws
usage or estimated cost as proportional bar charts.

Without a subcommand it prints a report. --hook records one turn from the
environment, and --refresh-prices downloads the current price table.`,
		Example: `  # Daily token usage for the last two weeks
  lectic-usage

  # Estimated cost per month for claude models
  lectic-usage -g month -p -f claude

  # Record a turn (normally run from a hook)
  LECTIC_MODEL=gpt-4o TOKEN_USAGE_INPUT=1200 TOKEN_USAGE_OUTPUT=300 lectic-usage --hook`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbose(a.verbose)
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case hook:
				return runRecord(a.cfg, recordFromEnv(), nowFunc())
			case refresh:
				return runRefresh(cmd.Context(), cmd.OutOrStdout(), a.cfg)
			}
			opts.applyDefaults(cmd, a.cfg)
			if opts.watch {
				return watchReport(cmd.Context(), cmd.OutOrStdout(), a.cfg, opts)
			}
			return runReport(cmd.OutOrStdout(), a.cfg, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("lectic-usage version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.dataDir, "data-dir", "", "Directory holding usage.json and prices.json (default $LECTIC_DATA)")
	pf.StringVar(&a.configPath, "config", "", "Config file (default ~/.lectic-usage.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.Flags().BoolVar(&hook, "hook", false, "Record one turn from LECTIC_MODEL and TOKEN_USAGE_* and exit")
	root.Flags().BoolVar(&refresh, "refresh-prices", false, "Download the price table and exit")
	addReportFlags(root, &opts)
	root.MarkFlagsMutuallyExclusive("hook", "refresh-prices")

	root.AddCommand(
		newRecordCmd(a),
		newReportCmd(a),
		newPricesCmd(a),
		newConfigCmd(a),
	)
	return root
}
