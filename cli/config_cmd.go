package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/lectic-usage/cli/internal/aggregator"
	"github.com/zhaobenny/lectic-usage/cli/internal/config"
)

type configOptions struct {
	show        bool
	pricesURL   string
	width       int
	granularity string
	units       int
	timezone    string
}

func newConfigCmd(a *app) *cobra.Command {
	var opts configOptions
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change saved defaults",
		Example: `  lectic-usage config --data-dir ~/.local/share/lectic
  lectic-usage config --granularity week --units 8
  lectic-usage config --show`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.show {
				return showConfig(cmd.OutOrStdout(), a)
			}

			f := cmd.Flags()
			changed := f.Changed("data-dir") || f.Changed("prices-url") || f.Changed("width") ||
				f.Changed("granularity") || f.Changed("units") || f.Changed("timezone")
			if !changed {
				return cmd.Usage()
			}

			// Only the file is rewritten, never values that came from the environment.
			cfg, err := config.ReadFile(a.configPath)
			if err != nil {
				return err
			}
			if f.Changed("data-dir") {
				cfg.DataDir = a.dataDir
			}
			if f.Changed("prices-url") {
				cfg.PricesURL = opts.pricesURL
			}
			if f.Changed("width") {
				cfg.Width = opts.width
			}
			if f.Changed("granularity") {
				if _, err := aggregator.ParseGranularity(opts.granularity); err != nil {
					return err
				}
				cfg.Granularity = opts.granularity
			}
			if f.Changed("units") {
				units := opts.units
				cfg.Units = &units
			}
			if f.Changed("timezone") {
				if _, err := config.ParseLocation(opts.timezone); err != nil {
					return err
				}
				cfg.Timezone = opts.timezone
			}

			if err := config.Save(a.configPath, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", a.configPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.show, "show", false, "Show the effective configuration")
	f.StringVar(&opts.pricesURL, "prices-url", "", "Price document URL")
	f.IntVar(&opts.width, "width", 0, "Default bar width")
	f.StringVar(&opts.granularity, "granularity", "", "Default granularity")
	f.IntVar(&opts.units, "units", 0, "Default number of buckets, 0 for all")
	f.StringVar(&opts.timezone, "timezone", "", "Default timezone")
	return cmd
}

func showConfig(w io.Writer, a *app) error {
	cfg := a.cfg
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "(unset)"
	}
	timezone := cfg.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	fmt.Fprintf(w, "Config file: %s\n", a.configPath)
	fmt.Fprintf(w, "Data dir:    %s\n", dataDir)
	if cfg.DataDir != "" {
		fmt.Fprintf(w, "Usage file:  %s\n", cfg.UsagePath())
		fmt.Fprintf(w, "Prices file: %s\n", cfg.PricesPath())
	}
	fmt.Fprintf(w, "Prices URL:  %s\n", cfg.PricesSource())
	fmt.Fprintf(w, "Granularity: %s\n", cfg.DefaultGranularity())
	fmt.Fprintf(w, "Units:       %d\n", cfg.DefaultUnits())
	fmt.Fprintf(w, "Width:       %d\n", cfg.BarWidth())
	fmt.Fprintf(w, "Timezone:    %s\n", timezone)
	return nil
}
