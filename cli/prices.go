package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/zhaobenny/lectic-usage/cli/internal/config"
	"github.com/zhaobenny/lectic-usage/cli/internal/refresher"
	"github.com/zhaobenny/lectic-usage/internal/pricing"
)

func newPricesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage the cached price table",
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Download the current price table into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd.Context(), cmd.OutOrStdout(), a.cfg)
		},
	}

	show := &cobra.Command{
		Use:   "show MODEL...",
		Short: "Show which price entry each model resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowPrices(cmd.OutOrStdout(), a.cfg, args)
		},
	}

	cmd.AddCommand(refresh, show, newServiceCmd(a))
	return cmd
}

// runRefresh replaces prices.json with a freshly downloaded copy. On any
// failure the previous file is left alone.
func runRefresh(ctx context.Context, w io.Writer, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client := pricing.NewClient(cfg.PricesSource())
	fmt.Fprintf(w, "Refreshing prices from %s...\n", client.URL())

	table, err := client.Refresh(ctx, cfg.PricesPath())
	if err != nil {
		return fmt.Errorf("refreshing prices: %w", err)
	}
	fmt.Fprintf(w, "Saved %s model prices to %s\n", humanize.Comma(int64(table.Len())), cfg.PricesPath())
	return nil
}

func runShowPrices(w io.Writer, cfg *config.Config, models []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, err := pricing.LoadTable(cfg.PricesPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no price table at %s, run 'lectic-usage prices refresh' first", cfg.PricesPath())
		}
		return err
	}

	for _, m := range models {
		match, ok := table.Resolve(m)
		if !ok {
			fmt.Fprintf(w, "%s: no match\n", m)
			continue
		}
		p := match.Pricing
		fmt.Fprintf(w, "%s: %s (%s) input $%g/M, cached $%g/M, output $%g/M\n",
			m, match.ID, match.Tier, p.Input, p.InputCached, p.Output)
	}
	return nil
}

func newServiceCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "service [install|start|stop|uninstall|status|run]",
		Short: "Refresh prices periodically as a background service",
		Example: `  lectic-usage prices service install               Install service (refreshes daily)
  lectic-usage prices service install --interval 6h
  lectic-usage prices service status`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"install", "start", "stop", "uninstall", "status", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.OutOrStdout(), a.cfg, args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", refresher.DefaultInterval, "Refresh interval (e.g. 6h, 24h)")
	return cmd
}

func runService(w io.Writer, cfg *config.Config, action string, interval time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r := refresher.New(pricing.NewClient(cfg.PricesSource()), cfg.PricesPath(), interval)
	s, err := service.New(r, refresher.ServiceConfig(cfg.DataDir, interval))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	switch action {
	case "install":
		if err := s.Install(); err != nil {
			return fmt.Errorf("installing service: %w", err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("service installed but failed to start: %w", err)
		}
		fmt.Fprintln(w, "Service installed and started.")
		fmt.Fprintf(w, "Refresh interval: %s\n", interval)

	case "start":
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting service: %w", err)
		}
		fmt.Fprintln(w, "Service started.")

	case "stop":
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stopping service: %w", err)
		}
		fmt.Fprintln(w, "Service stopped.")

	case "uninstall":
		_ = s.Stop()
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("uninstalling service: %w", err)
		}
		fmt.Fprintln(w, "Service uninstalled.")

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Fprintf(w, "Service status: not installed or error (%v)\n", err)
			return nil
		}
		switch status {
		case service.StatusRunning:
			fmt.Fprintln(w, "Service status: running")
		case service.StatusStopped:
			fmt.Fprintln(w, "Service status: stopped")
		default:
			fmt.Fprintln(w, "Service status: unknown")
		}

	case "run":
		// Invoked by the service manager.
		if l, err := s.Logger(nil); err == nil {
			r.Logger = l
		}
		return s.Run()

	default:
		return fmt.Errorf("unknown service action %q", action)
	}
	return nil
}
