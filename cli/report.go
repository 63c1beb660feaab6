package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/zhaobenny/lectic-usage/cli/internal/aggregator"
	"github.com/zhaobenny/lectic-usage/cli/internal/config"
	"github.com/zhaobenny/lectic-usage/cli/internal/output"
	"github.com/zhaobenny/lectic-usage/internal/logger"
	"github.com/zhaobenny/lectic-usage/internal/pricing"
	"github.com/zhaobenny/lectic-usage/internal/store"
)

const (
	msgNoUsage = "No usage recorded."
	msgNoRange = "No data in range."

	watchDebounce = 100 * time.Millisecond
)

type reportOptions struct {
	granularity string
	units       int
	filter      string
	price       bool
	width       int
	timezone    string
	noColor     bool
	json        bool
	watch       bool
}

func addReportFlags(cmd *cobra.Command, o *reportOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.granularity, "granularity", "g", "day", "Bucket size: hour, day, week or month")
	f.IntVarP(&o.units, "units", "u", 14, "Number of most recent buckets to show, 0 for all")
	f.StringVarP(&o.filter, "filter", "f", "", "Only include models matching this regular expression")
	f.BoolVarP(&o.price, "price", "p", false, "Chart estimated cost instead of tokens")
	f.IntVar(&o.width, "width", 40, "Bar width of the largest bucket")
	f.StringVar(&o.timezone, "timezone", "", "Zone for day/week/month boundaries (default UTC)")
	f.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	f.BoolVar(&o.json, "json", false, "Print buckets as JSON")
	f.BoolVarP(&o.watch, "watch", "w", false, "Redraw whenever usage.json changes")
}

// applyDefaults fills flags the user did not set from the config file.
func (o *reportOptions) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if !f.Changed("granularity") {
		o.granularity = cfg.DefaultGranularity()
	}
	if !f.Changed("units") {
		o.units = cfg.DefaultUnits()
	}
	if !f.Changed("width") {
		o.width = cfg.BarWidth()
	}
	if !f.Changed("timezone") {
		o.timezone = cfg.Timezone
	}
}

func newReportCmd(a *app) *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Chart usage per time bucket",
		Example: `  lectic-usage report -g week -u 8
  lectic-usage report -p -f '^gpt'
  lectic-usage report --json -g month`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyDefaults(cmd, a.cfg)
			if opts.watch {
				return watchReport(cmd.Context(), cmd.OutOrStdout(), a.cfg, opts)
			}
			return runReport(cmd.OutOrStdout(), a.cfg, opts)
		},
	}
	addReportFlags(cmd, &opts)
	return cmd
}

// runReport reads the store and renders one chart (or JSON document) to w.
// It never writes to the data directory.
func runReport(w io.Writer, cfg *config.Config, opts reportOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	g, err := aggregator.ParseGranularity(opts.granularity)
	if err != nil {
		return err
	}
	var filter *regexp.Regexp
	if opts.filter != "" {
		filter, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}
	loc, err := config.ParseLocation(opts.timezone)
	if err != nil {
		return err
	}

	s, err := store.Load(cfg.UsagePath())
	if err != nil {
		return err
	}
	if s.Empty() {
		_, err := fmt.Fprintln(w, msgNoUsage)
		return err
	}

	res := aggregator.Reduce(s, aggregator.Options{
		Granularity: g,
		Filter:      filter,
		Timezone:    loc,
	})
	keys := aggregator.Latest(res.Keys(), opts.units)
	if len(keys) == 0 {
		_, err := fmt.Fprintln(w, msgNoRange)
		return err
	}

	var costs aggregator.Costs
	if opts.price {
		table, err := pricing.LoadTable(cfg.PricesPath())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("prices.json not found, costs are zero. Run with --refresh-prices to download it", "path", cfg.PricesPath())
		case err != nil:
			return err
		}
		costs = aggregator.Price(res, table)
	}

	if opts.json {
		return output.PrintJSON(w, string(g), keys, res.Buckets, costs)
	}

	rows := make([]output.Row, 0, len(keys))
	for _, key := range keys {
		row := output.Row{Key: key, Models: make(map[string]output.Segment, len(res.Buckets[key]))}
		for m, tok := range res.Buckets[key] {
			if opts.price {
				row.Models[m] = output.CostSegment(costs[key][m])
			} else {
				row.Models[m] = output.TokenSegment(tok)
			}
		}
		rows = append(rows, row)
	}

	chart := output.Chart{
		Width:     opts.width,
		RuleWidth: output.RuleWidth(output.DefaultRuleWidth),
		Money:     opts.price,
		NoColor:   opts.noColor,
	}
	return chart.Render(w, rows, res.Models(keys))
}

// watchReport renders once and again after every change to usage.json
// until ctx is done.
func watchReport(ctx context.Context, w io.Writer, cfg *config.Config, opts reportOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	usagePath := filepath.Clean(cfg.UsagePath())
	// usage.json is replaced by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(usagePath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(usagePath), err)
	}

	if err := runReport(w, cfg, opts); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != usagePath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "err", err)
		case <-debounce:
			debounce = nil
			fmt.Fprintln(w)
			if err := runReport(w, cfg, opts); err != nil {
				logger.Error("report failed", "err", err)
			}
		}
	}
}
