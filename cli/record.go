package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/lectic-usage/cli/internal/config"
	"github.com/zhaobenny/lectic-usage/internal/logger"
	"github.com/zhaobenny/lectic-usage/internal/model"
	"github.com/zhaobenny/lectic-usage/internal/store"
)

const (
	envModel  = "LECTIC_MODEL"
	envInput  = "TOKEN_USAGE_INPUT"
	envOutput = "TOKEN_USAGE_OUTPUT"
	envCached = "TOKEN_USAGE_CACHED"

	unknownModel = "unknown"
)

// nowFunc is swapped out by tests.
var nowFunc = time.Now

// turn is one exchange worth of token counts.
type turn struct {
	model  string
	tokens model.Tokens
}

// recordFromEnv reads the hook environment. Missing or malformed counts are
// zero.
func recordFromEnv() turn {
	t := turn{
		model: os.Getenv(envModel),
		tokens: model.Tokens{
			Input:  config.GetEnvInt64(envInput),
			Output: config.GetEnvInt64(envOutput),
			Cached: config.GetEnvInt64(envCached),
		},
	}
	if t.model == "" {
		t.model = unknownModel
	}
	return t
}

func newRecordCmd(a *app) *cobra.Command {
	var t turn
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Add one turn to the current hour",
		Long: `Adds token counts to the current hour's bucket for a model and bumps its
turn count. Values not given as flags come from LECTIC_MODEL,
TOKEN_USAGE_INPUT, TOKEN_USAGE_OUTPUT and TOKEN_USAGE_CACHED.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := recordFromEnv()
			f := cmd.Flags()
			if !f.Changed("model") {
				t.model = env.model
			}
			if !f.Changed("input") {
				t.tokens.Input = env.tokens.Input
			}
			if !f.Changed("output") {
				t.tokens.Output = env.tokens.Output
			}
			if !f.Changed("cached") {
				t.tokens.Cached = env.tokens.Cached
			}
			if t.model == "" {
				t.model = unknownModel
			}
			return runRecord(a.cfg, t, nowFunc())
		},
	}
	cmd.Flags().StringVarP(&t.model, "model", "m", "", "Model id (default $LECTIC_MODEL or \"unknown\")")
	cmd.Flags().Int64Var(&t.tokens.Input, "input", 0, "Input tokens, including cached")
	cmd.Flags().Int64Var(&t.tokens.Output, "output", 0, "Output tokens")
	cmd.Flags().Int64Var(&t.tokens.Cached, "cached", 0, "Cached input tokens")
	return cmd
}

// runRecord loads the store, adds t at now and writes it back.
func runRecord(cfg *config.Config, t turn, now time.Time) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := cfg.UsagePath()

	s, err := store.Load(path)
	if err != nil {
		return err
	}
	u, err := s.Record(now, t.model, t.tokens)
	if err != nil {
		return err
	}
	if err := s.Save(path); err != nil {
		return fmt.Errorf("saving usage: %w", err)
	}

	logger.Debug("recorded turn",
		"model", t.model,
		"hour", store.HourBucket(now),
		"input", t.tokens.Input,
		"output", t.tokens.Output,
		"cached", t.tokens.Cached,
		"turns", u.Turns)
	return nil
}
