package aggregator

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/zhaobenny/lectic-usage/internal/logger"
	"github.com/zhaobenny/lectic-usage/internal/model"
	"github.com/zhaobenny/lectic-usage/internal/store"
)

// Granularity is the size of a display bucket
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// Granularities lists the accepted values in display order.
var Granularities = []Granularity{Hour, Day, Week, Month}

// ParseGranularity validates a user supplied granularity
func ParseGranularity(s string) (Granularity, error) {
	for _, g := range Granularities {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("invalid granularity %q (want hour, day, week or month)", s)
}

// Options for aggregation
type Options struct {
	Granularity Granularity
	Filter      *regexp.Regexp // models not matching are dropped entirely
	Timezone    *time.Location // nil means UTC
}

// Result maps display bucket -> model -> summed tokens.
type Result struct {
	Buckets map[string]map[string]model.Tokens
}

// BucketKey formats t as the display bucket for g.
//
//	hour:  2006-01-02 15:00
//	day:   2006-01-02
//	week:  2006-W02 (ISO week-year and week)
//	month: 2006-01
func BucketKey(t time.Time, g Granularity) string {
	switch g {
	case Hour:
		return t.Format("2006-01-02 15:00")
	case Week:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Month:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Reduce re-keys every valid hourly record into display buckets and sums the
// tokens per (bucket, model). Entries the store flagged as malformed are
// skipped.
func Reduce(s *store.Store, opts Options) *Result {
	for _, p := range s.Problems() {
		logger.Debug("skipping malformed usage entry", "hour", p.Hour, "model", p.Model, "err", p.Err)
	}

	loc := opts.Timezone
	if loc == nil {
		loc = time.UTC
	}

	res := &Result{Buckets: make(map[string]map[string]model.Tokens)}
	for _, h := range s.Hours() {
		key := BucketKey(h.Start.In(loc), opts.Granularity)

		for name, u := range h.Models {
			if opts.Filter != nil && !opts.Filter.MatchString(name) {
				continue
			}
			bucket := res.bucket(key)
			tok := bucket[name]
			tok.Add(u.Tokens)
			bucket[name] = tok
		}
	}
	return res
}

// bucket returns the model map for key, inserting it when absent.
func (r *Result) bucket(key string) map[string]model.Tokens {
	b, ok := r.Buckets[key]
	if !ok {
		b = make(map[string]model.Tokens)
		r.Buckets[key] = b
	}
	return b
}

// Keys returns the bucket keys oldest first. Every format sorts
// chronologically as a string.
func (r *Result) Keys() []string {
	keys := make([]string, 0, len(r.Buckets))
	for k := range r.Buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Latest keeps the last n keys. n <= 0 keeps everything.
func Latest(keys []string, n int) []string {
	if n <= 0 || n >= len(keys) {
		return keys
	}
	return keys[len(keys)-n:]
}

// Models returns the sorted distinct models seen in the given buckets.
func (r *Result) Models(keys []string) []string {
	seen := make(map[string]bool)
	for _, k := range keys {
		for m := range r.Buckets[k] {
			seen[m] = true
		}
	}

	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// CalculateTotal returns the summed tokens across the given buckets
func (r *Result) CalculateTotal(keys []string) model.Tokens {
	var total model.Tokens
	for _, k := range keys {
		for _, t := range r.Buckets[k] {
			total.Add(t)
		}
	}
	return total
}
