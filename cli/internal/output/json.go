package output

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/zhaobenny/lectic-usage/internal/model"
)

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Granularity string       `json:"granularity"`
	Buckets     []JSONBucket `json:"buckets"`
	Total       JSONResult   `json:"total"`
}

// JSONBucket is one display bucket with its per-model breakdown.
type JSONBucket struct {
	Key    string       `json:"key"`
	Total  JSONResult   `json:"total"`
	Models []JSONResult `json:"models"`
}

// JSONResult represents a single result in JSON format
type JSONResult struct {
	Model        string   `json:"model,omitempty"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	CachedTokens int64    `json:"cached_tokens"`
	TotalTokens  int64    `json:"total_tokens"`
	Cost         *float64 `json:"cost,omitempty"`
}

func (r *JSONResult) add(t model.Tokens, cost *float64) {
	r.InputTokens += t.Input
	r.OutputTokens += t.Output
	r.CachedTokens += t.Cached
	r.TotalTokens += t.Total()
	if cost != nil {
		if r.Cost == nil {
			r.Cost = new(float64)
		}
		*r.Cost += *cost
	}
}

// PrintJSON writes the buckets in keys order. costs may be nil when prices
// were not requested.
func PrintJSON(w io.Writer, granularity string, keys []string, buckets map[string]map[string]model.Tokens, costs map[string]map[string]model.Cost) error {
	out := JSONOutput{
		Granularity: granularity,
		Buckets:     make([]JSONBucket, 0, len(keys)),
	}

	for _, key := range keys {
		models := make([]string, 0, len(buckets[key]))
		for m := range buckets[key] {
			models = append(models, m)
		}
		sort.Strings(models)

		b := JSONBucket{Key: key, Models: make([]JSONResult, 0, len(models))}
		for _, m := range models {
			tok := buckets[key][m]
			var cost *float64
			if costs != nil {
				c := costs[key][m].Total()
				cost = &c
			}

			r := JSONResult{Model: m}
			r.add(tok, cost)
			b.Models = append(b.Models, r)
			b.Total.add(tok, cost)
			out.Total.add(tok, cost)
		}
		out.Buckets = append(out.Buckets, b)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
