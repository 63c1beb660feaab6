package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/zhaobenny/lectic-usage/internal/model"
)

// DefaultURL serves the price document consumed by LoadTable.
const DefaultURL = "https://www.llm-prices.com/current-v1.json"

// FuzzyCutoff is the minimum similarity ratio accepted by the fuzzy tier.
const FuzzyCutoff = 0.6

var ErrNotObject = errors.New("price file must be a JSON object")

// Tier identifies which matching strategy resolved a model.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierNormalized
	TierPrefix
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierPrefix:
		return "prefix"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Match is the outcome of a successful lookup.
type Match struct {
	ID      string // price table key that matched
	Tier    Tier
	Pricing model.ModelPricing
}

// Table is a read-only price table keyed by model id.
type Table struct {
	prices map[string]model.ModelPricing

	// normalized form -> table key; on collision the lexicographically
	// smallest key wins
	byNorm   map[string]string
	normKeys []string // sorted
}

// priceItem mirrors one entry of the "prices" array
type priceItem struct {
	ID          string   `json:"id"`
	Input       *float64 `json:"input"`
	Output      *float64 `json:"output"`
	InputCached *float64 `json:"input_cached"`
}

// NewTable builds a table from an id -> pricing map.
func NewTable(prices map[string]model.ModelPricing) *Table {
	t := &Table{
		prices: make(map[string]model.ModelPricing, len(prices)),
		byNorm: make(map[string]string, len(prices)),
	}
	for id, p := range prices {
		t.prices[id] = p
	}

	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := Normalize(id)
		if _, ok := t.byNorm[n]; ok {
			continue
		}
		t.byNorm[n] = id
		t.normKeys = append(t.normKeys, n)
	}
	sort.Strings(t.normKeys)
	return t
}

// LoadTable reads a price document from disk. The error wraps
// fs.ErrNotExist when the file is missing.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := DecodeTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// DecodeTable parses {"prices": [{"id", "input", "output", "input_cached"}]}.
// Entries without an id or with non-numeric fields are skipped. A missing
// input_cached falls back to input.
func DecodeTable(data []byte) (*Table, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var doc struct {
		Prices []json.RawMessage `json:"prices"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}

	prices := make(map[string]model.ModelPricing, len(doc.Prices))
	for _, raw := range doc.Prices {
		var item priceItem
		if err := json.Unmarshal(raw, &item); err != nil || item.ID == "" {
			continue
		}
		p := model.ModelPricing{
			Input:  deref(item.Input),
			Output: deref(item.Output),
		}
		if item.InputCached != nil {
			p.InputCached = *item.InputCached
		} else {
			p.InputCached = p.Input
		}
		prices[item.ID] = p
	}

	return NewTable(prices), nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Len returns the number of priced models
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.prices)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lower-cases s, collapses every run of non-alphanumerics to a
// single hyphen and trims hyphens at both ends.
func Normalize(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Resolve maps a free-form model id to a price, trying exact, normalized,
// longest-prefix and finally fuzzy matching. The bool is false when no tier
// matched, which callers treat as an unknown (zero) cost.
func (t *Table) Resolve(id string) (Match, bool) {
	if t == nil || len(t.prices) == 0 {
		return Match{}, false
	}

	if p, ok := t.prices[id]; ok {
		return Match{ID: id, Tier: TierExact, Pricing: p}, true
	}

	norm := Normalize(id)
	if key, ok := t.byNorm[norm]; ok {
		return t.match(key, TierNormalized), true
	}

	if key, ok := t.longestPrefix(norm); ok {
		return t.match(key, TierPrefix), true
	}

	if key, ok := t.closest(norm); ok {
		return t.match(key, TierFuzzy), true
	}

	return Match{}, false
}

func (t *Table) match(key string, tier Tier) Match {
	return Match{ID: key, Tier: tier, Pricing: t.prices[key]}
}

// longestPrefix picks the table key whose normalized form is the longest
// prefix of norm. Keys are visited in sorted order so ties cannot occur
// between distinct normalized forms.
func (t *Table) longestPrefix(norm string) (string, bool) {
	best := ""
	found := false
	for _, nk := range t.normKeys {
		if nk == "" || !strings.HasPrefix(norm, nk) {
			continue
		}
		if !found || len(nk) > len(best) {
			best = nk
			found = true
		}
	}
	if !found {
		return "", false
	}
	return t.byNorm[best], true
}

// closest returns the key most similar to norm when its ratio reaches
// FuzzyCutoff. Equal ratios keep the lexicographically smaller key.
func (t *Table) closest(norm string) (string, bool) {
	query := strings.Split(norm, "")
	best := ""
	bestRatio := -1.0
	for _, nk := range t.normKeys {
		r := Ratio(nk, query)
		if r > bestRatio {
			best = nk
			bestRatio = r
		}
	}
	if bestRatio < FuzzyCutoff {
		return "", false
	}
	return t.byNorm[best], true
}

// Ratio is difflib's SequenceMatcher ratio between candidate and the
// character sequence query, in [0, 1].
func Ratio(candidate string, query []string) float64 {
	m := difflib.NewMatcher(strings.Split(candidate, ""), query)
	return m.Ratio()
}

// CalculateCost projects summed tokens onto a price. Cached tokens are
// billed at InputCached and removed from the input share.
func CalculateCost(usage model.Tokens, p model.ModelPricing) model.Cost {
	return model.Cost{
		Input:  float64(usage.Uncached()) * p.Input / 1_000_000,
		Cached: float64(usage.Cached) * p.InputCached / 1_000_000,
		Output: float64(usage.Output) * p.Output / 1_000_000,
	}
}
