package pricing

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/lectic-usage/internal/model"
)

var gpt4o = model.ModelPricing{Input: 2.5, Output: 10, InputCached: 1.25}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":                     "gpt-4o",
		"GPT_4O":                     "gpt-4o",
		"  Claude 3.5 Sonnet!! ":     "claude-3-5-sonnet",
		"anthropic/claude--opus-4.1": "anthropic-claude-opus-4-1",
		"___":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestResolveTiers(t *testing.T) {
	table := NewTable(map[string]model.ModelPricing{"gpt-4o": gpt4o})

	tests := []struct {
		query string
		tier  Tier
		found bool
	}{
		{"gpt-4o", TierExact, true},
		{"GPT_4O", TierNormalized, true},
		{"gpt-4o-2024-08-06", TierPrefix, true},
		{"gpt4o", TierFuzzy, true},
		{"llama-3.1-405b", TierNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			m, ok := table.Resolve(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.tier, m.Tier)
			if tt.found {
				assert.Equal(t, "gpt-4o", m.ID)
				assert.Equal(t, gpt4o, m.Pricing)
			}
		})
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	table := NewTable(map[string]model.ModelPricing{
		"claude-3":          {Input: 1},
		"claude-3-5-sonnet": {Input: 3},
		"claude-3-5":        {Input: 2},
	})

	m, ok := table.Resolve("claude-3-5-sonnet-20241022")
	require.True(t, ok)
	assert.Equal(t, TierPrefix, m.Tier)
	assert.Equal(t, "claude-3-5-sonnet", m.ID)
}

func TestResolveNormalizedCollisionPicksSmallestKey(t *testing.T) {
	table := NewTable(map[string]model.ModelPricing{
		"Gpt_4o": {Input: 2},
		"GPT-4o": {Input: 1},
	})

	m, ok := table.Resolve("gpt 4o")
	require.True(t, ok)
	assert.Equal(t, TierNormalized, m.Tier)
	assert.Equal(t, "GPT-4o", m.ID)
}

func TestResolveFuzzyCutoff(t *testing.T) {
	table := NewTable(map[string]model.ModelPricing{"gemini-1-5-pro": {Input: 1}})

	assert.Less(t, Ratio("gemini-1-5-pro", strings.Split("mistral", "")), FuzzyCutoff)
	_, ok := table.Resolve("mistral")
	assert.False(t, ok)

	m, ok := table.Resolve("gemini1.5pro")
	require.True(t, ok)
	assert.Equal(t, TierFuzzy, m.Tier)
}

func TestResolveEmptyTable(t *testing.T) {
	var nilTable *Table
	_, ok := nilTable.Resolve("gpt-4o")
	assert.False(t, ok)

	_, ok = NewTable(nil).Resolve("gpt-4o")
	assert.False(t, ok)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 1.0, Ratio("gpt-4o", strings.Split("gpt-4o", "")), 1e-9)
	assert.InDelta(t, 10.0/11.0, Ratio("gpt-4o", strings.Split("gpt4o", "")), 1e-9)
}

func TestCalculateCost(t *testing.T) {
	usage := model.Tokens{Input: 1_000_000, Output: 1_000_000, Cached: 500_000}
	p := model.ModelPricing{Input: 5, Output: 15, InputCached: 2.5}

	c := CalculateCost(usage, p)
	assert.InDelta(t, 2.50, c.Input, 1e-9)
	assert.InDelta(t, 1.25, c.Cached, 1e-9)
	assert.InDelta(t, 15.00, c.Output, 1e-9)
	assert.InDelta(t, 18.75, c.Total(), 1e-9)
}

func TestCalculateCostClampsInconsistentCache(t *testing.T) {
	c := CalculateCost(model.Tokens{Input: 10, Cached: 40}, model.ModelPricing{Input: 1_000_000, InputCached: 1})
	assert.Equal(t, 0.0, c.Input)
	assert.InDelta(t, 0.00004, c.Cached, 1e-12)
}

func TestDecodeTable(t *testing.T) {
	doc := `{"prices": [
		{"id": "gpt-4o", "input": 2.5, "output": 10, "input_cached": 1.25},
		{"id": "o1", "input": 15, "output": 60},
		{"id": "null-cached", "input": 3, "output": 6, "input_cached": null},
		{"input": 1, "output": 1},
		{"id": "bad", "input": "cheap"}
	], "updated_at": "2025-03-01"}`

	table, err := DecodeTable([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	m, ok := table.Resolve("o1")
	require.True(t, ok)
	assert.Equal(t, model.ModelPricing{Input: 15, Output: 60, InputCached: 15}, m.Pricing)

	m, ok = table.Resolve("null-cached")
	require.True(t, ok)
	assert.Equal(t, 3.0, m.Pricing.InputCached)

	_, err = DecodeTable([]byte(`[1]`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestLoadTableMissing(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "prices.json"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prices":[{"id":"m","input":1,"output":2}]}`), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}
