package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/lectic-usage/internal/model"
)

func TestHourBucketSameHour(t *testing.T) {
	base := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	want := "2025-03-01T14:00:00+00:00"

	for _, off := range []time.Duration{0, time.Nanosecond, 17 * time.Minute, 59*time.Minute + 59*time.Second + 999*time.Millisecond} {
		assert.Equal(t, want, HourBucket(base.Add(off)), "offset %s", off)
	}

	assert.NotEqual(t, want, HourBucket(base.Add(time.Hour)))

	start, err := ParseHourKey(want)
	require.NoError(t, err)
	assert.Equal(t, want, HourBucket(start))
}

func TestHourBucketConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	at := time.Date(2025, 3, 1, 20, 10, 0, 0, loc) // 14:40 UTC
	assert.Equal(t, "2025-03-01T14:00:00+00:00", HourBucket(at))
}

func TestParseHourKey(t *testing.T) {
	tests := []struct {
		key  string
		want time.Time
		ok   bool
	}{
		{"2025-03-01T14:00:00+00:00", time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"2025-03-01T14:00:00Z", time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"2025-03-01T14:00:00", time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"2025-03-01 14:00:00+00:00", time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ParseHourKey(tt.key)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrBadHourKey)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestRecordAdditive(t *testing.T) {
	s := New()
	at := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)

	_, err := s.Record(at, "gpt-4o", model.Tokens{Input: 100, Output: 50, Cached: 20})
	require.NoError(t, err)
	u, err := s.Record(at.Add(30*time.Minute), "gpt-4o", model.Tokens{Input: 10, Output: 5})
	require.NoError(t, err)

	assert.Equal(t, model.Tokens{Input: 110, Output: 55, Cached: 20}, u.Tokens)
	assert.Equal(t, int64(2), u.Turns)
	assert.Len(t, s.Hourly, 1)
	assert.Equal(t, "2025-03-01T14:35:00.000000+00:00", u.UpdatedAt)
	assert.Equal(t, u.UpdatedAt, s.UpdatedAt)
}

func TestRecordZeroIncrementCountsTurn(t *testing.T) {
	s := New()
	at := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)

	u, err := s.Record(at, "claude", model.Tokens{})
	require.NoError(t, err)
	assert.True(t, u.Tokens.IsZero())
	assert.Equal(t, int64(1), u.Turns)
}

func TestRecordRejectsNegative(t *testing.T) {
	_, err := New().Record(time.Now(), "m", model.Tokens{Input: -1})
	assert.ErrorIs(t, err, ErrNegativeCount)
}

func TestDecodeRejectsNonObject(t *testing.T) {
	for _, doc := range []string{`[]`, `"x"`, `42`, `null`} {
		_, err := Decode([]byte(doc))
		assert.ErrorIs(t, err, ErrNotObject, doc)
	}

	_, err := Decode([]byte(`{"hourly": []}`))
	assert.ErrorIs(t, err, ErrHourlyNotObject)
}

func TestDecodeReportsMalformedEntries(t *testing.T) {
	doc := `{
		"hourly": {
			"2025-03-01T14:00:00+00:00": {"models": "oops"},
			"2025-03-01T15:00:00+00:00": {"models": {
				"good": {"input_tokens": 10, "output_tokens": 2, "cached_tokens": 1, "turns": 1},
				"bad": 7
			}},
			"2025-03-01T16:00:00+00:00": [1, 2],
			"not-a-time": {"models": {}}
		}
	}`

	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	problems := s.Problems()
	require.Len(t, problems, 4)
	assert.ErrorIs(t, problems[0].Err, ErrModelsNotObject)
	assert.Equal(t, "2025-03-01T15:00:00+00:00", problems[1].Hour)
	assert.Equal(t, "bad", problems[1].Model)
	assert.ErrorIs(t, problems[1].Err, ErrUsageNotObject)
	assert.ErrorIs(t, problems[2].Err, ErrHourNotObject)
	assert.ErrorIs(t, problems[3].Err, ErrBadHourKey)

	hours := s.Hours()
	require.Len(t, hours, 1)
	assert.Equal(t, model.Tokens{Input: 10, Output: 2, Cached: 1}, hours[0].Models["good"].Tokens)
	assert.False(t, s.Empty())
}

func TestRecordIntoMalformedHour(t *testing.T) {
	doc := `{"hourly": {
		"2025-03-01T14:00:00+00:00": {"models": "oops"},
		"2025-03-01T15:00:00+00:00": "garbage",
		"2025-03-01T16:00:00+00:00": {"models": {"m": "garbage"}}
	}}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	_, err = s.Record(time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC), "m", model.Tokens{Input: 1})
	var entryErr *EntryError
	require.True(t, errors.As(err, &entryErr))
	assert.ErrorIs(t, err, ErrModelsNotObject)

	u, err := s.Record(time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC), "m", model.Tokens{Input: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Turns)

	u, err = s.Record(time.Date(2025, 3, 1, 16, 30, 0, 0, time.UTC), "m", model.Tokens{Input: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Tokens.Input)
	assert.Equal(t, int64(1), u.Turns)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.Empty(t, s.Hours())
}

func TestSaveRoundTripPreservesMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	doc := `{"hourly": {
		"2025-03-01T14:00:00+00:00": {"models": "oops"},
		"2025-03-01T15:00:00+00:00": {"note": "keep", "models": {
			"gpt-4o": {"input_tokens": 0, "output_tokens": 0, "cached_tokens": 0, "turns": 0, "session": "abc"}
		}}
	}, "version": 3}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	_, err = s.Record(time.Date(2025, 3, 1, 15, 1, 0, 0, time.UTC), "gpt-4o", model.Tokens{Input: 5, Output: 1})
	require.NoError(t, err)
	require.NoError(t, s.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.EqualValues(t, 3, generic["version"])

	hourly := generic["hourly"].(map[string]any)
	assert.Equal(t, "oops", hourly["2025-03-01T14:00:00+00:00"].(map[string]any)["models"])

	entry := hourly["2025-03-01T15:00:00+00:00"].(map[string]any)
	assert.Equal(t, "keep", entry["note"])
	usage := entry["models"].(map[string]any)["gpt-4o"].(map[string]any)
	assert.Equal(t, "abc", usage["session"])
	assert.EqualValues(t, 5, usage["input_tokens"])
	assert.EqualValues(t, 1, usage["output_tokens"])
	assert.EqualValues(t, 0, usage["cached_tokens"])
	assert.EqualValues(t, 1, usage["turns"])

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.Hours(), 1)
	assert.Len(t, reloaded.Problems(), 1)
}

func TestDecodeWholeNumberFloats(t *testing.T) {
	doc := `{"hourly": {"2025-03-01T14:00:00+00:00": {"models": {
		"m": {"input_tokens": 1e3, "output_tokens": 50.0, "cached_tokens": 0, "turns": 7}
	}}}}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, s.Problems())

	u, err := s.Record(time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC), "m", model.Tokens{Input: 1})
	require.NoError(t, err)
	assert.Equal(t, model.Tokens{Input: 1001, Output: 50}, u.Tokens)
	assert.Equal(t, int64(8), u.Turns)
}

func TestRecordKeepsUnreadableObjectEntry(t *testing.T) {
	doc := `{"hourly": {"2025-03-01T14:00:00+00:00": {"models": {
		"m": {"input_tokens": 1.5, "output_tokens": 50, "turns": 7},
		"n": {"input_tokens": "lots"}
	}}}}`
	s, err := Decode([]byte(doc))
	require.NoError(t, err)

	problems := s.Problems()
	require.Len(t, problems, 2)
	assert.ErrorIs(t, problems[0].Err, ErrBadCount)
	assert.ErrorIs(t, problems[1].Err, ErrBadCount)

	at := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	for _, name := range []string{"m", "n"} {
		_, err = s.Record(at, name, model.Tokens{Input: 1})
		var entryErr *EntryError
		require.True(t, errors.As(err, &entryErr), name)
		assert.Equal(t, name, entryErr.Model)
		assert.ErrorIs(t, err, ErrBadCount)
	}

	data, err := s.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input_tokens": 1.5`)
	assert.Contains(t, string(data), `"turns": 7`)
}

func TestDecodeCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		err  error
	}{
		{`12`, 12, nil},
		{`1e3`, 1000, nil},
		{`100.0`, 100, nil},
		{`-3`, 0, ErrNegativeCount},
		{`-2.0`, 0, ErrNegativeCount},
		{`2.5`, 0, ErrBadCount},
		{`"12"`, 0, ErrBadCount},
		{`null`, 0, ErrBadCount},
		{`1e30`, 0, ErrBadCount},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := decodeCount(json.RawMessage(tt.raw))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
