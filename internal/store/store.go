// Package store owns the hourly usage document: loading it with explicit
// shape validation, recording usage events into it and writing it back.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/zhaobenny/lectic-usage/internal/fileutil"
	"github.com/zhaobenny/lectic-usage/internal/model"
)

const (
	// HourLayout is the key format of an hour bucket, e.g. 2025-03-01T14:00:00+00:00.
	HourLayout = "2006-01-02T15:04:05-07:00"

	stampLayout = "2006-01-02T15:04:05.000000-07:00"
)

var (
	ErrNotObject       = errors.New("usage file must be a JSON object")
	ErrHourlyNotObject = errors.New("usage file has non-object 'hourly'")
	ErrHourNotObject   = errors.New("hourly entry is not an object")
	ErrModelsNotObject = errors.New("hourly entry has non-object 'models'")
	ErrUsageNotObject  = errors.New("model usage is not an object")
	ErrBadHourKey      = errors.New("hour key is not an ISO-8601 timestamp")
	ErrNegativeCount   = errors.New("token counts must not be negative")
	ErrBadCount        = errors.New("count is not a whole number")
)

// EntryError describes one hourly or per-model entry that failed validation.
// Model is empty when the whole hour entry is affected.
type EntryError struct {
	Hour  string
	Model string
	Err   error
}

func (e *EntryError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("hour %s: %v", e.Hour, e.Err)
	}
	return fmt.Sprintf("hour %s, model %s: %v", e.Hour, e.Model, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Usage is the record kept per (hour, model).
type Usage struct {
	Tokens    model.Tokens
	Turns     int64
	UpdatedAt string

	extra map[string]json.RawMessage
}

// Hour holds every model observed within one hour bucket.
type Hour struct {
	Key       string
	Start     time.Time // zero when Key does not parse
	Models    map[string]*Usage
	UpdatedAt string

	invalid map[string]json.RawMessage
	extra   map[string]json.RawMessage
}

// Store is the in-memory form of usage.json.
type Store struct {
	Hourly    map[string]*Hour
	UpdatedAt string

	invalid  map[string]invalidHour
	extra    map[string]json.RawMessage
	problems []EntryError
}

type invalidHour struct {
	raw json.RawMessage
	err error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		Hourly:  make(map[string]*Hour),
		invalid: make(map[string]invalidHour),
		extra:   make(map[string]json.RawMessage),
	}
}

// HourBucket truncates t to the start of its UTC hour and returns the bucket key.
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(HourLayout)
}

var hourKeyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseHourKey parses an hour bucket key. Keys without a zone are taken as UTC.
func ParseHourKey(key string) (time.Time, error) {
	for _, layout := range hourKeyLayouts {
		if t, err := time.Parse(layout, key); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadHourKey, key)
}

// Load reads the store at path. A missing file is an empty store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}

	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode validates and parses a persisted document. Only a malformed top
// level is fatal; bad hour and model entries are kept verbatim and reported
// through Problems.
func Decode(data []byte) (*Store, error) {
	if !isObject(data) {
		return nil, ErrNotObject
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	s := New()
	for k, v := range top {
		switch k {
		case "hourly":
		case "updated_at":
			if json.Unmarshal(v, &s.UpdatedAt) != nil {
				s.extra[k] = v
			}
		default:
			s.extra[k] = v
		}
	}

	rawHourly, ok := top["hourly"]
	if !ok || isNull(rawHourly) {
		return s, nil
	}
	if !isObject(rawHourly) {
		return nil, ErrHourlyNotObject
	}

	var hourly map[string]json.RawMessage
	if err := json.Unmarshal(rawHourly, &hourly); err != nil {
		return nil, err
	}

	for key, raw := range hourly {
		h, err := decodeHour(key, raw)
		if err != nil {
			s.invalid[key] = invalidHour{raw: raw, err: err}
			s.problems = append(s.problems, EntryError{Hour: key, Err: err})
			continue
		}
		if h.Start.IsZero() {
			s.problems = append(s.problems, EntryError{Hour: key, Err: ErrBadHourKey})
		}
		for m, raw := range h.invalid {
			s.problems = append(s.problems, EntryError{Hour: key, Model: m, Err: modelError(raw)})
		}
		s.Hourly[key] = h
	}

	sort.Slice(s.problems, func(i, j int) bool {
		if s.problems[i].Hour != s.problems[j].Hour {
			return s.problems[i].Hour < s.problems[j].Hour
		}
		return s.problems[i].Model < s.problems[j].Model
	})

	return s, nil
}

func decodeHour(key string, raw json.RawMessage) (*Hour, error) {
	if !isObject(raw) {
		return nil, ErrHourNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrHourNotObject
	}

	h := &Hour{
		Key:     key,
		Models:  make(map[string]*Usage),
		invalid: make(map[string]json.RawMessage),
		extra:   make(map[string]json.RawMessage),
	}
	if t, err := ParseHourKey(key); err == nil {
		h.Start = t
	}
	for k, v := range fields {
		switch k {
		case "models":
		case "updated_at":
			if json.Unmarshal(v, &h.UpdatedAt) != nil {
				h.extra[k] = v
			}
		default:
			h.extra[k] = v
		}
	}

	rawModels, ok := fields["models"]
	if !ok {
		return h, nil
	}
	if !isObject(rawModels) {
		return nil, ErrModelsNotObject
	}

	var models map[string]json.RawMessage
	if err := json.Unmarshal(rawModels, &models); err != nil {
		return nil, ErrModelsNotObject
	}

	for name, rawUsage := range models {
		u, err := decodeUsage(rawUsage)
		if err != nil {
			h.invalid[name] = rawUsage
			continue
		}
		h.Models[name] = u
	}
	return h, nil
}

// decodeUsage reads the counters of a model entry. Keys it does not know
// are kept for Encode.
func decodeUsage(raw json.RawMessage) (*Usage, error) {
	if !isObject(raw) {
		return nil, ErrUsageNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrUsageNotObject
	}

	u := &Usage{extra: make(map[string]json.RawMessage)}
	counts := map[string]*int64{
		"input_tokens":  &u.Tokens.Input,
		"output_tokens": &u.Tokens.Output,
		"cached_tokens": &u.Tokens.Cached,
		"turns":         &u.Turns,
	}
	for k, v := range fields {
		if dst, ok := counts[k]; ok {
			n, err := decodeCount(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			*dst = n
			continue
		}
		if k == "updated_at" && json.Unmarshal(v, &u.UpdatedAt) == nil {
			continue
		}
		u.extra[k] = v
	}
	return u, nil
}

// decodeCount accepts any JSON number with an integral value, so 1e3 and
// 100.0 read as 1000 and 100.
func decodeCount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, ErrBadCount
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, ErrBadCount
	}

	if n, err := num.Int64(); err == nil {
		if n < 0 {
			return 0, ErrNegativeCount
		}
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, ErrBadCount
	}
	if f < 0 {
		return 0, ErrNegativeCount
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, ErrBadCount
	}
	return int64(f), nil
}

func modelError(raw json.RawMessage) error {
	_, err := decodeUsage(raw)
	return err
}

// Problems returns every entry skipped during Decode, ordered by hour then model.
func (s *Store) Problems() []EntryError {
	return s.problems
}

// Empty reports whether the document holds no hourly entries at all.
func (s *Store) Empty() bool {
	return len(s.Hourly) == 0 && len(s.invalid) == 0
}

// Hours returns the hours with a parsable key, oldest first.
func (s *Store) Hours() []*Hour {
	hours := make([]*Hour, 0, len(s.Hourly))
	for _, h := range s.Hourly {
		if h.Start.IsZero() {
			continue
		}
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if !hours[i].Start.Equal(hours[j].Start) {
			return hours[i].Start.Before(hours[j].Start)
		}
		return hours[i].Key < hours[j].Key
	})
	return hours
}

// Record adds one usage event observed at the given instant. The turn count
// is bumped even when inc is zero.
func (s *Store) Record(at time.Time, modelID string, inc model.Tokens) (*Usage, error) {
	if inc.Input < 0 || inc.Output < 0 || inc.Cached < 0 {
		return nil, ErrNegativeCount
	}

	key := HourBucket(at)
	stamp := at.UTC().Format(stampLayout)

	h, err := s.hour(key)
	if err != nil {
		return nil, err
	}
	u, err := h.usage(modelID)
	if err != nil {
		return nil, err
	}

	u.Tokens.Add(inc)
	u.Turns++
	u.UpdatedAt = stamp

	h.UpdatedAt = stamp
	s.UpdatedAt = stamp
	return u, nil
}

// hour returns the entry for key, inserting it when absent.
func (s *Store) hour(key string) (*Hour, error) {
	if h, ok := s.Hourly[key]; ok {
		return h, nil
	}
	if bad, ok := s.invalid[key]; ok {
		if errors.Is(bad.err, ErrModelsNotObject) {
			return nil, &EntryError{Hour: key, Err: ErrModelsNotObject}
		}
		delete(s.invalid, key)
	}

	start, _ := ParseHourKey(key)
	h := &Hour{
		Key:     key,
		Start:   start,
		Models:  make(map[string]*Usage),
		invalid: make(map[string]json.RawMessage),
	}
	s.Hourly[key] = h
	return h, nil
}

// usage returns the record for modelID, inserting it when absent. A
// non-object entry under the same name is replaced; an object whose counters
// cannot be read is left alone and reported as an EntryError.
func (h *Hour) usage(modelID string) (*Usage, error) {
	if u, ok := h.Models[modelID]; ok {
		return u, nil
	}
	if raw, ok := h.invalid[modelID]; ok {
		if isObject(raw) {
			return nil, &EntryError{Hour: h.Key, Model: modelID, Err: modelError(raw)}
		}
		delete(h.invalid, modelID)
	}
	u := &Usage{}
	h.Models[modelID] = u
	return u, nil
}

// Encode renders the store as indented JSON with sorted keys.
func (s *Store) Encode() ([]byte, error) {
	hourly := make(map[string]any, len(s.Hourly)+len(s.invalid))
	for key, bad := range s.invalid {
		hourly[key] = bad.raw
	}
	for key, h := range s.Hourly {
		models := make(map[string]any, len(h.Models)+len(h.invalid))
		for name, raw := range h.invalid {
			models[name] = raw
		}
		for name, u := range h.Models {
			models[name] = u.encode()
		}
		entry := withExtra(h.extra, 2)
		entry["models"] = models
		if h.UpdatedAt != "" {
			entry["updated_at"] = h.UpdatedAt
		}
		hourly[key] = entry
	}

	doc := withExtra(s.extra, 2)
	doc["hourly"] = hourly
	if s.UpdatedAt != "" {
		doc["updated_at"] = s.UpdatedAt
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (u *Usage) encode() map[string]any {
	doc := withExtra(u.extra, 5)
	doc["input_tokens"] = u.Tokens.Input
	doc["output_tokens"] = u.Tokens.Output
	doc["cached_tokens"] = u.Tokens.Cached
	doc["turns"] = u.Turns
	if u.UpdatedAt != "" {
		doc["updated_at"] = u.UpdatedAt
	}
	return doc
}

// withExtra starts an output object from the unknown keys read at load time.
func withExtra(extra map[string]json.RawMessage, known int) map[string]any {
	doc := make(map[string]any, len(extra)+known)
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

// Save atomically replaces the document at path.
func (s *Store) Save(path string) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func isObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}
