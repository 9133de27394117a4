package store

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"fieldledger/backend/internal/domain"
)

// IndexValue is a normalized index key. Numbers order before strings; strings
// compare bytewise.
type IndexValue struct {
	Num   float64
	Str   string
	IsNum bool
}

func NumValue(n float64) IndexValue { return IndexValue{Num: n, IsNum: true} }
func StrValue(s string) IndexValue { return IndexValue{Str: s} }

func (v IndexValue) Compare(other IndexValue) int {
	if v.IsNum != other.IsNum {
		if v.IsNum {
			return -1
		}
		return 1
	}
	if v.IsNum {
		switch {
		case v.Num < other.Num:
			return -1
		case v.Num > other.Num:
			return 1
		}
		return 0
	}
	return strings.Compare(v.Str, other.Str)
}

func (v IndexValue) String() string {
	if v.IsNum {
		return fmt.Sprintf("%g", v.Num)
	}
	return v.Str
}

// IndexEntry is one index value a record contributes on write.
type IndexEntry struct {
	Index  string
	Field  string
	Unique bool
	Value  IndexValue
}

// IndexEntries extracts every index value declared for the collection from a JSON payload.
// Absent and null fields contribute nothing.
func IndexEntries(spec CollectionSpec, payload []byte) ([]IndexEntry, error) {
	if len(spec.Indexes) == 0 {
		return nil, nil
	}
	fields, err := topLevelFields(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s record: %w", spec.Name, err)
	}
	entries := make([]IndexEntry, 0, len(spec.Indexes))
	for _, idx := range spec.Indexes {
		value, ok, err := indexValue(fields[idx.Field], idx)
		if err != nil {
			return nil, domain.InvalidInput(spec.Name, idx.Field, err.Error())
		}
		if !ok {
			continue
		}
		entries = append(entries, IndexEntry{Index: idx.Name, Field: idx.Field, Unique: idx.Unique, Value: value})
	}
	return entries, nil
}

// ExtractIndexValue returns the value the record contributes to a single index.
func ExtractIndexValue(payload []byte, idx IndexSpec) (IndexValue, bool, error) {
	fields, err := topLevelFields(payload)
	if err != nil {
		return IndexValue{}, false, err
	}
	return indexValue(fields[idx.Field], idx)
}

func topLevelFields(payload []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func indexValue(raw json.RawMessage, idx IndexSpec) (IndexValue, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return IndexValue{}, false, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return IndexValue{}, false, err
		}
		if idx.Instant {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return IndexValue{}, false, fmt.Errorf("index %s: %w", idx.Name, err)
			}
			return instantValue(t), true, nil
		}
		return StrValue(s), true, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return IndexValue{}, false, err
		}
		if b {
			return NumValue(1), true, nil
		}
		return NumValue(0), true, nil
	case '{', '[':
		return IndexValue{}, false, fmt.Errorf("index %s: field %s is not a scalar", idx.Name, idx.Field)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return IndexValue{}, false, err
	}
	f, err := n.Float64()
	if err != nil {
		return IndexValue{}, false, err
	}
	return NumValue(f), true, nil
}

// Instants index as microseconds since the epoch, which float64 holds exactly.
func instantValue(t time.Time) IndexValue {
	return NumValue(float64(t.UnixMicro()))
}

// Range is a normalized, inclusive query over one value type.
type Range struct {
	IsNum bool
	Lower *IndexValue
	Upper *IndexValue
}

func (r Range) Contains(v IndexValue) bool {
	if v.IsNum != r.IsNum {
		return false
	}
	if r.Lower != nil && v.Compare(*r.Lower) < 0 {
		return false
	}
	if r.Upper != nil && v.Compare(*r.Upper) > 0 {
		return false
	}
	return true
}

// Query selects records by index value. Bounds are inclusive.
type Query struct {
	lower    any
	upper    any
	hasLower bool
	hasUpper bool
}

func Equal(v any) Query {
	return Query{lower: v, upper: v, hasLower: true, hasUpper: true}
}

func Between(lo any, hi any) Query {
	return Query{lower: lo, upper: hi, hasLower: true, hasUpper: true}
}

func AtLeast(lo any) Query {
	return Query{lower: lo, hasLower: true}
}

func AtMost(hi any) Query {
	return Query{upper: hi, hasUpper: true}
}

// Range normalizes the query bounds the same way record fields are indexed.
func (q Query) Range(idx IndexSpec) (Range, error) {
	if !q.hasLower && !q.hasUpper {
		return Range{}, fmt.Errorf("index %s: query has no bounds", idx.Name)
	}
	var r Range
	if q.hasLower {
		v, err := normalizeQueryValue(q.lower, idx)
		if err != nil {
			return Range{}, err
		}
		r.Lower = &v
		r.IsNum = v.IsNum
	}
	if q.hasUpper {
		v, err := normalizeQueryValue(q.upper, idx)
		if err != nil {
			return Range{}, err
		}
		if r.Lower != nil && r.IsNum != v.IsNum {
			return Range{}, fmt.Errorf("index %s: bounds have different types", idx.Name)
		}
		r.Upper = &v
		r.IsNum = v.IsNum
	}
	return r, nil
}

func normalizeQueryValue(v any, idx IndexSpec) (IndexValue, error) {
	if idx.Instant {
		switch t := v.(type) {
		case time.Time:
			return instantValue(t), nil
		case *time.Time:
			if t != nil {
				return instantValue(*t), nil
			}
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return IndexValue{}, fmt.Errorf("index %s: %w", idx.Name, err)
			}
			return instantValue(parsed), nil
		}
		return IndexValue{}, fmt.Errorf("index %s: expected a time value, got %T", idx.Name, v)
	}

	if m, ok := v.(encoding.TextMarshaler); ok {
		text, err := m.MarshalText()
		if err != nil {
			return IndexValue{}, err
		}
		return StrValue(string(text)), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return IndexValue{}, fmt.Errorf("index %s: nil query value", idx.Name)
		}
		rv = rv.Elem()
		if m, ok := rv.Interface().(encoding.TextMarshaler); ok {
			return normalizeQueryValue(m, idx)
		}
	}

	switch rv.Kind() {
	case reflect.String:
		return StrValue(rv.String()), nil
	case reflect.Bool:
		if rv.Bool() {
			return NumValue(1), nil
		}
		return NumValue(0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NumValue(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NumValue(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return IndexValue{}, fmt.Errorf("index %s: non-finite query value", idx.Name)
		}
		return NumValue(f), nil
	case reflect.Invalid:
		return IndexValue{}, fmt.Errorf("index %s: nil query value", idx.Name)
	}
	return IndexValue{}, fmt.Errorf("index %s: unsupported query value %T", idx.Name, v)
}
