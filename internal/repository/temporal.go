package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"fieldledger/backend/internal/domain"
)

// Layouts accepted for instants written without a zone; those are read as UTC.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	domain.DateLayout,
}

// temporalFields names the JSON fields of an entity that hold days and instants.
type temporalFields struct {
	dates    []string
	instants []string
}

// normalize rewrites drifted temporal values to their canonical encoding:
// instants as RFC 3339 in UTC, days as YYYY-MM-DD. Numbers are taken as
// milliseconds since the epoch.
func (tf temporalFields) normalize(raw []byte) ([]byte, error) {
	if len(tf.dates) == 0 && len(tf.instants) == 0 {
		return raw, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	changed := false
	for _, name := range tf.instants {
		value, ok := present(fields, name)
		if !ok {
			continue
		}
		t, err := parseInstant(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		canonical, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(canonical, value) {
			fields[name] = canonical
			changed = true
		}
	}
	for _, name := range tf.dates {
		value, ok := present(fields, name)
		if !ok {
			continue
		}
		d, err := parseDay(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		canonical, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(canonical, value) {
			fields[name] = canonical
			changed = true
		}
	}

	if !changed {
		return raw, nil
	}
	return json.Marshal(fields)
}

func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	value, ok := fields[name]
	if !ok {
		return nil, false
	}
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) || bytes.Equal(value, []byte(`""`)) {
		delete(fields, name)
		return nil, false
	}
	return value, true
}

func parseInstant(raw json.RawMessage) (time.Time, error) {
	if raw[0] != '"' {
		ms, err := epochMillis(raw)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", s)
}

func parseDay(raw json.RawMessage) (domain.Date, error) {
	if raw[0] != '"' {
		ms, err := epochMillis(raw)
		if err != nil {
			return domain.Date{}, err
		}
		return domain.DateOf(time.UnixMilli(ms).UTC()), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Date{}, err
	}
	return domain.ParseDate(s)
}

func epochMillis(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("unrecognized temporal value %s", raw)
	}
	if ms, err := n.Int64(); err == nil {
		return ms, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
