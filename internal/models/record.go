package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrDecode marks a record that could not be mapped onto an entity.
var ErrDecode = errors.New("record decode failed")

// Record is the schemaless key/value form entities take in the document store.
// Values are JSON-shaped: string, float64, bool, nil, []interface{} and
// map[string]interface{}.
type Record map[string]interface{}

// Encode converts an entity into its canonical record form.
func Encode(v interface{}) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Decode maps a record onto out. Unknown keys are ignored and missing keys
// leave the zero value in place.
func Decode(rec Record, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		Squash:           true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			timeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := dec.Decode(map[string]interface{}(rec)); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// timeHook accepts RFC3339 strings and epoch milliseconds for time fields.
func timeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return data, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(r)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Record:
		return Record(cloneValue(map[string]interface{}(val)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// String returns the string value at key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}
