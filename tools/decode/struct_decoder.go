package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// WeaklyTypedInput lets "8080" decode into an int, 42 into a string,
	// "true" into a bool and so on.
	WeaklyTypedInput bool
	// TagName is the struct tag holding the map key. Defaults to "json".
	TagName string
	// SliceSep splits a single string into a []string target. Defaults to ",".
	SliceSep string
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "json",
		SliceSep:         ",",
	}
}

// WithTag returns DefaultOptions reading keys from the given struct tag.
func WithTag(tag string) Options {
	o := DefaultOptions()
	o.TagName = tag
	return o
}

// Decode decodes a generic map (a parsed JSON object, an environment snapshot)
// into a fresh T.
func Decode[T any](m map[string]any, opts ...Options) (*T, error) {
	var out T
	if err := DecodeInto(m, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeInto decodes m over an existing value, keeping fields m does not name.
// This is how defaults survive a partial environment.
func DecodeInto(m map[string]any, out any, opts ...Options) error {
	if m == nil {
		return fmt.Errorf("map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if cfg.TagName == "" {
		cfg.TagName = "json"
	}
	if cfg.SliceSep == "" {
		cfg.SliceSep = ","
	}

	decCfg := &mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			trimmedStringToSliceHook(cfg.SliceSep),
			floatToIntHook(),
			sliceAnyToSliceStringHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}

	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// ReadString 从 map 中读取 string 字段。
func ReadString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field %q", key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("field %q not string (got %T)", key, v)
	}
}

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// sliceAnyToSliceStringHook converts []any into []string when the target is
// a []string.
func sliceAnyToSliceStringHook() mapstructure.DecodeHookFunc {
	stringSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != stringSlice {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case json.Number:
				out = append(out, v.String())
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
		return out, nil
	}
}

// trimmedStringToSliceHook splits "a, b,,c" into ["a" "b" "c"] for []string targets.
func trimmedStringToSliceHook(sep string) mapstructure.DecodeHookFunc {
	stringSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != stringSlice {
			return data, nil
		}
		return splitTrim(data.(string), sep), nil
	}
}
