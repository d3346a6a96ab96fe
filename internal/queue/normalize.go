package queue

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Normalize converts an arbitrary value into one that is guaranteed to be
// JSON-serializable: numeric wrapper types become native primitives, sequences
// become []any, maps become map[string]any with stringified keys, and structs
// are flattened to field maps. Any value that cannot be converted falls back
// to its string representation. Normalize never panics and never fails.
func Normalize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("%v", v)
		}
	}()

	return normalize(v)
}

// NormalizeResult keeps a job result a mapping regardless of what the handler
// produced.
func NormalizeResult(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	if m, ok := Normalize(result).(map[string]any); ok {
		return m
	}
	return map[string]any{"value": fmt.Sprintf("%v", result)}
}

func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string:
		return val
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val
	case float64:
		return normalizeFloat(val)
	case float32:
		return normalizeFloat(float64(val))
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return val.String()
	case time.Time:
		return val
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = normalize(item)
		}
		return items
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = normalize(item)
		}
		return m
	case error:
		return val.Error()
	}

	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeReflect(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = normalize(rv.Index(i).Interface())
		}
		return items
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[mapKey(iter.Key())] = normalize(iter.Value().Interface())
		}
		return m
	case reflect.Struct:
		return normalizeStruct(rv)
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}

// normalizeStruct exposes a struct through its exported fields, honouring json
// tags so handler result types keep their wire names.
func normalizeStruct(rv reflect.Value) map[string]any {
	t := rv.Type()
	m := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}

		m[name] = normalize(rv.Field(i).Interface())
	}
	return m
}

func mapKey(key reflect.Value) string {
	if key.Kind() == reflect.String {
		return key.String()
	}
	return fmt.Sprintf("%v", key.Interface())
}

// normalizeFloat guards against values encoding/json refuses to marshal.
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprintf("%v", f)
	}
	return f
}
