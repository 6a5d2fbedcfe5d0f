// Package safejson encodes arbitrary values without ever failing the caller.
// Fragments that cannot be represented are replaced instead of aborting the
// whole document: invalid UTF-8 strings and unsupported kinds become null and
// non-finite floats become 0.
package safejson

import (
	"bytes"
	"math"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Marshal returns the JSON text for v. It never returns an error; a value
// that still cannot be encoded after sanitizing is rendered as "null".
func Marshal(v any) []byte {
	data, err := encode(Sanitize(v))
	if err != nil {
		return []byte("null")
	}
	return data
}

// String is Marshal as a string.
func String(v any) string {
	return string(Marshal(v))
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sanitize walks v and returns a tree made only of JSON-safe values.
func Sanitize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if !utf8.ValidString(t) {
			return nil
		}
		return t
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case json.Number:
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Sanitize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if !utf8.ValidString(k) {
				k = strings.ToValidUTF8(k, "")
			}
			out[k] = Sanitize(item)
		}
		return out
	}
	return sanitizeReflect(reflect.ValueOf(v))
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func sanitizeReflect(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Sanitize(rv.Elem().Interface())
	case reflect.String:
		return Sanitize(rv.String())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[strings.ToValidUTF8(k.String(), "")] = Sanitize(rv.MapIndex(k).Interface())
		}
		return out
	case reflect.Struct:
		// Structs carry their own tags; encode them as-is and drop them if that fails.
		if data, err := encode(rv.Interface()); err == nil {
			var generic any
			if err := json.Unmarshal(data, &generic); err == nil {
				return generic
			}
		}
		return nil
	default:
		// chan, func, complex, unsafe pointers
		return nil
	}
}
