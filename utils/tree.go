package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Lookup walks a decoded JSON tree along keys. Every level must be a
// map[string]any holding the next key; otherwise ok is false. A nil value at
// the end of the path also reports ok == false.
func Lookup(v any, keys ...string) (any, bool) {
	cur := v
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// List returns the value at keys as a slice, if it is one.
func List(v any, keys ...string) ([]any, bool) {
	raw, ok := Lookup(v, keys...)
	if !ok {
		return nil, false
	}
	l, ok := raw.([]any)
	return l, ok
}

// SpanText reads keys + "textSpans" and returns the "text" of the first span.
func SpanText(v any, keys ...string) (string, bool) {
	spans, ok := List(v, append(keys, "textSpans")...)
	if !ok || len(spans) == 0 {
		return "", false
	}
	text, ok := Lookup(spans[0], "text")
	if !ok {
		return "", false
	}
	return String(text), true
}

// String coerces a decoded JSON scalar to text. nil becomes "".
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Number reads a numeric JSON value. Strings are not parsed.
func Number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
