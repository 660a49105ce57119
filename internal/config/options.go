package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Options is the free-form option bag of a parser, step, plot or output.
// Values arrive from JSON or YAML, so the accessors accept every numeric
// representation either decoder produces.
type Options map[string]any

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any { return o[key] }

func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	if f, ok := number(o[key]); ok {
		return int(f)
	}
	if s, ok := o[key].(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func (o Options) Float(key string, def float64) float64 {
	if f, ok := number(o[key]); ok {
		return f
	}
	if s, ok := o[key].(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

// Rune returns the first rune of a string option, e.g. a CSV delimiter.
// The escape "\t" is accepted for tab.
func (o Options) Rune(key string, def rune) rune {
	s, ok := o[key].(string)
	if !ok || s == "" {
		return def
	}
	if s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// Strings returns a list option. A single string is a one-element list.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch v := o[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, e := range v {
			out[k] = fmt.Sprint(e)
		}
	}
	return out
}

// Map returns a nested option bag, or nil.
func (o Options) Map(key string) Options {
	switch v := o[key].(type) {
	case map[string]any:
		return Options(v)
	case Options:
		return v
	}
	return nil
}

// List returns a list of nested option bags.
func (o Options) List(key string) []Options {
	raw, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Options, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, Options(m))
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalizeYAML turns the map[interface{}]interface{} nodes produced by
// yaml.v2 into map[string]any so Options behaves the same for both formats.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return m
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeYAML(e)
		}
		return t
	case Options:
		for k, e := range t {
			t[k] = normalizeYAML(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeYAML(e)
		}
		return t
	}
	return v
}
