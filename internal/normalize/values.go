package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Helpers for probing decoded JSON (map[string]any trees).

func mapAt(v any, path ...string) map[string]any {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	m, _ := cur.(map[string]any)
	return m
}

func sliceAt(v any, path ...string) []any {
	if len(path) == 0 {
		s, _ := v.([]any)
		return s
	}
	parent := mapAt(v, path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	s, _ := parent[path[len(path)-1]].([]any)
	return s
}

func valueAt(v any, path ...string) (any, bool) {
	if len(path) == 0 {
		return v, v != nil
	}
	parent := mapAt(v, path[:len(path)-1]...)
	if parent == nil {
		return nil, false
	}
	val, ok := parent[path[len(path)-1]]
	return val, ok && val != nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func floatAt(v any, path ...string) *float64 {
	raw, ok := valueAt(v, path...)
	if !ok {
		return nil
	}
	f, ok := toFloat(raw)
	if !ok {
		return nil
	}
	return &f
}

// intAt reads a number and rounds it to the nearest integer
func intAt(v any, path ...string) *int {
	f := floatAt(v, path...)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

func stringAt(v any, path ...string) string {
	raw, ok := valueAt(v, path...)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

// scalarString reads a string or a number as text
func scalarString(v any, path ...string) string {
	raw, ok := valueAt(v, path...)
	if !ok {
		return ""
	}
	switch s := raw.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return ""
}

// datePortion returns the YYYY-MM-DD prefix of a date or ISO timestamp
func datePortion(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(DateLayout) {
		return "", false
	}
	d := s[:len(DateLayout)]
	if _, err := time.Parse(DateLayout, d); err != nil {
		return "", false
	}
	return d, true
}

// HoursFromSeconds converts a sleep duration to hours rounded to one decimal
func HoursFromSeconds(seconds float64) float64 {
	return math.Round(seconds/3600*10) / 10
}
