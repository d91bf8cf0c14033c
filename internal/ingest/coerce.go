package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func safeInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return fallback
}

func toFlag(v interface{}) int {
	switch f := v.(type) {
	case bool:
		if f {
			return 1
		}
	case float64:
		if int(f) != 0 {
			return 1
		}
	case json.Number:
		if safeInt(f, 0) != 0 {
			return 1
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "1", "true", "yes", "y", "on":
			return 1
		}
	}
	return 0
}

// normalizeLabel returns the first non-empty label among candidates. List
// labels are joined with commas.
func normalizeLabel(candidates ...interface{}) string {
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if item == nil {
					continue
				}
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ",")
			}
		}
	}
	return "unknown"
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
