package syncer

import (
	"encoding/json"
	"strconv"
	"strings"
)

var envelopes = []string{"data", "payload", "object", "message", "call", "contact", "record"}

// field returns the first non-empty scalar among keys, looking at the top
// level first and then one level into the usual envelopes.
func field(payload map[string]interface{}, keys ...string) string {
	if v := scalar(payload, keys); v != "" {
		return v
	}
	for _, env := range envelopes {
		if nested, ok := payload[env].(map[string]interface{}); ok {
			if v := scalar(nested, keys); v != "" {
				return v
			}
		}
	}
	return ""
}

// nestedID returns the "id" of payload[key] when it is an object.
func nestedID(payload map[string]interface{}, key string) string {
	if nested, ok := payload[key].(map[string]interface{}); ok {
		return scalar(nested, []string{"id"})
	}
	return ""
}

func flag(payload map[string]interface{}, keys ...string) bool {
	for _, m := range append([]map[string]interface{}{payload}, nestedMaps(payload)...) {
		for _, k := range keys {
			switch v := m[k].(type) {
			case bool:
				if v {
					return true
				}
			case string:
				if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil && b {
					return true
				}
			case json.Number:
				if n, err := v.Int64(); err == nil && n != 0 {
					return true
				}
			}
		}
	}
	return false
}

func nestedMaps(payload map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, env := range envelopes {
		if nested, ok := payload[env].(map[string]interface{}); ok {
			out = append(out, nested)
		}
	}
	return out
}

func scalar(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
