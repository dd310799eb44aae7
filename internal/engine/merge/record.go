// Package merge reconciles two views of the same contact field by field and
// explains every choice it makes.
package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SystemTagPrefix marks tags written by hooksync itself. Merge never drops them.
const SystemTagPrefix = "sys:"

// Record is the system-agnostic shape of a contact.
type Record struct {
	Source     string            `json:"source"`
	ID         string            `json:"id"`
	Phone      string            `json:"phone,omitempty"`
	Email      string            `json:"email,omitempty"`
	FirstName  string            `json:"first_name,omitempty"`
	LastName   string            `json:"last_name,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (r Record) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// FromPayload converts a webhook body from the given source into a Record.
// Each system nests contact fields differently; the first match wins.
func FromPayload(source string, payload map[string]interface{}) Record {
	body := payload
	for _, key := range []string{"contact", "data", "object", "record"} {
		if nested, ok := payload[key].(map[string]interface{}); ok {
			body = nested
			break
		}
	}
	props := body
	if nested, ok := body["properties"].(map[string]interface{}); ok {
		props = nested
	}

	r := Record{
		Source:     source,
		ID:         firstString(body, "id", "contact_id", "contactId", "objectId", "external_id"),
		Phone:      firstString(props, "phone", "phone_number", "mobilephone", "number", "msisdn"),
		Email:      firstString(props, "email", "email_address"),
		FirstName:  firstString(props, "first_name", "firstname", "firstName"),
		LastName:   firstString(props, "last_name", "lastname", "lastName"),
		Attributes: map[string]string{},
	}
	if r.Phone == "" {
		if phones, ok := props["phone_numbers"].([]interface{}); ok && len(phones) > 0 {
			r.Phone = stringify(phones[0])
		}
	}
	if r.FirstName == "" && r.LastName == "" {
		if name := firstString(props, "name", "full_name"); name != "" {
			parts := strings.SplitN(name, " ", 2)
			r.FirstName = parts[0]
			if len(parts) == 2 {
				r.LastName = parts[1]
			}
		}
	}

	switch tags := props["tags"].(type) {
	case []interface{}:
		for _, t := range tags {
			if s := stringify(t); s != "" {
				r.Tags = append(r.Tags, s)
			}
		}
	case string:
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				r.Tags = append(r.Tags, t)
			}
		}
	}

	if attrs, ok := props["custom_fields"].(map[string]interface{}); ok {
		for k, v := range attrs {
			r.Attributes[k] = stringify(v)
		}
	}

	timeKeys := []string{"updated_at", "updatedAt", "lastmodifieddate", "timestamp", "occurred_at"}
	r.UpdatedAt = parseTime(firstValue(body, timeKeys...))
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = parseTime(firstValue(props, timeKeys...))
	}
	return r
}

func firstValue(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := stringify(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// parseTime accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTime(v interface{}) time.Time {
	switch val := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC()
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return unixAuto(n)
		}
	case float64:
		return unixAuto(int64(val))
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return unixAuto(n)
		}
		if f, err := val.Float64(); err == nil {
			return unixAuto(int64(f))
		}
	}
	return time.Time{}
}

func unixAuto(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
