package ingest

import (
	"encoding/json"
	"regexp"
	"strings"

	"hooksync/internal/platform/models"
)

// Canonical is the stable shape extracted from a provider payload.
type Canonical struct {
	EventType  string
	EntityType string
	EntityID   string
	Direction  string
	DeliveryID string
}

var (
	eventTypeKeys  = []string{"event_type", "eventType", "event", "type", "subscriptionType", "topic", "action"}
	entityTypeKeys = []string{"entity_type", "entityType", "object_type", "objectType", "resource_type"}
	deliveryKeys   = []string{"delivery_id", "deliveryId", "webhook_id", "webhookId", "event_id", "eventId", "notification_id"}
	envelopeKeys   = []string{"data", "payload", "object", "body", "meta", "webhook"}

	entityIDKeys = map[string][]string{
		models.EntityContact: {"contact_id", "contactId", "objectId", "object_id", "person_id"},
		models.EntityCall:    {"call_id", "callId", "call_uuid", "session_id"},
		models.EntityMessage: {"message_id", "messageId", "sms_id", "sid"},
	}

	// trailing path segment of a resource URL, e.g. ".../contacts/42"
	resourceIDPattern = regexp.MustCompile(`/(contacts?|calls?|messages?)/([A-Za-z0-9_\-]+)/?$`)
	// event names that carry the id, e.g. "contact:42:updated"
	eventIDPattern = regexp.MustCompile(`^(contact|call|message)[:/#]([A-Za-z0-9_\-]+)`)
)

// Canonicalize extracts routing fields using explicit fields first, then
// nested envelopes, then patterns on the event name. An empty EventType means
// the delivery is a connectivity test.
func Canonicalize(source string, payload map[string]interface{}) Canonical {
	c := Canonical{}

	c.EventType = lookupString(payload, eventTypeKeys)
	if c.EventType == "" {
		c.EventType = lookupNested(payload, eventTypeKeys)
	}
	if c.EventType == "" {
		return c
	}

	c.EntityType = normalizeEntityType(lookupString(payload, entityTypeKeys))
	if c.EntityType == "" {
		c.EntityType = normalizeEntityType(lookupNested(payload, entityTypeKeys))
	}
	if c.EntityType == "" {
		c.EntityType = entityTypeFromEvent(source, c.EventType)
	}

	c.EntityID = entityID(payload, c.EntityType, c.EventType)
	c.Direction = Direction(source, c.EntityType)

	c.DeliveryID = lookupString(payload, deliveryKeys)
	if c.DeliveryID == "" && c.EntityType == models.EntityMessage {
		// a message id already names exactly one delivery
		c.DeliveryID = c.EntityID
	}
	return c
}

// Direction names the flow an event drives, "<source>_to_<target>".
func Direction(source, entityType string) string {
	target := models.SourceCRM
	switch source {
	case models.SourceCRM:
		target = models.SourceTelephony
	case models.SourceBroadcast:
		target = models.SourceMessaging
	}
	if entityType == "" {
		return ""
	}
	return source + "_to_" + target
}

func normalizeEntityType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "contact"), strings.Contains(s, "person"), strings.Contains(s, "lead"):
		return models.EntityContact
	case strings.Contains(s, "call"):
		return models.EntityCall
	case strings.Contains(s, "message"), strings.Contains(s, "sms"), strings.Contains(s, "broadcast"):
		return models.EntityMessage
	default:
		return s
	}
}

func entityTypeFromEvent(source, eventType string) string {
	if t := normalizeEntityType(eventType); t == models.EntityContact || t == models.EntityCall || t == models.EntityMessage {
		return t
	}
	switch source {
	case models.SourceCRM:
		return models.EntityContact
	case models.SourceMessaging, models.SourceBroadcast:
		return models.EntityMessage
	default:
		return ""
	}
}

func entityID(payload map[string]interface{}, entityType, eventType string) string {
	if keys, ok := entityIDKeys[entityType]; ok {
		if id := lookupString(payload, keys); id != "" {
			return id
		}
	}
	if id := lookupString(payload, []string{"entity_id", "entityId"}); id != "" {
		return id
	}

	// nested: {"contact": {"id": ...}}, {"data": {"id": ...}}
	if entityType != "" {
		if nested, ok := payload[entityType].(map[string]interface{}); ok {
			if id := lookupString(nested, []string{"id"}); id != "" {
				return id
			}
		}
	}
	for _, env := range envelopeKeys {
		nested, ok := payload[env].(map[string]interface{})
		if !ok {
			continue
		}
		if keys, ok := entityIDKeys[entityType]; ok {
			if id := lookupString(nested, keys); id != "" {
				return id
			}
		}
		if entityType != "" {
			if inner, ok := nested[entityType].(map[string]interface{}); ok {
				if id := lookupString(inner, []string{"id"}); id != "" {
					return id
				}
			}
		}
		if id := lookupString(nested, []string{"id"}); id != "" {
			return id
		}
	}

	if id := lookupString(payload, []string{"id"}); id != "" {
		return id
	}

	for _, key := range []string{"resource", "resource_url", "url", "href"} {
		if s, ok := payload[key].(string); ok {
			if m := resourceIDPattern.FindStringSubmatch(s); m != nil {
				return m[2]
			}
		}
	}
	if m := eventIDPattern.FindStringSubmatch(strings.ToLower(eventType)); m != nil {
		return m[2]
	}
	return ""
}

func lookupString(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s := scalarString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func lookupNested(m map[string]interface{}, keys []string) string {
	for _, env := range envelopeKeys {
		if nested, ok := m[env].(map[string]interface{}); ok {
			if s := lookupString(nested, keys); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return formatFloat(val)
	default:
		return ""
	}
}
