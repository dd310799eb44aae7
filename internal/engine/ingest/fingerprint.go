package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// volatileKeys change between redeliveries of the same logical event.
var volatileKeys = map[string]bool{
	"timestamp":        true,
	"sent_at":          true,
	"sentAt":           true,
	"delivered_at":     true,
	"received_at":      true,
	"signature":        true,
	"attempt":          true,
	"retry":            true,
	"retry_count":      true,
	"delivery_attempt": true,
	"request_id":       true,
	"requestId":        true,
	"nonce":            true,
}

// Fingerprint is the dedup key: hex SHA-256 of source|eventType|entityID|key.
func Fingerprint(source, eventType, entityID, key string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{source, eventType, entityID, key}, "|")))
	return hex.EncodeToString(sum[:])
}

// ContentKey hashes payload with volatile fields removed. When window > 0 the
// delivery time bucket is appended, so identical content arriving in different
// windows yields different keys.
func ContentKey(payload map[string]interface{}, receivedAt time.Time, window time.Duration) string {
	stable, _ := json.Marshal(stripVolatile(payload))
	sum := sha256.Sum256(stable)
	key := "content:" + hex.EncodeToString(sum[:])
	if window > 0 {
		width := int64(window / time.Second)
		if width < 1 {
			width = 1
		}
		bucket := receivedAt.Unix() / width
		key += "@" + strconv.FormatInt(bucket, 10)
	}
	return key
}

func stripVolatile(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if volatileKeys[k] {
				continue
			}
			out[k] = stripVolatile(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = stripVolatile(inner)
		}
		return out
	default:
		return v
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
