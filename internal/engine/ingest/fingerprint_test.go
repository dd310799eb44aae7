package ingest

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestContentKey_IgnoresVolatileFields(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a := decode(t, `{"event":"Contact-Updated","contact":{"id":42},"timestamp":1,"signature":"x"}`)
	b := decode(t, `{"event":"Contact-Updated","contact":{"id":42},"timestamp":2,"signature":"y"}`)
	c := decode(t, `{"event":"Contact-Updated","contact":{"id":43}}`)

	if ContentKey(a, at, 0) != ContentKey(b, at, 0) {
		t.Error("volatile fields changed the content key")
	}
	if ContentKey(a, at, 0) == ContentKey(c, at, 0) {
		t.Error("different contact ids produced the same key")
	}
}

func TestContentKey_TimeBucket(t *testing.T) {
	payload := decode(t, `{"event":"Contact-Updated","contact":{"id":42}}`)
	window := 5 * time.Minute
	base := time.Unix(1700000100, 0) // 1700000100 / 300 is a bucket start

	if ContentKey(payload, base, window) != ContentKey(payload, base.Add(4*time.Minute), window) {
		t.Error("same bucket should yield same key")
	}
	if ContentKey(payload, base, window) == ContentKey(payload, base.Add(5*time.Minute), window) {
		t.Error("next bucket should yield a different key")
	}
	if ContentKey(payload, base, 0) != ContentKey(payload, base.Add(time.Hour), 0) {
		t.Error("zero window disables bucketing")
	}
}

func TestProperty_FingerprintStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fingerprint is a pure function of its inputs", prop.ForAll(
		func(source, eventType, entityID, key string) bool {
			a := Fingerprint(source, eventType, entityID, key)
			b := Fingerprint(source, eventType, entityID, key)
			return a == b && len(a) == 64
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("distinct entity ids give distinct fingerprints", prop.ForAll(
		func(id1, id2 string) bool {
			if id1 == id2 {
				return true
			}
			return Fingerprint("telephony", "Contact-Updated", id1, "k") != Fingerprint("telephony", "Contact-Updated", id2, "k")
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("content key ignores timestamps", prop.ForAll(
		func(id string, ts1, ts2 int64) bool {
			at := time.Unix(1700000000, 0)
			a := map[string]interface{}{"event": "x", "id": id, "timestamp": ts1}
			b := map[string]interface{}{"event": "x", "id": id, "timestamp": ts2}
			return ContentKey(a, at, time.Minute) == ContentKey(b, at, time.Minute)
		},
		gen.AlphaString(), gen.Int64(), gen.Int64(),
	))

	properties.TestingRun(t)
}
