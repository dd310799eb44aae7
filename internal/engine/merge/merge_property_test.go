package merge

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var (
	phonePool  = []string{"", "+15551234567", "+447700900123", "555-0100", "0044 20 7946"}
	emailPool  = []string{"", "a@example.com", "A@EXAMPLE.COM", "b@example.com"}
	namePool   = []string{"", "Al", "Alice", "Alice Smith", "Bob"}
	tagPool    = []string{"vip", "VIP", "callback", "sys:sms-opted-out", "sys:dnc", "lead"}
	sourcePool = []string{"crm", "telephony", "messaging"}
)

func pick(pool []string) gopter.Gen {
	return gen.IntRange(0, len(pool)-1).Map(func(i int) string { return pool[i] })
}

func genRecord() gopter.Gen {
	return gopter.CombineGens(
		pick(sourcePool),
		pick(phonePool),
		pick(emailPool),
		pick(namePool),
		gen.SliceOfN(3, pick(tagPool)),
		gen.Int64Range(1600000000, 1800000000),
		pick(tagPool),
	).Map(func(v []interface{}) Record {
		return Record{
			Source:     v[0].(string),
			Phone:      v[1].(string),
			Email:      v[2].(string),
			FirstName:  v[3].(string),
			Tags:       v[4].([]string),
			UpdatedAt:  time.Unix(v[5].(int64), 0).UTC(),
			Attributes: map[string]string{"k": v[6].(string), v[6].(string): "x"},
		}
	})
}

func TestProperty_MergeDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merging the same records twice gives identical output", prop.ForAll(
		func(a, b Record) bool {
			opts := Options{PrimarySource: "crm"}
			m1, d1 := Merge(a, b, opts)
			m2, d2 := Merge(a, b, opts)
			return reflect.DeepEqual(m1, m2) && reflect.DeepEqual(d1, d2)
		},
		genRecord(), genRecord(),
	))

	properties.Property("system tags survive every merge", prop.ForAll(
		func(a, b Record) bool {
			merged, _ := Merge(a, b, Options{PrimarySource: "crm"})
			have := make(map[string]bool)
			for _, t := range merged.Tags {
				have[strings.ToLower(t)] = true
			}
			for _, t := range append(append([]string{}, a.Tags...), b.Tags...) {
				if strings.HasPrefix(t, SystemTagPrefix) && !have[strings.ToLower(t)] {
					return false
				}
			}
			return true
		},
		genRecord(), genRecord(),
	))

	properties.Property("merged updatedAt is the later of the two", prop.ForAll(
		func(a, b Record) bool {
			merged, _ := Merge(a, b, Options{PrimarySource: "crm"})
			return !merged.UpdatedAt.Before(a.UpdatedAt) && !merged.UpdatedAt.Before(b.UpdatedAt)
		},
		genRecord(), genRecord(),
	))

	properties.Property("an e164 phone is never replaced by a non-e164 one", prop.ForAll(
		func(a, b Record) bool {
			merged, _ := Merge(a, b, Options{PrimarySource: "crm"})
			if IsE164(a.Phone) || IsE164(b.Phone) {
				return IsE164(merged.Phone)
			}
			return true
		},
		genRecord(), genRecord(),
	))

	properties.TestingRun(t)
}
