package merge

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMerge_Phone(t *testing.T) {
	tests := []struct {
		name       string
		existing   string
		incoming   string
		want       string
		wantReason string
	}{
		{"only incoming is e164", "555-123-4567", "+15551234567", "+15551234567", ReasonE164},
		{"only existing is e164", "+15551234567", "5551234567", "+15551234567", ReasonE164},
		{"both e164 keeps existing", "+15551234567", "+15557654321", "+15551234567", ReasonExistingSet},
		{"neither e164 keeps existing", "555 1234", "555 9999", "555 1234", ReasonExistingSet},
		{"existing empty", "", "555 9999", "555 9999", ReasonOnlyValue},
		{"equal", "+15551234567", "+15551234567", "+15551234567", ReasonEqual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, decisions := Merge(
				Record{Source: "crm", Phone: tt.existing},
				Record{Source: "telephony", Phone: tt.incoming},
				Options{PrimarySource: "crm"},
			)
			if merged.Phone != tt.want {
				t.Errorf("phone = %q, want %q", merged.Phone, tt.want)
			}
			d := find(decisions, "phone")
			if d == nil || d.Reason != tt.wantReason {
				t.Errorf("phone decision = %+v, want reason %s", d, tt.wantReason)
			}
		})
	}
}

func TestMerge_EmailConflictRecordsRejectedValue(t *testing.T) {
	tests := []struct {
		name     string
		existing Record
		incoming Record
		want     string
		rejected string
	}{
		{
			"primary is existing",
			Record{Source: "crm", Email: "crm@example.com"},
			Record{Source: "telephony", Email: "tel@example.com"},
			"crm@example.com", "tel@example.com",
		},
		{
			"primary is incoming",
			Record{Source: "telephony", Email: "tel@example.com"},
			Record{Source: "crm", Email: "crm@example.com"},
			"crm@example.com", "tel@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, decisions := Merge(tt.existing, tt.incoming, Options{PrimarySource: "crm"})
			if merged.Email != tt.want {
				t.Errorf("email = %q, want %q", merged.Email, tt.want)
			}
			d := find(decisions, "email")
			if d == nil || d.Reason != ReasonPrimarySource || d.RejectedValue != tt.rejected || d.ChosenSource != "crm" {
				t.Errorf("email decision = %+v", d)
			}
		})
	}

	merged, _ := Merge(Record{Source: "crm", Email: "A@Example.com"}, Record{Source: "telephony", Email: "a@example.com"}, Options{PrimarySource: "crm"})
	if merged.Email != "A@Example.com" {
		t.Errorf("case-insensitive equal email should keep existing, got %q", merged.Email)
	}
}

func TestMerge_Name(t *testing.T) {
	merged, decisions := Merge(
		Record{Source: "crm", FirstName: "Jo"},
		Record{Source: "telephony", FirstName: "Joanna", LastName: "Smith"},
		Options{PrimarySource: "crm"},
	)
	if merged.FirstName != "Joanna" || merged.LastName != "Smith" {
		t.Errorf("expected longer name, got %q %q", merged.FirstName, merged.LastName)
	}
	if d := find(decisions, "name"); d == nil || d.Reason != ReasonLonger || d.RejectedValue != "Jo" {
		t.Errorf("name decision = %+v", d)
	}

	// same length: primary source
	merged, _ = Merge(
		Record{Source: "telephony", FirstName: "Anna"},
		Record{Source: "crm", FirstName: "Hana"},
		Options{PrimarySource: "crm"},
	)
	if merged.FirstName != "Hana" {
		t.Errorf("tie should go to primary source, got %q", merged.FirstName)
	}
}

func TestMerge_TagsAttributesUpdatedAt(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	merged, decisions := Merge(
		Record{
			Source:     "crm",
			Tags:       []string{"VIP", "sys:sms-opted-out"},
			Attributes: map[string]string{"plan": "gold", "region": "eu"},
			UpdatedAt:  older,
		},
		Record{
			Source:     "telephony",
			Tags:       []string{"vip", "callback"},
			Attributes: map[string]string{"plan": "silver", "agent": "7"},
			UpdatedAt:  newer,
		},
		Options{PrimarySource: "crm"},
	)

	wantTags := []string{"callback", "sys:sms-opted-out", "VIP"}
	if !reflect.DeepEqual(merged.Tags, wantTags) {
		t.Errorf("tags = %v, want %v", merged.Tags, wantTags)
	}

	wantAttrs := map[string]string{"plan": "gold", "region": "eu", "agent": "7"}
	if !reflect.DeepEqual(merged.Attributes, wantAttrs) {
		t.Errorf("attributes = %v, want %v", merged.Attributes, wantAttrs)
	}
	if d := find(decisions, "attributes.plan"); d == nil || d.RejectedValue != "silver" {
		t.Errorf("attribute decision = %+v", d)
	}

	if !merged.UpdatedAt.Equal(newer) {
		t.Errorf("updatedAt = %v, want %v", merged.UpdatedAt, newer)
	}
}

func TestFromPayload(t *testing.T) {
	payload := map[string]interface{}{
		"event": "Contact-Updated",
		"contact": map[string]interface{}{
			"id":            float64(42),
			"first_name":    "Ada",
			"last_name":     "Lovelace",
			"phone_numbers": []interface{}{"+15551230000"},
			"email":         "ada@example.com",
			"tags":          "vip, callback",
			"custom_fields": map[string]interface{}{"score": float64(9)},
			"updated_at":    "2024-03-01T10:00:00Z",
		},
	}

	r := FromPayload("telephony", payload)
	if r.ID != "42" || r.Phone != "+15551230000" || r.Email != "ada@example.com" || r.FullName() != "Ada Lovelace" {
		t.Errorf("unexpected record: %+v", r)
	}
	if !reflect.DeepEqual(r.Tags, []string{"vip", "callback"}) || r.Attributes["score"] != "9" {
		t.Errorf("unexpected tags/attributes: %+v", r)
	}
	if r.UpdatedAt.IsZero() {
		t.Error("expected updated_at parsed")
	}

	crm := FromPayload("crm", map[string]interface{}{
		"objectId": "c-1",
		"properties": map[string]interface{}{
			"firstname":   "Grace",
			"mobilephone": "+15550001111",
		},
		"occurred_at": float64(1700000000000),
	})
	if crm.ID != "c-1" || crm.FirstName != "Grace" || crm.Phone != "+15550001111" {
		t.Errorf("unexpected crm record: %+v", crm)
	}
	if crm.UpdatedAt.Unix() != 1700000000 {
		t.Errorf("expected millisecond timestamp handled, got %v", crm.UpdatedAt)
	}
}

func TestFromPayload_NumericTimestamps(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"unix seconds", `{"id":"42","phone":"+15551234567","updated_at":1700000000}`, 1700000000},
		{"unix milliseconds", `{"id":"42","phone":"+15551234567","updated_at":1700000000123}`, 1700000000},
		{"fractional seconds", `{"id":"42","phone":"+15551234567","updated_at":1700000000.5}`, 1700000000},
		{"crm lastmodifieddate", `{"objectId":"c-1","properties":{"lastmodifieddate":1700000000000}}`, 1700000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := json.NewDecoder(strings.NewReader(tt.body))
			dec.UseNumber()
			var payload map[string]interface{}
			if err := dec.Decode(&payload); err != nil {
				t.Fatal(err)
			}

			r := FromPayload("telephony", payload)
			if r.UpdatedAt.IsZero() {
				t.Fatal("updated_at was dropped")
			}
			if r.UpdatedAt.Unix() != tt.want {
				t.Errorf("updated_at = %d, want %d", r.UpdatedAt.Unix(), tt.want)
			}
		})
	}
}

func find(decisions []Decision, field string) *Decision {
	for i := range decisions {
		if decisions[i].Field == field {
			return &decisions[i]
		}
	}
	return nil
}
