package audit

import (
	"context"
	"testing"

	"hooksync/internal/platform/database/dbtest"
	"hooksync/internal/platform/models"
)

func TestLogger_RecordAndRollups(t *testing.T) {
	db := dbtest.New(t)
	l := NewLogger(db)
	ctx := context.Background()

	msg := "crm: 503 Service Unavailable"
	entries := []*models.SyncLogEntry{
		{EventID: "evt_1", Direction: "telephony_to_crm", EntityType: "contact", EntityID: "42", Status: models.SyncSuccess, FinishedAt: 100},
		{EventID: "evt_2", Direction: "telephony_to_crm", EntityType: "contact", EntityID: "43", Status: models.SyncError, ErrorMessage: &msg, FinishedAt: 110},
		{EventID: "evt_3", Direction: "crm_to_telephony", EntityType: "contact", EntityID: "c1", Status: models.SyncError, ErrorMessage: &msg, FinishedAt: 120},
		{EventID: "evt_4", Direction: "broadcast_to_messaging", EntityType: "message", EntityID: "b1", Status: models.SyncError, ErrorMessage: &msg, FinishedAt: 10},
	}
	for _, e := range entries {
		if err := l.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
		if e.ID == "" || e.CorrelationID == "" {
			t.Fatalf("Record() did not fill ids: %+v", e)
		}
	}

	stats, err := l.StatsSince(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Errors != 2 {
		t.Errorf("StatsSince() = %+v", stats)
	}

	byTarget, err := l.ErrorsByTarget(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if byTarget["crm"] != 1 || byTarget["telephony"] != 1 || byTarget["messaging"] != 0 {
		t.Errorf("ErrorsByTarget() = %v", byTarget)
	}

	list, err := l.List(ctx, Filter{EventID: "evt_2"})
	if err != nil || len(list) != 1 || list[0].Status != models.SyncError {
		t.Errorf("List(evt_2) = %v, %v", list, err)
	}
}
