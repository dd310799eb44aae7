package repositories

import (
	"context"
	"errors"
	"testing"

	"hooksync/internal/platform/database/dbtest"
	"hooksync/internal/platform/models"
)

func str(s string) *string { return &s }

func TestIdentityRepository_CreateAndLink(t *testing.T) {
	db := dbtest.New(t)
	repo := NewIdentityRepository(db)
	ctx := context.Background()

	m := &models.IdentityMapping{CRMID: str("crm-1"), Phone: str("+15550001111")}
	if err := repo.Create(ctx, m, 100); err != nil {
		t.Fatal(err)
	}

	dup := &models.IdentityMapping{Phone: str("+15550001111")}
	if err := repo.Create(ctx, dup, 101); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for shared phone, got %v", err)
	}

	if err := repo.Link(ctx, m.ID, models.SourceTelephony, "tel-9", "", "a@example.com", 200); err != nil {
		t.Fatal(err)
	}

	got, err := repo.FindBySystemID(ctx, models.SourceTelephony, "tel-9")
	if err != nil || got == nil {
		t.Fatalf("FindBySystemID() = %v, %v", got, err)
	}
	if got.SystemID(models.SourceCRM) != "crm-1" || *got.Email != "a@example.com" || *got.Phone != "+15550001111" {
		t.Errorf("unexpected mapping: %+v", got)
	}
	if got.LastSyncedAt == nil || *got.LastSyncedAt != 200 {
		t.Errorf("expected last_synced_at 200")
	}

	// linking again with an empty id keeps the existing one
	if err := repo.Link(ctx, m.ID, models.SourceTelephony, "", "", "", 300); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, m.ID)
	if got.SystemID(models.SourceTelephony) != "tel-9" {
		t.Errorf("telephony id was cleared")
	}

	if _, err := repo.FindBySystemID(ctx, "fax", "1"); err == nil {
		t.Error("expected error for unknown system")
	}
}

func TestOptoutRepository_UpsertOrdering(t *testing.T) {
	db := dbtest.New(t)
	repo := NewOptoutRepository(db)
	ctx := context.Background()

	phone := "+15550002222"
	steps := []struct {
		entry models.OptoutEntry
		want  string
	}{
		{models.OptoutEntry{PhoneNumber: phone, Status: models.OptedOut, Source: "keyword", Reason: "STOP", LastEventAt: 100}, models.OptedOut},
		{models.OptoutEntry{PhoneNumber: phone, Status: models.OptedIn, Source: "keyword", Reason: "START", LastEventAt: 200}, models.OptedIn},
		// stale signal is ignored
		{models.OptoutEntry{PhoneNumber: phone, Status: models.OptedOut, Source: "keyword", Reason: "STOP", LastEventAt: 150}, models.OptedIn},
	}

	for _, step := range steps {
		e := step.entry
		if err := repo.Upsert(ctx, &e); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Get(ctx, phone)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != step.want {
			t.Errorf("after %s@%d status = %s, want %s", e.Reason, e.LastEventAt, got.Status, step.want)
		}
	}

	if got, _ := repo.Get(ctx, "+15559999999"); got != nil {
		t.Errorf("expected nil for unknown number")
	}
}

func TestQuarantineRepository(t *testing.T) {
	db := dbtest.New(t)
	repo := NewQuarantineRepository(db)
	ctx := context.Background()

	entry := &models.QuarantineEntry{EventID: "evt_1", EventSource: models.SourceCRM, Reason: "poison", CreatedAt: 1}
	if err := repo.Add(ctx, entry); err != nil {
		t.Fatal(err)
	}
	entry.Reason = "still poison"
	if err := repo.Add(ctx, entry); err != nil {
		t.Fatalf("re-adding should update, got %v", err)
	}

	if ok, _ := repo.IsQuarantined(ctx, "evt_1", models.SourceCRM); !ok {
		t.Error("expected quarantined")
	}
	if ok, _ := repo.IsQuarantined(ctx, "evt_1", models.SourceTelephony); ok {
		t.Error("quarantine is per source")
	}

	list, _ := repo.List(ctx)
	if len(list) != 1 || list[0].Reason != "still poison" {
		t.Errorf("List() = %+v", list)
	}

	removed, err := repo.Remove(ctx, "evt_1", "")
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v", removed, err)
	}
	if ok, _ := repo.IsQuarantined(ctx, "evt_1", models.SourceCRM); ok {
		t.Error("expected quarantine lifted")
	}
}
