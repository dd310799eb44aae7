package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hooksync/internal/platform/auth"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/database"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  url: file:" + filepath.Join(dir, "hooksync.db") + "\n" +
		"jwt:\n  secret: cli-secret\n" +
		"logging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndToken(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "migrate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "schema version 3") {
		t.Errorf("migrate output = %q", out)
	}

	out, err = run(t, "--config", path, "token", "--subject", "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	cfg, _ := config.Load(path)
	claims, err := auth.NewTokenService(cfg.JWT).ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token rejected: %v", err)
	}
	if claims.Role != auth.RoleOperator || claims.Subject != "ops@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := run(t, "--config", path, "token"); err == nil {
		t.Error("token without subject accepted")
	}
}

func TestReplayAndQuarantine(t *testing.T) {
	path := writeConfig(t)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	events := repositories.NewEventRepository(db)
	e := &models.Event{
		Source: models.SourceTelephony, EventType: "Contact-Updated", EntityType: models.EntityContact,
		EntityID: "42", Direction: "telephony_to_crm", Payload: `{}`, Fingerprint: "fp-cli", ReceivedAt: 1,
	}
	if err := events.Create(ctx, e); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "--config", path, "replay", e.ID); err == nil {
		t.Error("pending event replayed")
	}
	events.Claim(ctx, e.ID, 2)
	events.MarkError(ctx, e.ID, 3, "boom")

	out, err := run(t, "--config", path, "replay", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "replayed "+e.ID) {
		t.Errorf("replay output = %q", out)
	}
	if got, _ := events.GetByID(ctx, e.ID); got.Status != models.EventPending {
		t.Errorf("status = %s", got.Status)
	}

	if _, err := run(t, "--config", path, "quarantine", "add", e.ID); err == nil {
		t.Error("quarantine without reason accepted")
	}
	if _, err := run(t, "--config", path, "quarantine", "add", e.ID, "--reason", "loops"); err != nil {
		t.Fatal(err)
	}
	out, _ = run(t, "--config", path, "quarantine", "list")
	if !strings.Contains(out, e.ID) || !strings.Contains(out, "telephony") {
		t.Errorf("list output = %q", out)
	}
	if _, err := run(t, "--config", path, "quarantine", "remove", e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", path, "quarantine", "remove", e.ID); err == nil {
		t.Error("second remove succeeded")
	}
}
