package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/config"
)

func TestClient_UpsertAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/contacts/c-1":
			var c Contact
			json.NewDecoder(r.Body).Decode(&c)
			c.UpdatedAt = 1700000000
			json.NewEncoder(w).Encode(c)
		case r.Method == http.MethodGet && r.URL.Path == "/contacts/missing":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodGet && r.URL.Path == "/contacts":
			if r.URL.Query().Get("phone") != "+15550001111" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"results": []Contact{{ID: "c-9"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/contacts/c-1/notes":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient("crm", config.ConnectorConfig{BaseURL: server.URL + "/", Token: "tok"})
	ctx := context.Background()

	got, err := c.UpsertContact(ctx, Contact{ID: "c-1", FirstName: "Ada"})
	if err != nil {
		t.Fatalf("UpsertContact() error = %v", err)
	}
	if got.FirstName != "Ada" || got.UpdatedAt != 1700000000 {
		t.Errorf("unexpected contact %+v", got)
	}

	if _, err := c.GetContact(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContact(missing) error = %v, want ErrNotFound", err)
	}

	results, err := c.SearchContacts(ctx, "+15550001111", "")
	if err != nil || len(results) != 1 || results[0].ID != "c-9" {
		t.Errorf("SearchContacts() = %v, %v", results, err)
	}

	if err := c.AddNote(ctx, "c-1", "call ended"); err != nil {
		t.Errorf("AddNote() error = %v", err)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusServiceUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"conflict", http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			c := NewClient("telephony", config.ConnectorConfig{BaseURL: server.URL})
			_, err := c.UpsertContact(context.Background(), Contact{Phone: "+15550001111"})

			var status *resilience.StatusError
			if !errors.As(err, &status) || status.StatusCode != tt.status {
				t.Fatalf("expected StatusError %d, got %v", tt.status, err)
			}
			if resilience.IsTransient(err) != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", !tt.transient, tt.transient)
			}
		})
	}
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient("messaging", config.ConnectorConfig{BaseURL: server.URL, Timeout: 10 * time.Millisecond})
	_, err := c.SendMessage(context.Background(), Message{To: "+15550001111", Body: "hi"})
	if err == nil || !resilience.IsTransient(err) {
		t.Errorf("expected transient timeout error, got %v", err)
	}
}
