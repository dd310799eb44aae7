package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hooksync/internal/engine/ingest"
	"hooksync/internal/platform/audit"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/repositories"
)

type stubEvents struct{ stats repositories.EventStats }

func (s *stubEvents) StatsSince(ctx context.Context, since int64) (repositories.EventStats, error) {
	return s.stats, nil
}

type stubSyncs struct {
	stats    audit.Stats
	byTarget map[string]int
}

func (s *stubSyncs) StatsSince(ctx context.Context, since int64) (audit.Stats, error) {
	return s.stats, nil
}

func (s *stubSyncs) ErrorsByTarget(ctx context.Context, since int64) (map[string]int, error) {
	return s.byTarget, nil
}

type recordingSink struct {
	alerts []Alert
	err    error
}

func (r *recordingSink) Notify(ctx context.Context, a Alert) error {
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func TestThresholdLevel(t *testing.T) {
	th := Threshold{Warning: 0.05, Critical: 0.2}
	tests := []struct {
		value float64
		want  Level
	}{
		{0, LevelOK},
		{0.049, LevelOK},
		{0.05, LevelWarning},
		{0.19, LevelWarning},
		{0.2, LevelCritical},
		{1, LevelCritical},
	}
	for _, tt := range tests {
		if got := th.Level(tt.value); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
	if (Threshold{Critical: 10}).Level(5) != LevelOK {
		t.Error("zero warning bound must be disabled")
	}
}

func newTestEvaluator(events *stubEvents, syncs *stubSyncs, depth int, sink Sink) (*Evaluator, *time.Time) {
	clock := time.Unix(1700000000, 0)
	e := NewEvaluator(events, syncs, func(ctx context.Context) (int, error) { return depth, nil }, sink, Config{
		Window:      time.Hour,
		RepeatAfter: 30 * time.Minute,
		Thresholds: map[string]Threshold{
			MetricWebhookErrorRate: {Warning: 0.05, Critical: 0.2},
			MetricSyncErrorRate:    {Warning: 0.1, Critical: 0.5},
			MetricQueueDepth:       {Warning: 100, Critical: 1000},
			MetricExternalErrors:   {Warning: 5, Critical: 50},
		},
	})
	e.now = func() time.Time { return clock }
	return e, &clock
}

func TestEvaluate(t *testing.T) {
	events := &stubEvents{stats: repositories.EventStats{Total: 100, Errored: 10}}
	syncs := &stubSyncs{stats: audit.Stats{Total: 10, Errors: 6}, byTarget: map[string]int{"crm": 6, "telephony": 1}}
	sink := &recordingSink{}
	e, clock := newTestEvaluator(events, syncs, 5, sink)

	sent, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]Level{}
	for _, a := range sent {
		got[a.Key()] = a.Level
	}
	want := map[string]Level{
		MetricWebhookErrorRate:        LevelWarning,
		MetricSyncErrorRate:           LevelCritical,
		MetricExternalErrors + ":crm": LevelWarning,
	}
	if len(got) != len(want) {
		t.Fatalf("alerts = %v, want %v", got, want)
	}
	for k, l := range want {
		if got[k] != l {
			t.Errorf("%s = %s, want %s", k, got[k], l)
		}
	}

	// same levels inside repeat_after are suppressed
	sent, _ = e.Evaluate(context.Background())
	if len(sent) != 0 {
		t.Errorf("expected suppression, got %v", sent)
	}

	// escalation fires immediately
	events.stats.Errored = 30
	sent, _ = e.Evaluate(context.Background())
	if len(sent) != 1 || sent[0].Metric != MetricWebhookErrorRate || sent[0].Level != LevelCritical {
		t.Errorf("escalation = %+v", sent)
	}

	// repeats after the window
	*clock = clock.Add(31 * time.Minute)
	sent, _ = e.Evaluate(context.Background())
	if len(sent) != 3 {
		t.Errorf("expected all three repeated, got %d", len(sent))
	}
}

func TestEvaluate_SinkFailureNotSuppressed(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	e, _ := newTestEvaluator(&stubEvents{}, &stubSyncs{}, 5000, sink)

	sent, err := e.Evaluate(context.Background())
	if err != nil || len(sent) != 0 {
		t.Fatalf("Evaluate() = %v, %v", sent, err)
	}
	sink.err = nil
	sent, _ = e.Evaluate(context.Background())
	if len(sent) != 1 || sent[0].Metric != MetricQueueDepth || sent[0].Level != LevelCritical {
		t.Errorf("retry after failed delivery = %+v", sent)
	}
}

func TestWebhookSink(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Hooksync-Signature")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "alert-secret", time.Second)
	a := Alert{ID: "alt_1", Metric: MetricQueueDepth, Level: LevelWarning, Value: 150}
	if err := sink.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if !ingest.VerifySignature("alert-secret", body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	var decoded Alert
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.ID != "alt_1" {
		t.Errorf("body = %s", body)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	if err := NewWebhookSink(failing.URL, "", time.Second).Notify(context.Background(), a); err == nil {
		t.Error("expected error on 502")
	}
}

func TestNewSink(t *testing.T) {
	if s, err := NewSink(configFor("log")); err != nil || s == nil {
		t.Errorf("log sink = %v, %v", s, err)
	}
	if _, err := NewSink(configFor("webhook")); err == nil {
		t.Error("webhook sink without url should fail")
	}
	if _, err := NewSink(configFor("pager")); err == nil {
		t.Error("unknown kind should fail")
	}
}

func configFor(kind string) config.AlertSinkConfig {
	return config.AlertSinkConfig{Kind: kind}
}
