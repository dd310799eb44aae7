package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/connectors/connectortest"
	"hooksync/internal/engine/ingest"
	"hooksync/internal/engine/merge"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/engine/router"
	"hooksync/internal/engine/syncer"
	"hooksync/internal/platform/audit"
	"hooksync/internal/platform/database/dbtest"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

type routeFunc func(ctx context.Context, e *models.Event) error

func (f routeFunc) Route(ctx context.Context, e *models.Event) error { return f(ctx, e) }

type fixture struct {
	db         *sqlx.DB
	events     *repositories.EventRepository
	jobs       *repositories.QueueRepository
	quarantine *repositories.QuarantineRepository
	processor  *Processor
	pool       *Pool
	clock      time.Time
	calls      int
}

const maxRetries = 3

func newFixture(t *testing.T, route routeFunc) *fixture {
	t.Helper()
	db := dbtest.New(t)
	f := &fixture{
		db:         db,
		events:     repositories.NewEventRepository(db),
		jobs:       repositories.NewQueueRepository(db),
		quarantine: repositories.NewQuarantineRepository(db),
		clock:      time.Unix(1700000000, 0),
	}
	counting := routeFunc(func(ctx context.Context, e *models.Event) error {
		f.calls++
		return route(ctx, e)
	})
	f.processor = NewProcessor(f.events, f.quarantine, counting)
	f.processor.now = func() time.Time { return f.clock }
	f.pool = NewPool(f.jobs, f.events, f.processor, PoolConfig{
		LeaseTimeout: time.Minute,
		BaseBackoff:  10 * time.Second,
		MaxBackoff:   time.Minute,
	})
	f.pool.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) enqueue(t *testing.T, fingerprint string) *models.Event {
	t.Helper()
	e := &models.Event{
		Source: models.SourceTelephony, EventType: "Contact-Updated", EntityType: models.EntityContact,
		EntityID: "42", Direction: "telephony_to_crm", Payload: `{}`, Fingerprint: fingerprint,
		ReceivedAt: f.clock.Unix(),
	}
	if err := f.events.Create(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if _, err := f.jobs.Enqueue(context.Background(), e.ID, maxRetries, f.clock.Unix()); err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *fixture) runOnce(t *testing.T) bool {
	t.Helper()
	handled, err := f.pool.RunOnce(context.Background(), "test-worker")
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return handled
}

func (f *fixture) job(t *testing.T, eventID string) *models.QueueJob {
	t.Helper()
	jobs, err := f.jobs.ListByEvent(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) == 0 {
		return nil
	}
	return jobs[0]
}

func (f *fixture) event(t *testing.T, id string) *models.Event {
	t.Helper()
	e, err := f.events.GetByID(context.Background(), id)
	if err != nil || e == nil {
		t.Fatalf("GetByID() = %v, %v", e, err)
	}
	return e
}

func TestPool_TransientFailureThenRecovery(t *testing.T) {
	failing := true
	f := newFixture(t, func(ctx context.Context, e *models.Event) error {
		if failing {
			return &resilience.StatusError{Service: "crm", StatusCode: 503}
		}
		return nil
	})
	e := f.enqueue(t, "fp-transient")

	if !f.runOnce(t) {
		t.Fatal("expected a job")
	}
	got := f.event(t, e.ID)
	if got.Status != models.EventError || got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Fatalf("after transient failure event = %+v", got)
	}
	job := f.job(t, e.ID)
	if job == nil || job.Status != models.JobQueued || job.RetryCount != 1 || job.RetryCount >= job.MaxRetries {
		t.Fatalf("after transient failure job = %+v", job)
	}
	if job.NextVisibleAt != f.clock.Unix()+10 {
		t.Errorf("next visible at = %d, want +10s", job.NextVisibleAt)
	}

	// not visible yet
	if f.runOnce(t) {
		t.Fatal("job leased before its backoff elapsed")
	}

	failing = false
	f.clock = f.clock.Add(15 * time.Second)
	if !f.runOnce(t) {
		t.Fatal("expected the retried job")
	}
	got = f.event(t, e.ID)
	if got.Status != models.EventDone || got.Attempts != 2 {
		t.Errorf("after retry event = %+v", got)
	}
	if f.job(t, e.ID) != nil {
		t.Error("completed job should be removed")
	}
}

func TestPool_PermanentErrorDeadLetters(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, e *models.Event) error {
		return resilience.Permanent(errors.New("bad payload"))
	})
	e := f.enqueue(t, "fp-perm")

	f.runOnce(t)
	job := f.job(t, e.ID)
	if job.Status != models.JobFailed || job.RetryCount != 0 {
		t.Errorf("job = %+v, want dead-lettered without retry", job)
	}
	if f.event(t, e.ID).Status != models.EventError {
		t.Error("event should be in error")
	}
}

func TestPool_RetriesExhausted(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, e *models.Event) error {
		return resilience.Transient(errors.New("timeout"))
	})
	e := f.enqueue(t, "fp-exhaust")

	for i := 0; i <= maxRetries; i++ {
		if !f.runOnce(t) {
			t.Fatalf("attempt %d found no job", i)
		}
		f.clock = f.clock.Add(2 * time.Minute)
	}
	job := f.job(t, e.ID)
	if job.Status != models.JobFailed || job.RetryCount != maxRetries {
		t.Errorf("job = %+v", job)
	}
	if f.calls != maxRetries+1 {
		t.Errorf("route calls = %d, want %d", f.calls, maxRetries+1)
	}
	if f.runOnce(t) {
		t.Error("dead-lettered job must not be leased")
	}
}

func TestPool_ShutdownOnLastAttemptRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := false
	f := newFixture(t, func(routeCtx context.Context, e *models.Event) error {
		if !interrupted {
			interrupted = true
			cancel()
			return routeCtx.Err()
		}
		return nil
	})

	e := &models.Event{
		Source: models.SourceTelephony, EventType: "Contact-Updated", EntityType: models.EntityContact,
		EntityID: "42", Direction: "telephony_to_crm", Payload: `{}`, Fingerprint: "fp-shutdown",
		ReceivedAt: f.clock.Unix(),
	}
	if err := f.events.Create(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	// no retries left: any spent attempt would dead-letter
	if _, err := f.jobs.Enqueue(context.Background(), e.ID, 0, f.clock.Unix()); err != nil {
		t.Fatal(err)
	}

	handled, err := f.pool.RunOnce(ctx, "test-worker")
	if !handled || err != nil {
		t.Fatalf("RunOnce() = %v, %v", handled, err)
	}
	job := f.job(t, e.ID)
	if job == nil || job.Status != models.JobQueued || job.RetryCount != 0 {
		t.Fatalf("job = %+v, want requeued with its retry budget intact", job)
	}

	if !f.runOnce(t) {
		t.Fatal("requeued job was not leased again")
	}
	if got := f.event(t, e.ID); got.Status != models.EventDone {
		t.Errorf("event status = %s, want done", got.Status)
	}
	if f.job(t, e.ID) != nil {
		t.Error("completed job should be removed")
	}
	if f.calls != 2 {
		t.Errorf("route calls = %d, want 2", f.calls)
	}
}

func TestPool_Quarantined(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, e *models.Event) error { return nil })
	e := f.enqueue(t, "fp-q")
	if err := f.quarantine.Add(context.Background(), &models.QuarantineEntry{EventID: e.ID, EventSource: e.Source, CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}

	f.runOnce(t)
	got := f.event(t, e.ID)
	if got.Status != models.EventDone || got.ErrorMessage == nil || *got.ErrorMessage != models.QuarantinedMessage {
		t.Errorf("event = %+v", got)
	}
	if f.calls != 0 {
		t.Error("quarantined events must not be routed")
	}
}

func TestProcessor_SingleClaim(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, e *models.Event) error { return nil })
	e := f.enqueue(t, "fp-once")

	for i := 0; i < 3; i++ {
		if _, err := f.processor.Process(context.Background(), e.ID); err != nil {
			t.Fatal(err)
		}
	}
	if f.calls != 1 {
		t.Errorf("route calls = %d, want 1", f.calls)
	}
}

func TestSweeper(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, e *models.Event) error { return nil })
	ctx := context.Background()

	orphan := &models.Event{Source: "crm", EventType: "x", EntityType: "contact", EntityID: "1", Payload: `{}`,
		Fingerprint: "fp-orphan", ReceivedAt: f.clock.Unix()}
	if err := f.events.Create(ctx, orphan); err != nil {
		t.Fatal(err)
	}
	stuck := f.enqueue(t, "fp-stuck")
	if _, err := f.jobs.Lease(ctx, "dead-worker", f.clock.Unix(), time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.events.Claim(ctx, stuck.ID, f.clock.Unix()); !ok {
		t.Fatal("claim failed")
	}

	f.clock = f.clock.Add(time.Hour)
	s := NewSweeper(f.events, f.jobs, f.processor, SweepConfig{StaleAfter: 10 * time.Minute, Concurrency: 1})
	s.now = func() time.Time { return f.clock }

	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 1 || res.Recovered != 1 || res.Reprocessed != 2 {
		t.Errorf("Sweep() = %+v", res)
	}
	for _, id := range []string{orphan.ID, stuck.ID} {
		if got := f.event(t, id); got.Status != models.EventDone {
			t.Errorf("event %s status = %s", id, got.Status)
		}
	}

	// the released job now finds its event done and is dropped
	if !f.runOnce(t) {
		t.Fatal("released job should be leasable")
	}
	if f.job(t, stuck.ID) != nil {
		t.Error("job for a done event should be completed")
	}

	depth, err := QueueDepth(ctx, f.jobs, f.events)
	if err != nil || depth != 0 {
		t.Errorf("QueueDepth() = %d, %v", depth, err)
	}
}

// The same telephony Contact-Updated delivered twice yields one event and
// one sync log row end to end.
func TestDuplicateTelephonyDelivery(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	events := repositories.NewEventRepository(db)
	jobs := repositories.NewQueueRepository(db)
	synclog := audit.NewLogger(db)

	crm := connectortest.New("crm")
	exec := resilience.NewExecutor(resilience.NewRegistry(resilience.DefaultBreakerConfig()), resilience.RetryPolicy{})
	sync := syncer.New(syncer.Deps{
		Systems:    map[string]connectors.System{models.SourceCRM: crm, models.SourceTelephony: connectortest.New("telephony")},
		Executor:   exec,
		Identities: repositories.NewIdentityRepository(db),
		Guard:      compliance.NewGuard(repositories.NewOptoutRepository(db)),
		SyncLog:    synclog,
		Merge:      merge.Options{PrimarySource: models.SourceCRM},
	})
	r := router.New(synclog)
	sync.Register(r)

	svc := ingest.NewService(events, jobs, ingest.Options{MaxRetries: 5, DedupWindow: 5 * time.Minute})
	svc.SetClock(func() time.Time { return time.Unix(1700000100, 0) })
	body := []byte(`{"event":"Contact-Updated","contact":{"id":42,"phone":"+15551230000","first_name":"Grace"}}`)
	for i := 0; i < 2; i++ {
		if _, err := svc.Ingest(ctx, models.SourceTelephony, body, ""); err != nil {
			t.Fatal(err)
		}
	}

	pool := NewPool(jobs, events, NewProcessor(events, repositories.NewQuarantineRepository(db), r), PoolConfig{})
	for {
		handled, err := pool.RunOnce(ctx, "w")
		if err != nil {
			t.Fatal(err)
		}
		if !handled {
			break
		}
	}

	var nEvents, nRows int
	db.Get(&nEvents, `SELECT COUNT(*) FROM events`)
	db.Get(&nRows, `SELECT COUNT(*) FROM sync_log`)
	if nEvents != 1 || nRows != 1 {
		t.Errorf("events = %d, sync log rows = %d; want 1 and 1", nEvents, nRows)
	}
	if len(crm.Contacts()) != 1 {
		t.Errorf("crm contacts = %d, want 1", len(crm.Contacts()))
	}
}

func TestReplayer(t *testing.T) {
	fail := true
	f := newFixture(t, func(ctx context.Context, e *models.Event) error {
		if fail {
			return resilience.Permanent(errors.New("bad payload"))
		}
		return nil
	})
	e := f.enqueue(t, "fp-replay")
	f.runOnce(t)

	replayer := NewReplayer(f.events, f.jobs, maxRetries)
	replayer.now = func() time.Time { return f.clock }
	ctx := context.Background()

	if _, err := replayer.Replay(ctx, "evt_missing"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("missing event: err = %v", err)
	}

	fail = false
	job, err := replayer.Replay(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.RetryCount != 0 || job.Status != models.JobQueued {
		t.Errorf("replay job = %+v", job)
	}
	if jobs, _ := f.jobs.ListByEvent(ctx, e.ID); len(jobs) != 1 {
		t.Errorf("jobs for event = %d, want 1", len(jobs))
	}

	f.runOnce(t)
	if got := f.event(t, e.ID).Status; got != models.EventDone {
		t.Errorf("status after replay = %s", got)
	}

	// a pending event has nothing to replay
	other := f.enqueue(t, "fp-replay-pending")
	if _, err := replayer.Replay(ctx, other.ID); !errors.Is(err, ErrNotReplayable) {
		t.Errorf("pending event: err = %v", err)
	}
}
