package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"hooksync/internal/platform/models"
)

const eventColumns = `id, source, event_type, entity_type, entity_id, direction, delivery_id, payload,
	fingerprint, status, attempts, received_at, claimed_at, processed_at, error_message`

type EventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts e, assigning its id. A fingerprint collision returns ErrDuplicate
// and leaves the table untouched.
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.EventPending
	}

	query := r.db.Rebind(`
		INSERT INTO events (id, source, event_type, entity_type, entity_id, direction, delivery_id, payload,
			fingerprint, status, attempts, received_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query, e.ID, e.Source, e.EventType, e.EntityType, e.EntityID, e.Direction,
		e.DeliveryID, e.Payload, e.Fingerprint, e.Status, e.ReceivedAt, e.ErrorMessage)
	return translate(err)
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, r.db.Rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *EventRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, r.db.Rebind(`SELECT `+eventColumns+` FROM events WHERE fingerprint = ?`), fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

type EventFilter struct {
	Status string
	Source string
	Limit  int
}

func (r *EventRepository) List(ctx context.Context, f EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1 = 1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY received_at DESC, id LIMIT %d`, limit)

	events := []*models.Event{}
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return events, nil
}

// Claim moves a pending event to processing. It reports false when another
// worker got there first or the event is no longer pending.
func (r *EventRepository) Claim(ctx context.Context, id string, now int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ?, attempts = attempts + 1, claimed_at = ?
		WHERE id = ? AND status = ?
	`), models.EventProcessing, now, id, models.EventPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkDone finishes a processing event. message is kept for quarantine markers.
func (r *EventRepository) MarkDone(ctx context.Context, id string, processedAt int64, message string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ?, processed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`), models.EventDone, processedAt, nullable(message), id, models.EventProcessing)
	return err
}

func (r *EventRepository) MarkError(ctx context.Context, id string, processedAt int64, message string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ?, processed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`), models.EventError, processedAt, message, id, models.EventProcessing)
	return err
}

// Reopen returns an errored event to pending so that the holder of its job
// lease can claim it again.
func (r *EventRepository) Reopen(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ? WHERE id = ? AND status = ?
	`), models.EventPending, id, models.EventError)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecoverStuck returns events claimed before cutoff that never finished,
// left behind by a worker that died mid-run, to pending.
func (r *EventRepository) RecoverStuck(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ? WHERE status = ? AND claimed_at < ?
	`), models.EventPending, models.EventProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetForReplay puts an error or done event back to pending for an operator replay.
func (r *EventRepository) ResetForReplay(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE events SET status = ?, processed_at = NULL, error_message = NULL
		WHERE id = ? AND status IN (?, ?)
	`), models.EventPending, id, models.EventError, models.EventDone)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListStalePending returns pending events received before cutoff, oldest first.
func (r *EventRepository) ListStalePending(ctx context.Context, cutoff int64, limit int) ([]*models.Event, error) {
	events := []*models.Event{}
	query := r.db.Rebind(`SELECT ` + eventColumns + ` FROM events
		WHERE status = ? AND received_at < ? ORDER BY received_at LIMIT ?`)
	if err := r.db.SelectContext(ctx, &events, query, models.EventPending, cutoff, limit); err != nil {
		return nil, err
	}
	return events, nil
}

type EventStats struct {
	Total   int `db:"total"`
	Errored int `db:"errored"`
	Pending int `db:"pending"`
}

// StatsSince counts events received at or after since.
func (r *EventRepository) StatsSince(ctx context.Context, since int64) (EventStats, error) {
	var s EventStats
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS errored,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending
		FROM events WHERE received_at >= ?
	`), models.EventError, models.EventPending, since)
	return s, err
}

func (r *EventRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM events WHERE status = ?`), status)
	return n, err
}
