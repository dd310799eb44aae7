package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"hooksync/internal/platform/models"
)

type OptoutRepository struct {
	db *sqlx.DB
}

func NewOptoutRepository(db *sqlx.DB) *OptoutRepository {
	return &OptoutRepository{db: db}
}

// Upsert records the latest consent signal for a number. Older signals never
// overwrite newer ones.
func (r *OptoutRepository) Upsert(ctx context.Context, e *models.OptoutEntry) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO optout_registry (phone_number, status, source, reason, last_event_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (phone_number) DO UPDATE SET
			status = excluded.status,
			source = excluded.source,
			reason = excluded.reason,
			last_event_at = excluded.last_event_at
		WHERE excluded.last_event_at >= optout_registry.last_event_at
	`), e.PhoneNumber, e.Status, e.Source, e.Reason, e.LastEventAt)
	return err
}

func (r *OptoutRepository) Get(ctx context.Context, phone string) (*models.OptoutEntry, error) {
	var e models.OptoutEntry
	err := r.db.GetContext(ctx, &e, r.db.Rebind(`
		SELECT phone_number, status, source, reason, last_event_at FROM optout_registry WHERE phone_number = ?
	`), phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *OptoutRepository) ListByStatus(ctx context.Context, status string) ([]*models.OptoutEntry, error) {
	entries := []*models.OptoutEntry{}
	err := r.db.SelectContext(ctx, &entries, r.db.Rebind(`
		SELECT phone_number, status, source, reason, last_event_at FROM optout_registry
		WHERE status = ? ORDER BY last_event_at DESC
	`), status)
	return entries, err
}
