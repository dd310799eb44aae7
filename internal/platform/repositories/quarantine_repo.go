package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"hooksync/internal/platform/models"
)

type QuarantineRepository struct {
	db *sqlx.DB
}

func NewQuarantineRepository(db *sqlx.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

// Add quarantines an event. Adding an existing entry replaces its reason.
func (r *QuarantineRepository) Add(ctx context.Context, entry *models.QuarantineEntry) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO quarantine (event_id, event_source, reason, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id, event_source) DO UPDATE SET reason = excluded.reason
	`), entry.EventID, entry.EventSource, entry.Reason, entry.CreatedAt)
	return err
}

// Remove lifts a quarantine. An empty source removes the entry for every source.
func (r *QuarantineRepository) Remove(ctx context.Context, eventID, source string) (bool, error) {
	query := `DELETE FROM quarantine WHERE event_id = ?`
	args := []interface{}{eventID}
	if source != "" {
		query += ` AND event_source = ?`
		args = append(args, source)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QuarantineRepository) IsQuarantined(ctx context.Context, eventID, source string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM quarantine WHERE event_id = ? AND event_source = ?`), eventID, source)
	return n > 0, err
}

func (r *QuarantineRepository) List(ctx context.Context) ([]*models.QuarantineEntry, error) {
	entries := []*models.QuarantineEntry{}
	err := r.db.SelectContext(ctx, &entries, `SELECT event_id, event_source, reason, created_at FROM quarantine ORDER BY created_at DESC`)
	return entries, err
}
