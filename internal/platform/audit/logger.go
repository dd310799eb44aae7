package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/models"
)

const syncLogColumns = `id, event_id, direction, entity_type, entity_id, source_id, target_id, status,
	error_message, correlation_id, finished_at`

// Logger writes the sync log, the forensic trail of every synchronizer run.
// Writes are synchronous: a run is not finished until its row exists.
type Logger struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Record appends entry, filling in id, correlation id and finish time when unset.
func (l *Logger) Record(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = "sl_" + uuid.New().String()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.New().String()
	}
	if entry.FinishedAt == 0 {
		entry.FinishedAt = l.now().Unix()
	}

	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO sync_log (id, event_id, direction, entity_type, entity_id, source_id, target_id, status,
			error_message, correlation_id, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.EventID, entry.Direction, entry.EntityType, entry.EntityID, entry.SourceID, entry.TargetID,
		entry.Status, entry.ErrorMessage, entry.CorrelationID, entry.FinishedAt)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", entry.EventID).
			Str("correlation_id", entry.CorrelationID).
			Msg("failed to write sync log")
		return fmt.Errorf("write sync log: %w", err)
	}
	return nil
}

type Filter struct {
	EventID string
	Status  string
	Since   int64
	Limit   int
}

func (l *Logger) List(ctx context.Context, f Filter) ([]*models.SyncLogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, f.EventID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Since > 0 {
		where = append(where, "finished_at >= ?")
		args = append(args, f.Since)
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY finished_at DESC, id LIMIT %d`, limit)

	entries := []*models.SyncLogEntry{}
	if err := l.db.SelectContext(ctx, &entries, l.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return entries, nil
}

type Stats struct {
	Total  int `db:"total"`
	Errors int `db:"errors"`
}

func (l *Logger) StatsSince(ctx context.Context, since int64) (Stats, error) {
	var s Stats
	err := l.db.GetContext(ctx, &s, l.db.Rebind(`
		SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS errors
		FROM sync_log WHERE finished_at >= ?
	`), models.SyncError, since)
	return s, err
}

// ErrorsByTarget counts failed runs since the given time, keyed by the system
// written to. Directions are "<source>_to_<target>".
func (l *Logger) ErrorsByTarget(ctx context.Context, since int64) (map[string]int, error) {
	var rows []struct {
		Direction string `db:"direction"`
		Count     int    `db:"n"`
	}
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(`
		SELECT direction, COUNT(*) AS n FROM sync_log
		WHERE status = ? AND finished_at >= ? GROUP BY direction
	`), models.SyncError, since)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int)
	for _, row := range rows {
		target := row.Direction
		if i := strings.LastIndex(row.Direction, "_to_"); i >= 0 {
			target = row.Direction[i+len("_to_"):]
		}
		out[target] += row.Count
	}
	return out, nil
}
