package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"hooksync/internal/platform/models"
)

const jobColumns = `id, event_id, retry_count, max_retries, next_visible_at, status, lease_owner,
	lease_expires_at, last_error, created_at, updated_at`

// leaseAttempts bounds how often Lease retries after losing a race for a candidate.
const leaseAttempts = 3

type QueueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Enqueue(ctx context.Context, eventID string, maxRetries int, now int64) (*models.QueueJob, error) {
	job := &models.QueueJob{
		ID:            "job_" + uuid.New().String(),
		EventID:       eventID,
		MaxRetries:    maxRetries,
		NextVisibleAt: now,
		Status:        models.JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO queue_jobs (id, event_id, retry_count, max_retries, next_visible_at, status, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?)
	`), job.ID, job.EventID, job.MaxRetries, job.NextVisibleAt, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*models.QueueJob, error) {
	var job models.QueueJob
	err := r.db.GetContext(ctx, &job, r.db.Rebind(`SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *QueueRepository) ListByEvent(ctx context.Context, eventID string) ([]*models.QueueJob, error) {
	jobs := []*models.QueueJob{}
	err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(`SELECT `+jobColumns+` FROM queue_jobs WHERE event_id = ? ORDER BY created_at`), eventID)
	return jobs, err
}

// Lease hands the oldest visible job to owner until now+ttl. The lease is a
// conditional update, so two pollers never receive the same job. Returns nil
// when nothing is visible.
func (r *QueueRepository) Lease(ctx context.Context, owner string, now int64, ttl time.Duration) (*models.QueueJob, error) {
	expires := now + int64(ttl/time.Second)

	for i := 0; i < leaseAttempts; i++ {
		var id string
		err := r.db.GetContext(ctx, &id, r.db.Rebind(`
			SELECT id FROM queue_jobs WHERE status = ? AND next_visible_at <= ?
			ORDER BY next_visible_at, created_at LIMIT 1
		`), models.JobQueued, now)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE queue_jobs SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), models.JobLeased, owner, expires, now, id, models.JobQueued)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return r.GetByID(ctx, id)
		}
	}
	return nil, nil
}

// Complete removes a finished job. Only the lease owner may complete it.
func (r *QueueRepository) Complete(ctx context.Context, id, owner string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM queue_jobs WHERE id = ? AND lease_owner = ?`), id, owner)
	return err
}

// Retry returns the job to the queue, invisible until nextVisibleAt.
func (r *QueueRepository) Retry(ctx context.Context, id, owner string, nextVisibleAt, now int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE queue_jobs
		SET status = ?, retry_count = retry_count + 1, next_visible_at = ?, last_error = ?,
			lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND lease_owner = ?
	`), models.JobQueued, nextVisibleAt, lastError, now, id, owner)
	return err
}

// Requeue returns the job to the queue, visible at once and with its retry
// count unchanged.
func (r *QueueRepository) Requeue(ctx context.Context, id, owner string, now int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE queue_jobs
		SET status = ?, next_visible_at = ?, last_error = ?,
			lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND lease_owner = ?
	`), models.JobQueued, now, lastError, now, id, owner)
	return err
}

// Fail dead-letters the job.
func (r *QueueRepository) Fail(ctx context.Context, id, owner string, now int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE queue_jobs
		SET status = ?, last_error = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND lease_owner = ?
	`), models.JobFailed, lastError, now, id, owner)
	return err
}

// ReleaseExpired puts leased jobs whose lease ran out back in the queue.
func (r *QueueRepository) ReleaseExpired(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE queue_jobs SET status = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE status = ? AND lease_expires_at < ?
	`), models.JobQueued, now, models.JobLeased, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByEvent drops every job for an event, used before a replay enqueues a fresh one.
func (r *QueueRepository) DeleteByEvent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM queue_jobs WHERE event_id = ?`), eventID)
	return err
}

func (r *QueueRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM queue_jobs WHERE status = ?`), status)
	return n, err
}
