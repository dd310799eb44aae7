package models

const (
	JobQueued = "queued"
	JobLeased = "leased"
	JobFailed = "failed" // dead letter
)

type QueueJob struct {
	ID             string  `json:"id" db:"id"`
	EventID        string  `json:"event_id" db:"event_id"`
	RetryCount     int     `json:"retry_count" db:"retry_count"`
	MaxRetries     int     `json:"max_retries" db:"max_retries"`
	NextVisibleAt  int64   `json:"next_visible_at" db:"next_visible_at"`
	Status         string  `json:"status" db:"status"`
	LeaseOwner     *string `json:"lease_owner,omitempty" db:"lease_owner"`
	LeaseExpiresAt *int64  `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	LastError      *string `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      int64   `json:"created_at" db:"created_at"`
	UpdatedAt      int64   `json:"updated_at" db:"updated_at"`
}
