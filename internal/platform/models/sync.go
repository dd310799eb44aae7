package models

const (
	SyncSuccess = "success"
	SyncError   = "error"
	SyncSkipped = "skipped"
)

const (
	OptedOut = "opted_out"
	OptedIn  = "opted_in"
)

// IdentityMapping links one person's ids across systems.
type IdentityMapping struct {
	ID           string  `json:"id" db:"id"`
	CRMID        *string `json:"crm_id,omitempty" db:"crm_id"`
	TelephonyID  *string `json:"telephony_id,omitempty" db:"telephony_id"`
	MessagingID  *string `json:"messaging_id,omitempty" db:"messaging_id"`
	Phone        *string `json:"phone,omitempty" db:"phone"`
	Email        *string `json:"email,omitempty" db:"email"`
	CreatedAt    int64   `json:"created_at" db:"created_at"`
	UpdatedAt    int64   `json:"updated_at" db:"updated_at"`
	LastSyncedAt *int64  `json:"last_synced_at,omitempty" db:"last_synced_at"`
}

// SystemID returns the mapped id for the given system, or "".
func (m *IdentityMapping) SystemID(system string) string {
	var p *string
	switch system {
	case SourceCRM:
		p = m.CRMID
	case SourceTelephony:
		p = m.TelephonyID
	case SourceMessaging:
		p = m.MessagingID
	}
	if p == nil {
		return ""
	}
	return *p
}

type OptoutEntry struct {
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Status      string `json:"status" db:"status"`
	Source      string `json:"source" db:"source"`
	Reason      string `json:"reason" db:"reason"`
	LastEventAt int64  `json:"last_event_at" db:"last_event_at"`
}

// SyncLogEntry is append-only.
type SyncLogEntry struct {
	ID            string  `json:"id" db:"id"`
	EventID       string  `json:"event_id" db:"event_id"`
	Direction     string  `json:"direction" db:"direction"`
	EntityType    string  `json:"entity_type" db:"entity_type"`
	EntityID      string  `json:"entity_id" db:"entity_id"`
	SourceID      string  `json:"source_id" db:"source_id"`
	TargetID      *string `json:"target_id,omitempty" db:"target_id"`
	Status        string  `json:"status" db:"status"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`
	CorrelationID string  `json:"correlation_id" db:"correlation_id"`
	FinishedAt    int64   `json:"finished_at" db:"finished_at"`
}
