package models

// Sources that deliver webhooks.
const (
	SourceCRM       = "crm"
	SourceTelephony = "telephony"
	SourceMessaging = "messaging"
	SourceBroadcast = "broadcast"
)

// Entity types produced by canonicalization.
const (
	EntityContact = "contact"
	EntityCall    = "call"
	EntityMessage = "message"
)

// Event statuses. error is terminal until an operator replays the event.
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventDone       = "done"
	EventError      = "error"
	EventSkipped    = "skipped"
)

// QuarantinedMessage is stored on events that were suppressed after claim.
const QuarantinedMessage = "quarantined: processing suppressed by operator"

var Sources = []string{SourceCRM, SourceTelephony, SourceMessaging, SourceBroadcast}

var EntityTypes = []string{EntityContact, EntityCall, EntityMessage}

func IsSource(s string) bool {
	for _, src := range Sources {
		if src == s {
			return true
		}
	}
	return false
}

type Event struct {
	ID           string  `json:"id" db:"id"`
	Source       string  `json:"source" db:"source"`
	EventType    string  `json:"event_type" db:"event_type"`
	EntityType   string  `json:"entity_type" db:"entity_type"`
	EntityID     string  `json:"entity_id" db:"entity_id"`
	Direction    string  `json:"direction" db:"direction"`
	DeliveryID   *string `json:"delivery_id,omitempty" db:"delivery_id"`
	Payload      string  `json:"payload" db:"payload"` // raw JSON
	Fingerprint  string  `json:"fingerprint" db:"fingerprint"`
	Status       string  `json:"status" db:"status"`
	Attempts     int     `json:"attempts" db:"attempts"`
	ReceivedAt   int64   `json:"received_at" db:"received_at"`
	ClaimedAt    *int64  `json:"claimed_at,omitempty" db:"claimed_at"`
	ProcessedAt  *int64  `json:"processed_at,omitempty" db:"processed_at"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
}

type QuarantineEntry struct {
	EventID     string `json:"event_id" db:"event_id"`
	EventSource string `json:"event_source" db:"event_source"`
	Reason      string `json:"reason" db:"reason"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
}
