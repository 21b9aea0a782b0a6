// Package audit implements the append-only audit trail. Every state
// transition in the kernel appends an Event inside the transaction that
// performed it; the audit_events table rejects UPDATE, DELETE and TRUNCATE.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a committed audit record.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"event_type"`
	SubjectID  string          `json:"subject_id"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Entry describes an event to append. Payload must be JSON serialisable;
// a nil payload is stored as an empty object.
type Entry struct {
	Type      EventType
	SubjectID string
	Actor     string
	Payload   any
}
