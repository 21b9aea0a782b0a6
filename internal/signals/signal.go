// Package signals ingests observations from upstream monitors. Ingestion is
// idempotent on content: resubmitting the same signal type, source and payload
// returns the stored signal without creating anything new.
package signals

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
)

// Signal is a stored observation.
type Signal struct {
	ID          uuid.UUID       `json:"id"`
	SignalType  string          `json:"signal_type"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	ContentHash *string         `json:"content_hash"`
	Reliability float64         `json:"reliability"`
	ObservedAt  time.Time       `json:"observed_at"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// IngestCommand carries a signal submission. Reliability defaults to 1.0
// and ObservedAt to the ingestion time.
type IngestCommand struct {
	SignalType  string         `json:"signal_type"`
	Source      string         `json:"source"`
	Payload     map[string]any `json:"payload"`
	Reliability *float64       `json:"reliability,omitempty"`
	ObservedAt  *time.Time     `json:"observed_at,omitempty"`
}

// IngestResult reports the stored signal, whether this call created it, and
// the exception it is linked to.
type IngestResult struct {
	Signal           *Signal               `json:"signal"`
	Created          bool                  `json:"created"`
	Exception        *exceptions.Exception `json:"exception,omitempty"`
	ExceptionCreated bool                  `json:"exception_created"`
}
