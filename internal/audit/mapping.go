package audit

import (
	"net/url"
	"time"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "audit_events", "a").
	Project("id", "ID").
	Project("event_type", "Type").
	Project("subject_id", "SubjectID").
	Project("actor", "Actor").
	Project("payload", "Payload").
	Project("occurred_at", "OccurredAt")

var defaultSort = query.SortField{
	Field:      "OccurredAt",
	Descending: true,
}

// Filters contains optional filtering criteria for audit queries.
type Filters struct {
	EventType *string    `json:"event_type,omitempty"`
	SubjectID *string    `json:"subject_id,omitempty"`
	Actor     *string    `json:"actor,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Type", f.EventType).
		WhereEquals("SubjectID", f.SubjectID).
		WhereEquals("Actor", f.Actor).
		WhereSince("OccurredAt", f.Since)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if t := values.Get("event_type"); t != "" {
		f.EventType = &t
	}

	if s := values.Get("subject_id"); s != "" {
		f.SubjectID = &s
	}

	if a := values.Get("actor"); a != "" {
		f.Actor = &a
	}

	if s := values.Get("since"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = &ts
		}
	}

	return f
}

func scanEvent(s repository.Scanner) (Event, error) {
	var (
		e       Event
		payload []byte
	)
	err := s.Scan(
		&e.ID,
		&e.Type,
		&e.SubjectID,
		&e.Actor,
		&payload,
		&e.OccurredAt,
	)
	if err != nil {
		return e, err
	}
	e.Payload = payload
	return e, nil
}
