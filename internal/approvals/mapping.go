package approvals

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "approval_queue", "q").
	Project("id", "ID").
	Project("action_type", "ActionType").
	Project("payload", "Payload").
	Project("proposed_by", "ProposedBy").
	Project("proposed_at", "ProposedAt").
	Project("status", "Status").
	Project("reviewed_by", "ReviewedBy").
	Project("reviewed_at", "ReviewedAt").
	Project("review_notes", "ReviewNotes").
	Project("result_id", "ResultID").
	Project("trace_id", "TraceID").
	Project("summary", "Summary").
	Project("confidence", "Confidence")

var defaultSort = query.SortField{Field: "ProposedAt"}

const returning = `id, action_type, payload, proposed_by, proposed_at, status, reviewed_by,
	reviewed_at, review_notes, result_id, trace_id, summary, confidence`

// Filters contains optional filtering criteria for queue queries.
type Filters struct {
	Status     *string    `json:"status,omitempty"`
	ActionType *string    `json:"action_type,omitempty"`
	ProposedBy *string    `json:"proposed_by,omitempty"`
	TraceID    *uuid.UUID `json:"trace_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("ActionType", f.ActionType).
		WhereEquals("ProposedBy", f.ProposedBy).
		WhereEquals("TraceID", f.TraceID)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if a := values.Get("action_type"); a != "" {
		f.ActionType = &a
	}

	if p := values.Get("proposed_by"); p != "" {
		f.ProposedBy = &p
	}

	if t := values.Get("trace_id"); t != "" {
		if id, err := uuid.Parse(t); err == nil {
			f.TraceID = &id
		}
	}

	return f
}

func scanItem(s repository.Scanner) (Item, error) {
	var (
		item    Item
		payload []byte
	)
	err := s.Scan(
		&item.ID,
		&item.ActionType,
		&payload,
		&item.ProposedBy,
		&item.ProposedAt,
		&item.Status,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.ReviewNotes,
		&item.ResultID,
		&item.TraceID,
		&item.Summary,
		&item.Confidence,
	)
	item.Payload = payload
	return item, err
}
