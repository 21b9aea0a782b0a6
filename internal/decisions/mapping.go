package decisions

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "decisions", "d").
	Project("id", "ID").
	Project("exception_id", "ExceptionID").
	Project("decision_type", "DecisionType").
	Project("is_hard_override", "IsHardOverride").
	Project("chosen_option_id", "ChosenOptionID").
	Project("rationale", "Rationale").
	Project("assumptions", "Assumptions").
	Project("decided_by", "DecidedBy").
	Project("decided_at", "DecidedAt").
	Project("approved_by", "ApprovedBy").
	Project("approved_at", "ApprovedAt").
	Project("approval_notes", "ApprovalNotes")

var packProjection = query.
	NewProjectionMap("public", "evidence_packs", "ep").
	Project("id", "ID").
	Project("decision_id", "DecisionID").
	Project("items", "Items").
	Project("content_hash", "ContentHash").
	Project("archive_key", "ArchiveKey").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{
	Field:      "DecidedAt",
	Descending: true,
}

const (
	returning     = "id, exception_id, decision_type, is_hard_override, chosen_option_id, rationale, assumptions, decided_by, decided_at, approved_by, approved_at, approval_notes"
	packReturning = "id, decision_id, items, content_hash, archive_key, created_at"
)

// Filters contains optional filtering criteria for decision searches.
type Filters struct {
	ExceptionID  *uuid.UUID `json:"exception_id,omitempty"`
	DecisionType *string    `json:"decision_type,omitempty"`
	DecidedBy    *string    `json:"decided_by,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("ExceptionID", f.ExceptionID).
		WhereEquals("DecisionType", f.DecisionType).
		WhereEquals("DecidedBy", f.DecidedBy).
		WhereSince("DecidedAt", f.Since)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if e := values.Get("exception_id"); e != "" {
		if id, err := uuid.Parse(e); err == nil {
			f.ExceptionID = &id
		}
	}

	if t := values.Get("decision_type"); t != "" {
		f.DecisionType = &t
	}

	if d := values.Get("decided_by"); d != "" {
		f.DecidedBy = &d
	}

	if s := values.Get("since"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = &ts
		}
	}

	return f
}

func scanDecision(s repository.Scanner) (Decision, error) {
	var (
		d           Decision
		assumptions []byte
	)
	err := s.Scan(
		&d.ID,
		&d.ExceptionID,
		&d.DecisionType,
		&d.IsHardOverride,
		&d.ChosenOptionID,
		&d.Rationale,
		&assumptions,
		&d.DecidedBy,
		&d.DecidedAt,
		&d.ApprovedBy,
		&d.ApprovedAt,
		&d.ApprovalNotes,
	)
	if err != nil {
		return d, err
	}
	if err := repository.UnmarshalJSONB(assumptions, &d.Assumptions, "assumptions"); err != nil {
		return d, err
	}
	return d, nil
}

func scanPack(s repository.Scanner) (EvidencePack, error) {
	var (
		p     EvidencePack
		items []byte
	)
	err := s.Scan(&p.ID, &p.DecisionID, &items, &p.ContentHash, &p.ArchiveKey, &p.CreatedAt)
	p.Items = items
	return p, err
}
