package exceptions

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "exceptions", "e").
	Project("id", "ID").
	Project("fingerprint", "Fingerprint").
	Project("signal_type", "SignalType").
	Project("pack", "Pack").
	Project("dimensions", "Dimensions").
	Project("title", "Title").
	Project("severity", "Severity").
	Project("status", "Status").
	Project("policy_id", "PolicyID").
	Project("context", "Context").
	Project("occurrence_count", "OccurrenceCount").
	Project("first_signal_id", "FirstSignalID").
	Project("last_signal_id", "LastSignalID").
	Project("raised_at", "RaisedAt").
	Project("last_seen_at", "LastSeenAt").
	Project("closed_at", "ClosedAt").
	Project("closed_by", "ClosedBy")

var defaultSort = query.SortField{
	Field:      "LastSeenAt",
	Descending: true,
}

const returning = `id, fingerprint, signal_type, pack, dimensions, title, severity, status,
	policy_id, context, occurrence_count, first_signal_id, last_signal_id,
	raised_at, last_seen_at, closed_at, closed_by`

// Filters contains optional filtering criteria for exception queries.
type Filters struct {
	Status     *string    `json:"status,omitempty"`
	Severity   *string    `json:"severity,omitempty"`
	Pack       *string    `json:"pack,omitempty"`
	SignalType *string    `json:"signal_type,omitempty"`
	PolicyID   *uuid.UUID `json:"policy_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("Severity", f.Severity).
		WhereEquals("Pack", f.Pack).
		WhereEquals("SignalType", f.SignalType).
		WhereEquals("PolicyID", f.PolicyID)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if s := values.Get("severity"); s != "" {
		f.Severity = &s
	}

	if p := values.Get("pack"); p != "" {
		f.Pack = &p
	}

	if t := values.Get("signal_type"); t != "" {
		f.SignalType = &t
	}

	if p := values.Get("policy_id"); p != "" {
		if id, err := uuid.Parse(p); err == nil {
			f.PolicyID = &id
		}
	}

	return f
}

func scanException(s repository.Scanner) (Exception, error) {
	var (
		e    Exception
		dims []byte
		ctx  []byte
	)
	err := s.Scan(
		&e.ID,
		&e.Fingerprint,
		&e.SignalType,
		&e.Pack,
		&dims,
		&e.Title,
		&e.Severity,
		&e.Status,
		&e.PolicyID,
		&ctx,
		&e.OccurrenceCount,
		&e.FirstSignalID,
		&e.LastSignalID,
		&e.RaisedAt,
		&e.LastSeenAt,
		&e.ClosedAt,
		&e.ClosedBy,
	)
	if err != nil {
		return e, err
	}
	if err := repository.UnmarshalJSONB(dims, &e.Dimensions, "dimensions"); err != nil {
		return e, err
	}
	if err := repository.UnmarshalJSONB(ctx, &e.Context, "context"); err != nil {
		return e, err
	}
	return e, nil
}

type dedupRow struct {
	Exception
	created bool
}

func scanDedup(s repository.Scanner) (dedupRow, error) {
	var (
		row  dedupRow
		dims []byte
		ctx  []byte
	)
	e := &row.Exception
	err := s.Scan(
		&e.ID,
		&e.Fingerprint,
		&e.SignalType,
		&e.Pack,
		&dims,
		&e.Title,
		&e.Severity,
		&e.Status,
		&e.PolicyID,
		&ctx,
		&e.OccurrenceCount,
		&e.FirstSignalID,
		&e.LastSignalID,
		&e.RaisedAt,
		&e.LastSeenAt,
		&e.ClosedAt,
		&e.ClosedBy,
		&row.created,
	)
	if err != nil {
		return row, err
	}
	if err := repository.UnmarshalJSONB(dims, &e.Dimensions, "dimensions"); err != nil {
		return row, err
	}
	if err := repository.UnmarshalJSONB(ctx, &e.Context, "context"); err != nil {
		return row, err
	}
	return row, nil
}

func scanContext(s repository.Scanner) (Context, error) {
	var (
		c       Context
		content []byte
	)
	err := s.Scan(&c.ID, &c.ExceptionID, &c.Kind, &content, &c.AddedBy, &c.CreatedAt)
	c.Content = content
	return c, err
}

func scanSignal(s repository.Scanner) (SignalSummary, error) {
	var (
		sig     SignalSummary
		payload []byte
	)
	err := s.Scan(&sig.ID, &sig.SignalType, &sig.Source, &payload, &sig.Reliability, &sig.ObservedAt, &sig.LinkedAt)
	sig.Payload = payload
	return sig, err
}

func scanEvaluation(s repository.Scanner) (EvaluationSummary, error) {
	var e EvaluationSummary
	err := s.Scan(&e.ID, &e.PolicyVersionID, &e.Namespace, &e.Result, &e.EvaluatedAt)
	return e, err
}

func scanDecision(s repository.Scanner) (DecisionSummary, error) {
	var d DecisionSummary
	err := s.Scan(&d.ID, &d.DecisionType, &d.ChosenOptionID, &d.DecidedBy, &d.DecidedAt)
	return d, err
}
