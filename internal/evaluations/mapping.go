package evaluations

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "evaluations", "ev").
	Project("id", "ID").
	Project("exception_id", "ExceptionID").
	Project("policy_version_id", "PolicyVersionID").
	Project("input_hash", "InputHash").
	Project("replay_namespace", "Namespace").
	Project("result", "Result").
	Project("details", "Details").
	Project("evaluated_at", "EvaluatedAt")

var defaultSort = query.SortField{
	Field:      "EvaluatedAt",
	Descending: true,
}

const returning = "id, exception_id, policy_version_id, input_hash, replay_namespace, result, details, evaluated_at"

// Filters contains optional filtering criteria for evaluation queries.
type Filters struct {
	ExceptionID *uuid.UUID `json:"exception_id,omitempty"`
	Namespace   *string    `json:"replay_namespace,omitempty"`
	Result      *string    `json:"result,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("ExceptionID", f.ExceptionID).
		WhereEquals("Namespace", f.Namespace).
		WhereEquals("Result", f.Result)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if e := values.Get("exception_id"); e != "" {
		if id, err := uuid.Parse(e); err == nil {
			f.ExceptionID = &id
		}
	}

	if n := values.Get("replay_namespace"); n != "" {
		f.Namespace = &n
	}

	if r := values.Get("result"); r != "" {
		f.Result = &r
	}

	return f
}

func scanEvaluation(s repository.Scanner) (Evaluation, error) {
	var (
		e       Evaluation
		details []byte
	)
	err := s.Scan(
		&e.ID,
		&e.ExceptionID,
		&e.PolicyVersionID,
		&e.InputHash,
		&e.Namespace,
		&e.Result,
		&details,
		&e.EvaluatedAt,
	)
	if err != nil {
		return e, err
	}
	if err := repository.UnmarshalJSONB(details, &e.Details, "details"); err != nil {
		return e, err
	}
	return e, nil
}
