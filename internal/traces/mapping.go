package traces

import (
	"net/url"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "agent_traces", "t").
	Project("id", "ID").
	Project("agent_type", "AgentType").
	Project("session_id", "SessionID").
	Project("status", "Status").
	Project("input_summary", "InputSummary").
	Project("output_summary", "OutputSummary").
	Project("tool_calls", "ToolCalls").
	Project("error_message", "ErrorMessage").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("duration_ms", "DurationMS")

var defaultSort = query.SortField{
	Field:      "StartedAt",
	Descending: true,
}

const returning = `id, agent_type, session_id, status, input_summary, output_summary,
	tool_calls, error_message, started_at, completed_at, duration_ms`

// Filters contains optional filtering criteria for trace queries.
type Filters struct {
	AgentType *string `json:"agent_type,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
	Status    *string `json:"status,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("AgentType", f.AgentType).
		WhereEquals("SessionID", f.SessionID).
		WhereEquals("Status", f.Status)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if a := values.Get("agent_type"); a != "" {
		f.AgentType = &a
	}

	if s := values.Get("session_id"); s != "" {
		f.SessionID = &s
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	return f
}

func scanTrace(s repository.Scanner) (Trace, error) {
	var (
		t     Trace
		calls []byte
	)
	err := s.Scan(
		&t.ID,
		&t.AgentType,
		&t.SessionID,
		&t.Status,
		&t.InputSummary,
		&t.OutputSummary,
		&calls,
		&t.ErrorMessage,
		&t.StartedAt,
		&t.CompletedAt,
		&t.DurationMS,
	)
	if err != nil {
		return t, err
	}

	t.ToolCalls = make([]ToolCall, 0)
	if err := repository.UnmarshalJSONB(calls, &t.ToolCalls, "tool_calls"); err != nil {
		return t, err
	}
	return t, nil
}

func scanProposal(s repository.Scanner) (Proposal, error) {
	var p Proposal
	err := s.Scan(&p.ID, &p.ActionType, &p.Status, &p.Summary, &p.ResultID, &p.ProposedAt)
	return p, err
}
