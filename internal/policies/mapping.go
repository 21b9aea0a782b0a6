package policies

import (
	"net/url"

	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "policies", "p").
	Project("id", "ID").
	Project("name", "Name").
	Project("pack", "Pack").
	Project("signal_types", "SignalTypes").
	Project("description", "Description").
	Project("created_by", "CreatedBy").
	Project("created_at", "CreatedAt")

var versionProjection = query.
	NewProjectionMap("public", "policy_versions", "v").
	Project("id", "ID").
	Project("policy_id", "PolicyID").
	Project("version", "Version").
	Project("rule", "Rule").
	Project("status", "Status").
	Project("notes", "Notes").
	Project("created_by", "CreatedBy").
	Project("created_at", "CreatedAt").
	Project("activated_at", "ActivatedAt")

var defaultSort = query.SortField{Field: "Name"}

var versionSort = []query.SortField{
	{Field: "PolicyID"},
	{Field: "Version"},
}

const (
	returning        = "id, name, pack, signal_types, description, created_by, created_at"
	versionReturning = "id, policy_id, version, rule, status, notes, created_by, created_at, activated_at"
)

// Filters contains optional filtering criteria for policy queries.
type Filters struct {
	Pack *string `json:"pack,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.WhereEquals("Pack", f.Pack)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if p := values.Get("pack"); p != "" {
		f.Pack = &p
	}

	return f
}

func scanPolicy(s repository.Scanner) (Policy, error) {
	var (
		p     Policy
		types []byte
	)
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.Pack,
		&types,
		&p.Description,
		&p.CreatedBy,
		&p.CreatedAt,
	)
	if err != nil {
		return p, err
	}
	if err := repository.UnmarshalJSONB(types, &p.SignalTypes, "signal_types"); err != nil {
		return p, err
	}
	return p, nil
}

func scanVersion(s repository.Scanner) (Version, error) {
	var (
		v    Version
		rule []byte
	)
	err := s.Scan(
		&v.ID,
		&v.PolicyID,
		&v.Version,
		&rule,
		&v.Status,
		&v.Notes,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.ActivatedAt,
	)
	if err != nil {
		return v, err
	}
	if err := repository.UnmarshalJSONB(rule, &v.Rule, "rule"); err != nil {
		return v, err
	}
	return v, nil
}
