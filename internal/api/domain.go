package api

import (
	"github.com/JaimeStill/steward/internal/approvals"
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/decisions"
	"github.com/JaimeStill/steward/internal/evaluations"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/internal/users"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Audit       audit.System
	Users       users.System
	Exceptions  exceptions.System
	Signals     signals.System
	Policies    policies.System
	Evaluations evaluations.System
	Decisions   decisions.System
	Traces      traces.System
	Approvals   approvals.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) *Domain {
	db := runtime.Database.Connection()
	log := runtime.Logger
	page := runtime.Pagination
	m := runtime.Metrics

	auditSystem := audit.New(db, runtime.Events, log, page)

	usersSystem := users.New(db, auditSystem, log, page)

	exceptionsSystem := exceptions.New(db, runtime.Packs, auditSystem, m, log, page)

	signalsSystem := signals.New(
		db,
		fingerprint.New(runtime.Packs),
		exceptionsSystem,
		auditSystem,
		m,
		log,
		page,
	)

	policiesSystem := policies.New(db, auditSystem, log)

	evaluationsSystem := evaluations.New(
		db,
		exceptionsSystem,
		policiesSystem,
		auditSystem,
		m,
		log,
		page,
	)

	decisionsSystem := decisions.New(
		db,
		exceptionsSystem,
		usersSystem,
		runtime.Packs,
		runtime.Storage,
		auditSystem,
		m,
		log,
		page,
	)

	tracesSystem := traces.New(db, auditSystem, m, log, page)

	approvalsSystem := approvals.New(
		db,
		approvals.NewCommitters(signalsSystem, policiesSystem, exceptionsSystem),
		usersSystem,
		auditSystem,
		m,
		log,
		page,
	)

	return &Domain{
		Audit:       auditSystem,
		Users:       usersSystem,
		Exceptions:  exceptionsSystem,
		Signals:     signalsSystem,
		Policies:    policiesSystem,
		Evaluations: evaluationsSystem,
		Decisions:   decisionsSystem,
		Traces:      tracesSystem,
		Approvals:   approvalsSystem,
	}
}
