package api

import (
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/infrastructure"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration and the
// registries fixed at startup.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination pagination.Config
	Packs      *packs.Registry
	Events     *audit.Registry
}

// NewRuntime creates an API runtime with a module-scoped logger. It fails when a
// configured audit event type is not a valid identifier.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) (*Runtime, error) {
	extra := make([]audit.EventType, len(cfg.Audit.ExtraEventTypes))
	for i, t := range cfg.Audit.ExtraEventTypes {
		extra[i] = audit.EventType(t)
	}

	events, err := audit.NewRegistry(extra...)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle: infra.Lifecycle,
			Logger:    infra.Logger.With("module", "api"),
			Database:  infra.Database,
			Storage:   infra.Storage,
			Metrics:   infra.Metrics,
		},
		Pagination: cfg.API.Pagination,
		Packs:      packs.Builtin(),
		Events:     events,
	}, nil
}
