package api

import (
	"net/http"

	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
) {
	routes.Register(
		mux,
		domain.Signals.Handler().Routes(),
		domain.Exceptions.Handler().Routes(),
		domain.Policies.Handler().Routes(),
		domain.Evaluations.Handler().Routes(),
		domain.Decisions.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Approvals.Handler().Routes(),
		domain.Traces.Handler().Routes(),
		domain.Users.Handler().Routes(),
		domain.Audit.Handler().Routes(),
	)
}
