package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/observability"
	"github.com/vorion-labs/cognigate/pkg/orchestrator"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
	"github.com/vorion-labs/cognigate/pkg/proof"
	"github.com/vorion-labs/cognigate/pkg/trustdyn"
)

// IntentProcessor is the orchestrator's serving contract.
type IntentProcessor interface {
	ProcessIntent(ctx context.Context, in *intent.Intent) *orchestrator.Result
}

// TrustAdmin exposes the trust-engine operations the API surfaces.
// *trustdyn.Engine satisfies it.
type TrustAdmin interface {
	StateOf(agentID string) (trustdyn.State, error)
	ResetCircuitBreaker(agentID string, adminOverride bool) error
}

// HealthChecker fans out to the pipeline layers. *pipeline.Pipeline
// satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) map[string]pipeline.HealthStatus
}

// ProfileWriter registers or replaces agent profiles through the admin
// surface. *orchestrator.MemoryProfileStore satisfies it.
type ProfileWriter interface {
	Put(ctx context.Context, p *orchestrator.Profile) error
}

// Options wires the server's collaborators. Processor, Profiles, and
// Proofs are required.
type Options struct {
	Processor IntentProcessor
	Profiles  orchestrator.ProfileStore
	// ProfileWriter enables the admin agent-registration endpoint.
	ProfileWriter ProfileWriter
	Proofs        proof.Store
	Trust         TrustAdmin
	Health        HealthChecker
	SLO           *observability.SLOTracker
	JWTSecret     string
	// RateRPS/RateBurst tune the per-IP limiter; zero disables it.
	RateRPS   int
	RateBurst int
}

// Server is the HTTP surface over the core. Thin by design: handlers
// validate, delegate, and serialize.
type Server struct {
	opts      Options
	validator *intent.Validator
	log       *slog.Logger
}

// NewServer validates wiring and compiles the intent schema.
func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("api: intent processor is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("api: profile store is required")
	}
	if opts.Proofs == nil {
		return nil, fmt.Errorf("api: proof store is required")
	}
	validator, err := intent.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		opts:      opts,
		validator: validator,
		log:       slog.Default().With("component", "api"),
	}, nil
}

// Router assembles the chi route tree with middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if s.opts.RateRPS > 0 {
		r.Use(NewGlobalRateLimiter(s.opts.RateRPS, s.opts.RateBurst).Middleware)
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/intents", s.handleSubmitIntent)
		r.Get("/proofs/{intentID}", s.handleGetProofs)
		r.Post("/proofs/{intentID}/verify", s.handleVerifyProofs)
		r.Get("/trust/{agentID}", s.handleTrustStatus)
		r.Post("/constraints/validate", s.handleValidateConstraints)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(s.opts.JWTSecret))
			r.Put("/agents/{agentID}", s.handleUpsertAgent)
			r.Post("/agents/{agentID}/reset-breaker", s.handleResetBreaker)
			r.Get("/slo/{operation}", s.handleSLOStatus)
		})
	})
	return r
}
