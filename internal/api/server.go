package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxdialer/engine/internal/agents"
	"github.com/voxdialer/engine/internal/api/middleware"
	"github.com/voxdialer/engine/internal/config"
	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/push"
)

// Server holds HTTP handler dependencies and the chi router. It exposes
// three surfaces: an unauthenticated health/metrics surface, a dashboard
// JWT-authenticated websocket, and a shared-secret-guarded internal CRUD
// surface used by the provisioning layer that owns campaigns and contacts.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	users       database.UserRepository
	campaigns   database.CampaignRepository
	contacts    database.ContactRepository
	menus       database.MenuRepository
	commitments database.CommitmentRepository
	budgets     database.ChannelBudgetRepository
	agentEvents database.AgentEventRepository

	dispatcher *agents.Dispatcher
	hub        *push.Hub

	jwtSecret []byte
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(
	cfg *config.Config,
	users database.UserRepository,
	campaigns database.CampaignRepository,
	contacts database.ContactRepository,
	menus database.MenuRepository,
	commitments database.CommitmentRepository,
	budgets database.ChannelBudgetRepository,
	agentEvents database.AgentEventRepository,
	dispatcher *agents.Dispatcher,
	hub *push.Hub,
	jwtSecret []byte,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		users:       users,
		campaigns:   campaigns,
		contacts:    contacts,
		menus:       menus,
		commitments: commitments,
		budgets:     budgets,
		agentEvents: agentEvents,
		dispatcher:  dispatcher,
		hub:         hub,
		jwtSecret:   jwtSecret,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	authLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())
	internalLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())

	// Dashboard websocket. Auth happens via a short-lived token in the
	// query string since browsers cannot set an Authorization header on
	// the initial websocket handshake.
	r.Get("/ws", s.handleWebsocket)

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.RequireInternalSecret(s.cfg.InternalAPISecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(authLimiter))
			r.Post("/auth/token", s.handleIssueToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(internalLimiter))

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Put("/", s.handleUpdateUser)
				})
			})

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", s.handleListCampaigns)
				r.Post("/", s.handleCreateCampaign)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCampaign)
					r.Put("/", s.handleUpdateCampaign)
					r.Delete("/", s.handleDeleteCampaign)

					r.Get("/contacts", s.handleListContacts)
					r.Post("/contacts", s.handleCreateContact)
					r.Post("/contacts/bulk", s.handleBulkCreateContacts)

					r.Get("/menu", s.handleGetMenu)
					r.Put("/menu", s.handleUpsertMenu)
					r.Delete("/menu", s.handleDeleteMenu)

					r.Get("/commitments", s.handleListCampaignCommitments)
				})
			})

			r.Route("/contacts/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetContact)
				r.Get("/commitments", s.handleListContactCommitments)
			})

			r.Route("/budgets/{userID}", func(r chi.Router) {
				r.Get("/", s.handleGetBudget)
				r.Put("/", s.handleUpsertBudget)
			})

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.handleListAgents)
				r.Post("/{id}/register", s.handleRegisterAgent)
				r.Put("/{id}/status", s.handleSetAgentStatus)
				r.Post("/{id}/spy", s.handleSpyAgent)
				r.Post("/spy/{channelID}/stop", s.handleStopSpy)
				r.Get("/{id}/events", s.handleListAgentEvents)
			})
		})
	})
}

// handleHealth is an unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebsocket authenticates a dashboard websocket connection using a
// bearer token passed as a query parameter, then hands the connection off
// to the push hub.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID, isAdmin, ok := s.authenticateWebsocket(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	if err := s.hub.ServeWS(w, r, userID, isAdmin); err != nil {
		writeError(w, http.StatusInternalServerError, "websocket upgrade failed")
	}
}
