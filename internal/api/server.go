package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reachkit/reachkit/internal/campaign"
	"github.com/reachkit/reachkit/internal/config"
	"github.com/reachkit/reachkit/internal/metrics"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
	"github.com/reachkit/reachkit/internal/template"
	"github.com/reachkit/reachkit/internal/webhook"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	campaigns  *campaign.Service
	templates  *template.Service
	reconciler *webhook.Reconciler
	providers  *repository.ProviderRepository
	contacts   *repository.ContactRepository

	config    *config.ServerConfig
	logger    *slog.Logger
	startTime time.Time

	// newAdapter is swappable for tests
	newAdapter campaign.AdapterFactory
}

// NewServer creates a new API server
func NewServer(
	campaigns *campaign.Service,
	templates *template.Service,
	reconciler *webhook.Reconciler,
	providers *repository.ProviderRepository,
	contacts *repository.ContactRepository,
	cfg *config.ServerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		campaigns:  campaigns,
		templates:  templates,
		reconciler: reconciler,
		providers:  providers,
		contacts:   contacts,
		config:     cfg,
		logger:     logger,
		startTime:  time.Now(),
		newAdapter: provider.New,
	}

	s.setupRoutes(m)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(m *metrics.Metrics) {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(chimw.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	s.router.Get("/health", s.handleHealth)
	if m != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	// Gateway-facing endpoints, path-scoped by organization
	s.router.Route("/webhooks/{orgID}", func(r chi.Router) {
		r.Get("/", s.handleWebhookVerify)
		r.Post("/", s.handleWebhookEvent)
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.orgMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCampaignCreate)
			r.Get("/", s.handleCampaignList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleCampaignGet)
				r.Put("/", s.handleCampaignUpdate)
				r.Delete("/", s.handleCampaignDelete)
				r.Post("/duplicate", s.handleCampaignDuplicate)
				r.Post("/send", s.handleCampaignSend)
				r.Post("/schedule", s.handleCampaignSchedule)
				r.Post("/pause", s.handleCampaignPause)
				r.Post("/resume", s.handleCampaignResume)
				r.Post("/cancel", s.handleCampaignCancel)
				r.Get("/analytics", s.handleCampaignAnalytics)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", s.handleTemplateSubmit)
			r.Get("/", s.handleTemplateList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleTemplateGet)
				r.Put("/", s.handleTemplateUpdate)
				r.Delete("/", s.handleTemplateDelete)
				r.Post("/approve", s.handleTemplateApprove)
				r.Post("/reject", s.handleTemplateReject)
			})
		})

		r.Route("/providers", func(r chi.Router) {
			r.Post("/", s.handleProviderCreate)
			r.Get("/", s.handleProviderGet)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleProviderUpdate)
				r.Delete("/", s.handleProviderDelete)
				r.Post("/test", s.handleProviderTest)
			})
		})
	})
}

// Router exposes the configured handler. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous sends can outlive normal request budgets
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}
