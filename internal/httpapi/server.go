package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
)

// Server is the HTTP ingress layer (C0). It owns routing and request
// validation only; every operation it exposes is delegated to the narrow
// Deps interfaces.
type Server struct {
	deps   Deps
	router chi.Router
}

// New constructs a Server wired to deps and builds its route table.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(requestLogMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/healthz", s.withMetrics("/healthz", s.handleHealthz))
	r.Handle("/metrics", obsmetrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/jobs", s.withMetrics("/v1/jobs", s.handleSubmit))
		r.Get("/jobs/{jobID}", s.withMetrics("/v1/jobs/{jobID}", s.handleStatus))
		r.Post("/jobs/{jobID}/cancel", s.withMetrics("/v1/jobs/{jobID}/cancel", s.handleCancel))

		r.Route("/admin", func(r chi.Router) {
			r.Get("/dead-letters", s.withMetrics("/v1/admin/dead-letters", s.handleListDeadLetters))
			r.Post("/cache/invalidate", s.withMetrics("/v1/admin/cache/invalidate", s.handleInvalidateCache))
			r.Get("/cache/stats", s.withMetrics("/v1/admin/cache/stats", s.handleCacheStats))
			r.Get("/queue/stats", s.withMetrics("/v1/admin/queue/stats", s.handleQueueStats))
			r.Get("/rate-limit/status", s.withMetrics("/v1/admin/rate-limit/status", s.handleRateLimitStatus))
			r.Post("/sessions", s.withMetrics("/v1/admin/sessions", s.handleCreateSession))
			r.Delete("/sessions/{sessionID}", s.withMetrics("/v1/admin/sessions/{sessionID}", s.handleRevokeSession))
			r.Post("/credentials", s.withMetrics("/v1/admin/credentials", s.handleCreateCredential))
			r.Get("/credentials", s.withMetrics("/v1/admin/credentials", s.handleListCredentials))
			r.Delete("/credentials/{credentialID}", s.withMetrics("/v1/admin/credentials/{credentialID}", s.handleDeactivateCredential))
		})
	})

	return r
}

// withMetrics wraps a handler with route-scoped request metrics, using the
// chi route pattern (not the concrete path) as the label.
func (s *Server) withMetrics(pattern string, h http.HandlerFunc) http.HandlerFunc {
	return metricsMiddleware(pattern, h)
}
