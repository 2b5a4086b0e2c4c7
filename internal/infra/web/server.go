package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"appforge/internal/usecase"
)

// Server exposes the orchestrator over HTTP: job creation, point-in-time
// status, the per-job SSE progress stream, iterations and preview control.
type Server struct {
	genUC     *usecase.GenerationUseCase
	previewUC *usecase.PreviewUseCase
	secret    []byte
	log       *zerolog.Logger
}

func NewServer(genUC *usecase.GenerationUseCase, previewUC *usecase.PreviewUseCase, authSecret string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		genUC:     genUC,
		previewUC: previewUC,
		secret:    []byte(authSecret),
		log:       &l,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/jobs", s.handleCreateJob)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/events", s.handleEvents)
			r.Post("/iterations", s.handleIterate)
			r.Post("/preview", s.handleStartPreview)
			r.Delete("/preview", s.handleStopPreview)
			r.Delete("/progress", s.handleCleanupProgress)
		})
	})
	return r
}
