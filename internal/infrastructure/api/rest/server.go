// Package rest exposes the submission API spec.md §6 pins: job
// submission, status polling, listing, and cancellation, plus an
// additive websocket status stream. Grounded on the teacher's
// internal/infrastructure/api/rest/server.go (Server{store, mux,
// logger} wrapping a router, one handler method per resource) but
// replacing its raw http.ServeMux with go-chi/chi/v5 so path
// parameters like {jobId} don't need the Go 1.22 ServeMux pattern
// syntax the teacher relied on, and layering go-chi/cors and
// go-playground/validator/v10 on top, per SPEC_FULL.md's domain stack.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/websocket"
	"github.com/smilemakc/codegen-orchestrator/internal/jobmanager"
)

// Server wires JobManager and the websocket Hub behind an HTTP router.
type Server struct {
	jobs *jobmanager.JobManager
	hub  *websocket.Hub
	log  zerolog.Logger

	validate *validator.Validate
	auth     *bearerAuth

	router chi.Router
}

// NewServer builds a Server. jwtSecret gates POST /cancel/{jobId} behind
// bearer auth when non-empty; an empty secret leaves cancellation open,
// matching the teacher's NoAuth fallback for environments that handle
// authentication at an upstream proxy.
func NewServer(jobs *jobmanager.JobManager, hub *websocket.Hub, log zerolog.Logger, jwtSecret string) *Server {
	s := &Server{
		jobs:     jobs,
		hub:      hub,
		log:      log,
		validate: validator.New(),
	}
	if jwtSecret != "" {
		s.auth = newBearerAuth(jwtSecret)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(recoveryMiddleware(s.log))
	r.Use(loggingMiddleware(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		MaxAge:           3600,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/orchestrate", s.handleOrchestrate)
	r.Get("/status/{jobId}", s.handleStatus)
	r.Get("/status/{jobId}/stream", s.handleStream)
	r.Get("/jobs", s.handleJobs)
	r.With(s.requireAuth).Post("/cancel/{jobId}", s.handleCancel)

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
