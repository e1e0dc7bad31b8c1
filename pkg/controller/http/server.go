package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/howler-bot/howler/pkg/domain/model/alert"
)

// UseCase is the slice of the lifecycle engine the HTTP surface needs.
type UseCase interface {
	Ingest(ctx context.Context, ev alert.Event) (*alert.Alert, error)
}

// HealthChecker reports whether the escalation clock loop is still ticking.
type HealthChecker interface {
	Alive(now time.Time, staleness time.Duration) bool
}

type Server struct {
	router    *chi.Mux
	uc        UseCase
	health    HealthChecker
	staleness time.Duration
}

type Options func(*Server)

// WithHealthChecker wires the liveness endpoint to the escalation loop.
// Without it /health only confirms the process is serving requests.
func WithHealthChecker(hc HealthChecker, staleness time.Duration) Options {
	return func(s *Server) {
		s.health = hc
		s.staleness = staleness
	}
}

func New(uc UseCase, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		uc:     uc,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(loggingMiddleware)
	r.Use(panicRecoveryMiddleware)

	r.Route("/hooks", func(r chi.Router) {
		r.Route("/alert", func(r chi.Router) {
			r.Post("/{schema}", alertHookHandler(s.uc))
		})
	})

	r.Get("/health", healthHandler(s))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
