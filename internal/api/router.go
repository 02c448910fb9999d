package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds everything the router's handlers need.
type Dependencies struct {
	Auth       *Authenticator
	Projects   ProjectReader
	Activation Activator
	Dispatcher services.Dispatcher
	Reports    ReportStarter
	Chat       ChatResponder
	Guard      ReportGuard
	Log        *slog.Logger
	Heartbeat  time.Duration
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	guard := deps.Guard
	if guard == nil {
		guard = NewMemoryReportGuard()
	}
	h := &Handlers{
		projects:   deps.Projects,
		activation: deps.Activation,
		dispatcher: deps.Dispatcher,
		reports:    deps.Reports,
		chat:       deps.Chat,
		guard:      guard,
		log:        log,
		heartbeat:  deps.Heartbeat,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Post("/api/v1/sessions/guest", h.IssueGuestSession)

	r.Route("/api/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(deps.Auth.Identify)

		r.Get("/documents/status", h.DocumentStatuses)
		r.Post("/documents/activate", h.ActivateProject)
		r.Post("/documents/{documentID}/activate", h.ActivateDocument)
		r.Get("/reports/{kind}/stream", h.StreamReport)
		r.Post("/chat", h.Chat)
	})

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
