package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thiagokokada/gitk-web/internal/git"
	"github.com/thiagokokada/gitk-web/internal/highlight"
)

type Server struct {
	repo        git.Querier
	highlighter *highlight.Highlighter
	sanitizer   *bluemonday.Policy
	registry    *prometheus.Registry
	metrics     *metrics
	router      chi.Router
}

// New builds the HTTP surface over repo. Metrics are registered on a
// registry owned by the server.
func New(repo git.Querier, highlighter *highlight.Highlighter) *Server {
	if highlighter == nil {
		highlighter = highlight.New("", false)
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		repo:        repo,
		highlighter: highlighter,
		sanitizer:   bluemonday.UGCPolicy(),
		registry:    reg,
		metrics:     newMetrics(reg, repo),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLoggingMiddleware)
	r.Use(s.metrics.middleware)

	r.Get("/", s.handleIndex)
	r.Get("/log/*", s.handleLog)
	r.Get("/remote/{remote}/branches", s.handleRemoteBranches)
	r.Patch("/checkout/*", s.handleCheckout)
	r.Route("/commit/{sha}", func(r chi.Router) {
		r.Get("/", s.handleCommit)
		r.Get("/diff", s.handleDiff)
		r.Get("/file", s.handleFile)
		r.Get("/file/*", s.handleFile)
		r.Get("/readme", s.handleReadme)
	})
	r.Get("/assets/highlight.css", s.handleHighlightCSS)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler(s.registry))

	s.router = r
}
