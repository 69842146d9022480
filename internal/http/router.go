package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resource-rag/internal/handlers"
	"resource-rag/internal/metrics"
	"resource-rag/internal/service"
	"resource-rag/internal/storage"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Session      service.Session
	History      storage.DocumentStore // Optional; /api/resources is not mounted when nil
	HealthChecks []handlers.Check
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer // Source for /metrics; not mounted when nil
	IndexHTML    string              // Embedded HTML content
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(Metrics(deps.Metrics))
	}

	// Add CORS middleware
	r.Use(CORS)

	chatHandler := handlers.NewChatHandler(deps.Session)
	resourceHandler := handlers.NewResourceHandler(deps.Session)
	healthHandler := handlers.NewHealthHandler(deps.Session, deps.HealthChecks...)

	r.Method(http.MethodPost, "/resource", resourceHandler)
	r.Method(http.MethodPost, "/chat", chatHandler)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)
		r.Get("/prompt", chatHandler.LastPrompt)
		if deps.History != nil {
			resourcesHandler := handlers.NewResourcesHandler(deps.History)
			r.Get("/resources", resourcesHandler.List)
			r.Get("/resources/{id}", resourcesHandler.Get)
		}
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Serve HTML page at root
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(deps.IndexHTML))
	})

	return r
}
