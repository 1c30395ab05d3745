package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP handlers
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))            // Live job updates, search, ask
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))           // Liveness probe
	s.mux.HandleFunc("/api/status", s.corsMiddleware(s.HandleStatus))       // Version, counts, queue, memory
	s.mux.HandleFunc("/api/search", s.corsMiddleware(s.HandleSearch))       // Semantic search (GET)
	s.mux.HandleFunc("/api/ask", s.corsMiddleware(s.HandleAsk))             // Retrieval-augmented answer (POST)
	s.mux.HandleFunc("/api/artifacts", s.corsMiddleware(s.HandleArtifacts)) // List artifacts (GET)
	s.mux.HandleFunc("/api/artifacts/", s.corsMiddleware(s.HandleArtifact)) // Artifact and sub-resources (GET)
	s.mux.HandleFunc("/api/ingest", s.corsMiddleware(s.HandleIngest))       // Enqueue ingestion (POST)
	s.mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))           // List jobs (GET)
	s.mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.HandleJob))           // Job detail (GET) and cancel (DELETE)
	s.mux.HandleFunc("/api/usage", s.corsMiddleware(s.HandleUsage))         // Model usage and budget (GET)
	s.mux.HandleFunc("/api/watchers", s.corsMiddleware(s.HandleWatchers))   // List/create watchers (GET/POST)
	s.mux.HandleFunc("/api/watchers/", s.corsMiddleware(s.HandleWatchers))  // Watcher CRUD (GET/PUT/DELETE /api/watchers/{id})
	s.mux.Handle("/metrics", promhttp.Handler())                            // Prometheus metrics
}

// corsMiddleware adds CORS headers to HTTP responses using configured
// allowed origins. Uses the same origin validation as WebSocket
// connections (server.allowed_origins config).
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Handler returns the server's HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}
