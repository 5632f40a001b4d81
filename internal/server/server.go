// Package server implements the Tusflow HTTP server and protocol route
// dispatcher.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/handlers"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
	"github.com/tusflow/tusflow/internal/upload"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds the store and backend pings of one health check.
const healthCheckTimeout = 5 * time.Second

// reaperTriggerHeader must be present on sweep requests; the route is meant
// for schedulers, not for public clients.
const reaperTriggerHeader = "X-Internal-Request"

// Server is the Tusflow HTTP server. It routes protocol requests to the
// upload handlers based on the request method and path.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	sessions   *session.Accessor
	coord      *storage.Coordinator
	handler    *handlers.Handler
	reaper     *upload.Reaper
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status  string            `json:"status" example:"ok" doc:"Overall health status"`
	Checks  map[string]string `json:"checks" doc:"Per-dependency status"`
	Version string            `json:"version" example:"1.0.0" doc:"Protocol version"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status       int
	HealthCheck  string `header:"X-Health-Check"`
	ResponseTime string `header:"X-Response-Time"`
	Body         HealthBody
}

// New creates a new Server and wires up all routes on the Chi router.
func New(cfg *config.Config, sessions *session.Accessor, coord *storage.Coordinator, handler *handlers.Handler, reaper *upload.Reaper) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Tusflow Upload API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		sessions: sessions,
		coord:    coord,
		handler:  handler,
		reaper:   reaper,
	}

	s.registerRoutes()
	return s
}

// Handler returns the server's full middleware-wrapped handler. Middleware
// chain: metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address. The returned
// http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics are registered first; the
// protocol catch-all under /files is registered last.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports reachability of the session store and the storage backend.",
		Tags:        []string{"System"},
	}, s.health)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/internal/reaper/sweep", s.reaperSweep)

	s.router.HandleFunc("/files", s.dispatch)
	s.router.HandleFunc("/files/*", s.dispatch)
}

// health pings the session store and the storage backend in parallel and
// reports 503 when either is down.
func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	started := time.Now()
	checks := map[string]string{"session_store": "up", "storage": "up"}

	storeErr := make(chan error, 1)
	backendErr := make(chan error, 1)
	go func() { storeErr <- s.sessions.Ping(ctx) }()
	go func() { backendErr <- s.coord.HealthCheck(ctx) }()

	healthy := true
	if err := <-storeErr; err != nil {
		checks["session_store"] = "down"
		healthy = false
	}
	if err := <-backendErr; err != nil {
		checks["storage"] = "down"
		healthy = false
	}

	out := &HealthOutput{
		Status:       http.StatusOK,
		HealthCheck:  "pass",
		ResponseTime: fmt.Sprintf("%dms", time.Since(started).Milliseconds()),
		Body: HealthBody{
			Status:  "ok",
			Checks:  checks,
			Version: handlers.TusVersion,
		},
	}
	if !healthy {
		out.Status = http.StatusServiceUnavailable
		out.HealthCheck = "fail"
		out.Body.Status = "degraded"
	}
	return out, nil
}

// reaperSweep triggers a stale-session sweep. The route is for schedulers
// and operators; requests without the trigger header are rejected.
func (s *Server) reaperSweep(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(reaperTriggerHeader) != "reaper" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	cleaned, failed := s.reaper.Sweep(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"cleaned": cleaned,
		"failed":  failed,
	})
}

// dispatch routes protocol requests under /files by HTTP method, honoring
// the X-HTTP-Method-Override header and gating non-OPTIONS requests on the
// protocol version.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	method := r.Method
	if override := r.Header.Get("X-HTTP-Method-Override"); override != "" {
		method = strings.ToUpper(override)
	}

	// OPTIONS is exempt from the version gate so clients can discover the
	// supported versions in the first place. A missing Tus-Resumable header
	// is tolerated and treated as the current version.
	if method != http.MethodOptions {
		if v := r.Header.Get("Tus-Resumable"); v != "" && !supportedVersion(v) {
			w.Header().Set("Tus-Version", handlers.TusVersion)
			tuserr.WriteError(w, r, tuserr.ErrUnsupportedVersion)
			return
		}
	}

	if r.URL.Path == "/files" || r.URL.Path == "/files/" {
		switch method {
		case http.MethodPost:
			s.handler.Create(w, r)
		case http.MethodOptions:
			s.handler.Capabilities(w, r)
		default:
			s.methodNotAllowed(w, "POST, OPTIONS")
		}
		return
	}

	switch method {
	case http.MethodHead:
		s.handler.Status(w, r)
	case http.MethodPatch:
		s.handler.Append(w, r)
	case http.MethodDelete:
		s.handler.Terminate(w, r)
	case http.MethodGet:
		if strings.HasSuffix(r.URL.Path, "/progress") {
			s.handler.Progress(w, r)
			return
		}
		tuserr.WriteError(w, r, tuserr.ErrNotFound)
	case http.MethodOptions:
		s.handler.Capabilities(w, r)
	default:
		s.methodNotAllowed(w, "HEAD, PATCH, DELETE, GET, OPTIONS")
	}
}

// supportedVersion reports whether any version in a comma-separated
// Tus-Resumable header matches the server's protocol version.
func supportedVersion(header string) bool {
	for _, v := range strings.Split(header, ",") {
		if strings.TrimSpace(v) == handlers.TusVersion {
			return true
		}
	}
	return false
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	w.WriteHeader(http.StatusMethodNotAllowed)
}
