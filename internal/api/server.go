// ABOUTME: HTTP server struct, constructor, and handler wiring for the marketing jobs service.
// ABOUTME: chi middleware stack, /healthz, /metrics, and the huma job API under /api/v1.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

// RunnerFactory builds a fresh worker runner for one trigger invocation.
// Each invocation gets its own worker id, so overlapping runs stay
// distinguishable in claimed_by.
type RunnerFactory func() *worker.Runner

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store        *store.Store
	newRunner    RunnerFactory
	triggerToken string
}

// NewServer creates a Server. triggerToken may be empty to leave the API
// unauthenticated (local development only).
func NewServer(s *store.Store, newRunner RunnerFactory, triggerToken string) *Server {
	return &Server{
		store:        s,
		newRunner:    newRunner,
		triggerToken: triggerToken,
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// ── Security headers ──────────────────────────────────────────────────────
	// Must be first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	// ── Standard chi middleware ───────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit. Job payloads are small; batch enqueues of a few
	// hundred entries still fit comfortably.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	if srv.triggerToken != "" {
		apiRouter.Use(requireBearer(srv.triggerToken))
	}
	humaConfig := huma.DefaultConfig("Arcvest Marketing Jobs API", "0.1.0")
	humaConfig.Info.Description = "Background job queue and content pipeline for the marketing dashboard"
	api := humachi.New(apiRouter, humaConfig)
	registerJobRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)

	return r
}

// requireBearer guards the API with a single shared-secret bearer token. The
// dashboard backend and the scheduler are the only callers; there are no
// per-user identities on this surface.
func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
