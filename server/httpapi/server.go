package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maillens/maillens/consts"
	"github.com/maillens/maillens/db"
	"github.com/maillens/maillens/ingest"
	"github.com/maillens/maillens/logger"
	"github.com/maillens/maillens/pkg/metrics"
)

// Server exposes the ingestion controller and the message store over HTTP.
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	database     *db.Database
	runner       *ingest.Runner
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP API server.
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
}

// New creates a new HTTP API server. An empty APIKey disables
// authentication, which is the expected mode for a localhost-only tool.
func New(database *db.Database, runner *ingest.Runner, options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("listen address is required for HTTP API server")
	}
	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		database:     database,
		runner:       runner,
	}, nil
}

// Start runs the server until ctx is cancelled, reporting startup and
// serve failures on errChan.
func Start(ctx context.Context, database *db.Database, runner *ingest.Runner, options ServerOptions, errChan chan error) {
	server, err := New(database, runner, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("starting HTTP API server", "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down HTTP API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.metricsMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	// API v1 routes; authentication only applies here so /healthz and
	// /metrics stay reachable for probes and scrapers.
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/ingest", s.handleStartIngest).Methods("POST")
	v1.HandleFunc("/ingest/cancel", s.handleCancelIngest).Methods("POST")
	v1.HandleFunc("/ingest/progress", s.handleIngestProgress).Methods("GET")

	v1.HandleFunc("/messages", s.handleListMessages).Methods("GET")
	v1.HandleFunc("/search", s.handleSearchMessages).Methods("GET")

	v1.HandleFunc("/stats/overview", s.handleStatsOverview).Methods("GET")
	v1.HandleFunc("/stats/top-senders", s.handleTopSenders).Methods("GET")
	v1.HandleFunc("/stats/dormant-senders", s.handleDormantSenders).Methods("GET")
	v1.HandleFunc("/stats/recipient-buckets", s.handleRecipientBuckets).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			// Check CIDR blocks
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Try X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Request/Response types

type StartIngestRequest struct {
	Path  string `json:"path"`
	Limit int    `json:"limit,omitempty"`
}

// Handler functions

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.database.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req StartIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "Path is required")
		return
	}

	err := s.runner.Start(req.Path, req.Limit)
	if err != nil {
		if errors.Is(err, consts.ErrIngestAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "An ingestion job is already running")
			return
		}
		if errors.Is(err, consts.ErrNotADirectory) {
			s.writeError(w, http.StatusBadRequest, "Path is not a directory")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCancelIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Cancel(); err != nil {
		if errors.Is(err, consts.ErrIngestNotRunning) {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
			return
		}
		logger.Error("error cancelling ingestion", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to cancel ingestion")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"progress": s.runner.Progress(),
		"running":  s.runner.Running(),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	messages, err := s.database.ListMessages(r.Context(), limit)
	if err != nil {
		logger.Error("error listing messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error listing messages")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"total":    len(messages),
	})
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	limit := queryInt(r, "limit", 50)
	messages, err := s.database.SearchMessages(r.Context(), query, limit)
	if err != nil {
		// FTS5 rejects malformed match expressions; treat those as a
		// client error rather than a server failure.
		s.writeError(w, http.StatusBadRequest, "Invalid search query")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"total":    len(messages),
	})
}

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.database.GetOverview(r.Context())
	if err != nil {
		logger.Error("error computing overview", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error computing overview")
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleTopSenders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	senders, err := s.database.GetTopSenders(r.Context(), limit)
	if err != nil {
		logger.Error("error computing top senders", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error computing top senders")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"senders": senders,
		"total":   len(senders),
	})
}

func (s *Server) handleDormantSenders(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 365)
	limit := queryInt(r, "limit", 20)
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	senders, err := s.database.GetDormantSenders(r.Context(), cutoff, limit)
	if err != nil {
		logger.Error("error computing dormant senders", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error computing dormant senders")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"senders":   senders,
		"cutoff_ts": cutoff,
		"total":     len(senders),
	})
}

func (s *Server) handleRecipientBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.database.GetRecipientBuckets(r.Context())
	if err != nil {
		logger.Error("error computing recipient buckets", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error computing recipient buckets")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"buckets": buckets,
		"total":   len(buckets),
	})
}
