// ABOUTME: HTTP API surface for the dashboard: routing, middleware, server setup.
// ABOUTME: Serves filtered views, metrics summaries, exports, and ingestion triggers.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PreethamGoud/SecureWatch/internal/loader"
	"github.com/PreethamGoud/SecureWatch/internal/metrics"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RecordProvider reads the full flattened dataset out of the store.
type RecordProvider interface {
	GetAll() ([]types.FlatVulnerability, error)
}

// Loader is the slice of the DataLoader the API depends on.
type Loader interface {
	State() loader.State
	CachedMetrics() (*types.Metrics, error)
	StoreSize() (int64, error)
	IsDataAvailable() (bool, error)
	LoadFromURL(ctx context.Context, url string) error
	LoadFromFile(ctx context.Context, path string) error
}

// Server wires the query engine and loader into the HTTP API.
type Server struct {
	records RecordProvider
	loader  Loader
	logger  *logrus.Logger
}

// NewServer creates the API server over the given record source and loader.
func NewServer(records RecordProvider, ld Loader, logger *logrus.Logger) *Server {
	return &Server{records: records, loader: ld, logger: logger}
}

// Router builds the full route table. The dashboard frontend is a cross-origin
// consumer, so the API answers CORS preflight and compresses responses.
func (s *Server) Router(metricsProvider metrics.DatasetProvider) http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequest)
	router.Use(securityHeaders)

	apiV1 := router.PathPrefix("/api/v1").Subrouter()
	apiV1.Methods(http.MethodGet).Path("/vulnerabilities").HandlerFunc(s.handleVulnerabilities)
	apiV1.Methods(http.MethodGet).Path("/vulnerabilities/suggestions").HandlerFunc(s.handleSuggestions)
	apiV1.Methods(http.MethodGet).Path("/vulnerabilities/high-priority").HandlerFunc(s.handleHighPriority)
	apiV1.Methods(http.MethodGet).Path("/metrics").HandlerFunc(s.handleMetricsSummary)
	apiV1.Methods(http.MethodGet).Path("/status").HandlerFunc(s.handleStatus)
	apiV1.Methods(http.MethodGet).Path("/export/{format:csv|json}").HandlerFunc(s.handleExport)
	apiV1.Methods(http.MethodPost).Path("/load").HandlerFunc(s.handleLoad)

	router.Methods(http.MethodGet).Path("/metrics").Handler(metrics.CreateHandler(metricsProvider, s.logger))
	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return cors(handlers.CompressHandler(router))
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int, metricsProvider metrics.DatasetProvider) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(metricsProvider),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("port", port).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request received")
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
