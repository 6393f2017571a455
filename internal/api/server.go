// Package api provides the REST surface for evaluation, permission
// tickets, and group synchronization.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/groupsync"
	"github.com/uma-engine/go-core/internal/identity"
	"github.com/uma-engine/go-core/internal/metrics"
	"github.com/uma-engine/go-core/internal/permission"
	"github.com/uma-engine/go-core/internal/resource"
	"github.com/uma-engine/go-core/internal/ticket"
	"github.com/uma-engine/go-core/pkg/types"
)

// Server is the REST API server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config

	authorizer *permission.Authorizer
	tickets    *ticket.Manager
	reconciler *groupsync.Reconciler
	resources  resource.Store
	directory  identity.Directory
	builder    *identity.ContextBuilder
	metrics    metrics.Metrics
	serverID   string
}

// Config configures the REST API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
}

// DefaultConfig returns the default API server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodySize:  1 * 1024 * 1024, // 1MB
	}
}

// Deps carries the server's collaborators
type Deps struct {
	Authorizer *permission.Authorizer
	Tickets    *ticket.Manager
	Reconciler *groupsync.Reconciler
	Resources  resource.Store
	Directory  identity.Directory
	Builder    *identity.ContextBuilder
	Metrics    metrics.Metrics
	ServerID   string
}

// New creates the REST API server
func New(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if deps.Tickets == nil {
		return nil, fmt.Errorf("ticket manager is required")
	}
	if deps.Resources == nil {
		return nil, fmt.Errorf("resource store is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("identity directory is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		config:     cfg,
		authorizer: deps.Authorizer,
		tickets:    deps.Tickets,
		reconciler: deps.Reconciler,
		resources:  deps.Resources,
		directory:  deps.Directory,
		builder:    deps.Builder,
		metrics:    deps.Metrics,
		serverID:   deps.ServerID,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.maxBodySizeMiddleware)

	s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/evaluate", s.evaluate).Methods("POST")

	api.HandleFunc("/tickets", s.findTickets).Methods("GET")
	api.HandleFunc("/tickets", s.createTicket).Methods("POST")
	api.HandleFunc("/tickets", s.updateTicket).Methods("PUT")
	api.HandleFunc("/tickets/{id}", s.deleteTicket).Methods("DELETE")

	api.HandleFunc("/groups/sync/import", s.syncImport).Methods("POST")
	api.HandleFunc("/groups/sync/export", s.syncExport).Methods("POST")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping REST API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// respondDomainError maps the typed error kinds onto HTTP statuses
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, types.ErrAuthorization):
		s.respondError(w, http.StatusForbidden, "NOT_AUTHORISED", err.Error())
	case errors.Is(err, types.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, types.ErrConflict):
		s.respondError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, types.ErrConfiguration):
		s.respondError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
