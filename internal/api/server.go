// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/vault-rebalancer/internal/logging"
	"github.com/vault-rebalancer/internal/market"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/storage"
)

// Service interfaces for dependency injection and testing

// ScheduleManagerInterface defines the schedule lifecycle operations the API exposes
type ScheduleManagerInterface interface {
	CreateJob(ctx context.Context, walletAddress, name, interval string) (*models.ScheduledJob, error)
	FindJobByID(ctx context.Context, id string) (*models.ScheduledJob, error)
	ListJobsByWallet(ctx context.Context, walletAddress string) ([]*models.ScheduledJob, error)
	EnableJob(ctx context.Context, walletAddress string) (*models.ScheduledJob, error)
	DisableJob(ctx context.Context, walletAddress string) (*models.ScheduledJob, error)
	EditJob(ctx context.Context, walletAddress, newInterval string) (*models.ScheduledJob, error)
	CancelJob(ctx context.Context, walletAddress, receiverAddress string) (*models.SwapRecord, error)
}

// SwapListerInterface defines ledger read operations
type SwapListerInterface interface {
	ListBySchedule(ctx context.Context, scheduleID string, limit, skip int) ([]*models.SwapRecord, error)
	ListByWallet(ctx context.Context, walletAddress string, limit, skip int) ([]*models.SwapRecord, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	manager     ScheduleManagerInterface
	swaps       SwapListerInterface
	vaultSource market.VaultSource
	cache       *storage.CacheService
	logger      *logging.Logger
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	ChainID           int64
	AssetSymbol       string
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	manager ScheduleManagerInterface,
	swaps SwapListerInterface,
	vaultSource market.VaultSource,
	cache *storage.CacheService,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		manager:     manager,
		swaps:       swaps,
		vaultSource: vaultSource,
		cache:       cache,
		logger:      logger.WithField("component", "api"),
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(s.config.RequestsPerSecond))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Schedule endpoints, authenticated by wallet header
	api.HandleFunc("/schedule", s.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedule", s.handleListSchedules).Methods("GET")
	api.HandleFunc("/schedule/{id}", s.handleEditSchedule).Methods("PUT")
	api.HandleFunc("/schedule/{id}/enable", s.handleEnableSchedule).Methods("PUT")
	api.HandleFunc("/schedule/{id}/disable", s.handleDisableSchedule).Methods("PUT")
	api.HandleFunc("/schedule/{id}", s.handleCancelSchedule).Methods("DELETE")
	api.HandleFunc("/schedule/{id}/swaps", s.handleListSwaps).Methods("GET")
	api.HandleFunc("/swap", s.handleListWalletSwaps).Methods("GET")

	// Strategy endpoints, unauthenticated reads
	api.HandleFunc("/strategy/top", s.handleTopVault).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vault-rebalancer",
	})
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
