package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"blocksentinel/internal/config"
	"blocksentinel/internal/database"
	"blocksentinel/internal/handlers"
	"blocksentinel/internal/ledger"
	"blocksentinel/internal/middleware"
	"blocksentinel/internal/verify"
)

// Server hosts the complaint ledger HTTP API and the gRPC health endpoint.
type Server struct {
	config *config.Config
	logger *zap.Logger
	db     *database.Database

	complaintHandler *handlers.ComplaintHandler
	verifyHandler    *handlers.VerifyHandler
	healthHandler    *handlers.HealthHandler

	router     *gin.Engine
	httpServer *http.Server
	grpcServer *grpc.Server

	healthServer *health.Server

	closers []func() error
}

// New creates a new server instance. db may be nil for the in-memory
// backend.
func New(cfg *config.Config, logger *zap.Logger, db *database.Database,
	ledgerSvc *ledger.Service, verifySvc *verify.Service) *Server {
	return &Server{
		config:           cfg,
		logger:           logger.Named("server"),
		db:               db,
		complaintHandler: handlers.NewComplaintHandler(ledgerSvc, logger),
		verifyHandler:    handlers.NewVerifyHandler(verifySvc, logger),
		healthHandler:    handlers.NewHealthHandler(db, logger),
	}
}

// OnShutdown registers a closer run after the servers stop.
func (s *Server) OnShutdown(closer func() error) {
	s.closers = append(s.closers, closer)
}

// Initialize sets up the HTTP and gRPC servers.
func (s *Server) Initialize() error {
	s.logger.Info("Initializing complaint ledger server")

	s.healthServer = health.NewServer()

	if err := s.initHTTPServer(); err != nil {
		return errors.Wrap(err, "failed to initialize HTTP server")
	}
	if err := s.initGRPCServer(); err != nil {
		return errors.Wrap(err, "failed to initialize gRPC server")
	}

	s.logger.Info("Server initialized successfully")
	return nil
}

func (s *Server) initHTTPServer() error {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.config.Debug {
		s.router.Use(gin.Logger())
	}

	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID, X-Actor-Role")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.logger.Info("HTTP server initialized", zap.Int("port", s.config.Server.HTTPPort))
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler.Health)
	s.router.GET("/health/ready", s.healthHandler.Ready)
	s.router.GET("/health/live", s.healthHandler.Live)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The evidence check is the public receipt page: anyone holding a hash
	// can confirm the ledger knows it, no credentials required.
	s.router.GET("/api/v1/evidence/:hash/verify", s.verifyHandler.VerifyEvidence)

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Auth(s.config.Auth, s.logger))
	{
		complaints := v1.Group("/complaints")
		{
			complaints.POST("", s.complaintHandler.Register)
			complaints.GET("", s.complaintHandler.List)
			complaints.GET("/:id", s.complaintHandler.Get)
			complaints.POST("/:id/assign", s.complaintHandler.AssignOfficer)
			complaints.POST("/:id/evidence", s.complaintHandler.AttachEvidence)
			complaints.POST("/:id/advance", s.complaintHandler.AdvanceToFIRPending)
			complaints.POST("/:id/fir", s.complaintHandler.AttachFIR)
			complaints.POST("/:id/complete", s.complaintHandler.MarkCompleted)
			complaints.POST("/:id/corrections", s.complaintHandler.RecordCorrection)
			complaints.GET("/:id/chain", s.complaintHandler.Chain)
			complaints.GET("/:id/evidence", s.complaintHandler.Evidence)
			complaints.GET("/:id/verify", s.verifyHandler.VerifyComplaint)
		}
	}
}

func (s *Server) initGRPCServer() error {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024 * 4),
		grpc.MaxSendMsgSize(1024 * 1024 * 4),
	}

	s.grpcServer = grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	if s.config.Debug {
		reflection.Register(s.grpcServer)
	}

	s.logger.Info("gRPC server initialized", zap.Int("port", s.config.Server.GRPCPort))
	return nil
}

// Start runs both servers until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting complaint ledger server")

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
		if err != nil {
			s.logger.Fatal("Failed to listen for gRPC", zap.Error(err))
		}

		s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info("Complaint ledger server started successfully")

	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown gracefully stops the servers and closes dependencies.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down complaint ledger server")

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	s.grpcServer.GracefulStop()

	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.logger.Error("Failed to close dependency", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Info("Complaint ledger server shutdown completed")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
