// Package admin serves the operator-facing gRPC endpoint: the standard
// health service and server reflection.
package admin

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/speeddrawer/server/internal/config"
	"github.com/speeddrawer/server/internal/observability"
)

// Server is the admin gRPC server.
type Server struct {
	cfg    config.AdminConfig
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates an admin server. Both the overall status and the
// service-specific status start as NOT_SERVING.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe or Serve.
func NewServer(cfg config.AdminConfig, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetServing(false)
	return s
}

// SetServing flips the reported health of the session layer.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(observability.ServiceName, status)
}

// Watch reports SERVING until done is closed, then NOT_SERVING. It is used
// to tie health to the session hub's event loop.
func (s *Server) Watch(done <-chan struct{}) {
	s.SetServing(true)
	go func() {
		<-done
		s.logger.Warn("session hub stopped, reporting not serving")
		s.SetServing(false)
	}()
}

// ListenAndServe listens on the configured address and serves until Stop.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("admin gRPC server listening",
		zap.String("addr", lis.Addr().String()),
	)
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
