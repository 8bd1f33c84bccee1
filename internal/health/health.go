// Package health exposes the server's readiness over the standard gRPC
// health checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the per-service status key next to the overall "" status.
const ServiceName = "sidekick"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the check loop.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Server runs a gRPC health service whose status follows a Pinger.
type Server struct {
	cfg    Config
	db     Pinger
	grpc   *grpc.Server
	health *health.Server

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a health server. It reports NOT_SERVING until the first check.
func New(db Pinger, cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		cfg:    cfg,
		db:     db,
		grpc:   gs,
		health: hs,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve checks the dependency and serves health checks on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	go s.checkLoop()
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

func (s *Server) checkLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Check(context.Background())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Check(context.Background())
		}
	}
}

// Check pings the dependency once and updates the serving status.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Shutdown marks every service NOT_SERVING and stops the server.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}
