// Package server exposes queue liveness over the standard gRPC health protocol.
package server

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
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the queue.
const ServiceName = "genqueue.Queue"

// DefaultPollInterval is how often queue liveness is re-checked.
const DefaultPollInterval = time.Second

// StatusSource reports whether the queue is accepting and running work.
type StatusSource interface {
	Running() bool
}

// Server is a gRPC server carrying the health and reflection services.
type Server struct {
	source   StatusSource
	grpc     *grpc.Server
	health   *health.Server
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	serving bool
	stopped bool
}

// NewServer creates a server; interval <= 0 uses DefaultPollInterval.
func NewServer(source StatusSource, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		source:   source,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		interval: interval,
		log:      logger.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setServing(false)
	return s
}

// Serve polls the queue status and serves on lis until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watch(watchCtx)
	go func() {
		<-watchCtx.Done()
		s.Stop()
	}()

	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh 依 Queue 狀態更新健康狀態（只在變化時寫入）
func (s *Server) refresh() {
	running := s.source.Running()

	s.mu.Lock()
	changed := running != s.serving
	s.mu.Unlock()
	if changed {
		s.setServing(running)
	}
}

func (s *Server) setServing(serving bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.serving = serving
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.log.Debug("health status changed", "serving", serving)
}
