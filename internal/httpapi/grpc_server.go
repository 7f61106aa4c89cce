package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"helpdesk.org/internal/obs"
)

// HealthServer publishes the readiness probe through the standard gRPC
// health service, both for the empty service name and for serviceName.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	log       *zap.Logger
}

// NewHealthServer creates the health service. Status starts as NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HealthServer{srv: health.NewServer(), readiness: r, log: log}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to g.
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
}

// Refresh runs the readiness probe once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	if err != nil {
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx is done.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		if err := s.Refresh(probeCtx); err != nil && ctx.Err() == nil {
			s.log.Warn("readiness probe failed", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (s *HealthServer) Shutdown() {
	s.srv.Shutdown()
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.srv.SetServingStatus("", status)
	s.srv.SetServingStatus(serviceName, status)
}
