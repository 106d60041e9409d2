// Package handler serves the gRPC health protocol for the control plane.
package handler

import (
	"context"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DeviceService is the health service name that reflects router reachability.
// The overall ("") status does not depend on it: the control plane keeps serving
// stored state while the router is down.
const DeviceService = "hotspot.device"

// checkTimeout bounds one round of checks.
const checkTimeout = 5 * time.Second

// Pinger checks the database (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DeviceChecker checks the router connection.
type DeviceChecker interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks the pricing policy evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wraps the standard gRPC health server and refreshes its statuses from the checks.
// Nil checkers are skipped.
type Server struct {
	health *health.Server
	pinger Pinger
	device DeviceChecker
	policy PolicyChecker
	log    slog.Logger
}

// NewServer returns a Server. Statuses start as NOT_SERVING until the first Check.
func NewServer(pinger Pinger, device DeviceChecker, policy PolicyChecker, logger slog.Logger) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(DeviceService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{health: h, pinger: pinger, device: device, policy: policy, log: logger.Named("health")}
}

// Register adds the health service to s.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(reg, s.health)
}

// Check runs every check once and updates the statuses.
func (s *Server) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	overall := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			s.log.Warn(ctx, "database ping failed", slog.Error(err))
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.log.Warn(ctx, "pricing policy check failed", slog.Error(err))
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", overall)

	device := healthpb.HealthCheckResponse_SERVING
	if s.device != nil {
		if err := s.device.Ping(ctx); err != nil {
			s.log.Warn(ctx, "device unreachable", slog.Error(err))
			device = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(DeviceService, device)
}

// Run checks immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, clock quartz.Clock, interval time.Duration) error {
	s.Check(ctx)
	w := clock.TickerFunc(ctx, interval, func() error {
		s.Check(ctx)
		return nil
	}, "health")
	err := w.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the listener closes.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
