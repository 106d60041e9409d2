// Package server builds the control plane's gRPC server.
package server

import (
	"cdr.dev/slog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	healthhandler "hotspot-control-plane/backend/internal/health/handler"
	"hotspot-control-plane/backend/internal/server/interceptors"
)

// quietMethods are health probes, logged only on failure.
var quietMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
}

// New returns a gRPC server with tracing, logging and panic recovery, serving health and reflection.
func New(health *healthhandler.Server, logger slog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoverUnary(logger),
			interceptors.LoggingUnary(logger, quietMethods),
		),
	)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the health service and reflection.
func RegisterServices(s reflection.GRPCServer, health *healthhandler.Server) {
	if health != nil {
		health.Register(s)
	}
	reflection.Register(s)
}
