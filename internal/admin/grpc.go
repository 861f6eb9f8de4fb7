package admin

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service; the empty name reports the
// same status.
const ServiceName = "ephemeris"

// NewHealth returns a health server reporting NOT_SERVING until SetServing.
func NewHealth() *health.Server {
	h := health.NewServer()
	setServing(h, false)
	return h
}

func setServing(h *health.Server, ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(ServiceName, status)
}

// NewGRPCServer returns a gRPC server exposing h, traced with otelgrpc and
// counted by the given interceptors.
func NewGRPCServer(h healthpb.HealthServer, interceptors ...grpc.UnaryServerInterceptor) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	healthpb.RegisterHealthServer(srv, h)
	return srv
}
