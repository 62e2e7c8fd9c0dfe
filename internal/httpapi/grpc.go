package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"uyim.org/internal/obs"
)

// GRPCServer exposes the standard gRPC health protocol backed by the same
// readiness probe the HTTP /readyz endpoint uses.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	probe ReadyProbe
}

// NewGRPCServer creates the gRPC health service wrapper.
func NewGRPCServer(probe ReadyProbe) *GRPCServer {
	return &GRPCServer{probe: probe}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, s)
}

// Check evaluates readiness. On failure returns NOT_SERVING.
func (s *GRPCServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}
