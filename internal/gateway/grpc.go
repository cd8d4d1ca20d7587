// ABOUTME: gRPC server exposing the standard grpc.health.v1 service
// ABOUTME: Serving status follows whether any inference provider is registered

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "workflow-gateway"

func newGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// registerHealth registers the health service and publishes the initial
// status for both the server as a whole and HealthService.
func registerHealth(server *grpc.Server, ready bool) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	setHealth(hs, ready)
	return hs
}

func setHealth(hs *health.Server, ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(HealthService, status)
}
