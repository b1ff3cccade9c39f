package api

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/squeakview/internal/monitoring"
)

// PipelineService is the health service name reported for the pipeline.
const PipelineService = "squeakview.Pipeline"

// Health serves the standard gRPC health protocol. The pipeline service
// reports NOT_SERVING until SetServing(true).
type Health struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartHealth listens on addr and serves health checks in the background.
func StartHealth(addr string) (*Health, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	h := &Health{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		listener: lis,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_NOT_SERVING)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Opsf("[HEALTH] gRPC health listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil {
			monitoring.Opsf("[HEALTH] gRPC server error: %v", err)
		}
	}()
	return h, nil
}

// Addr is the bound listen address.
func (h *Health) Addr() string { return h.listener.Addr().String() }

// SetServing flips the pipeline service status.
func (h *Health) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(PipelineService, status)
}

// Stop marks everything not serving and stops the server gracefully.
func (h *Health) Stop() {
	h.stopOnce.Do(func() {
		h.health.Shutdown()
		h.server.GracefulStop()
		h.wg.Wait()
		monitoring.Opsf("[HEALTH] gRPC health stopped")
	})
}
