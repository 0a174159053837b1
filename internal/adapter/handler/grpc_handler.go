package handler

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/pos-register/internal/core/domain"
)

// ServiceName is the gRPC health service name reported by the register.
const ServiceName = "pos.register"

// GRPCHandler exposes grpc.health.v1. The register reports NOT_SERVING until
// the first catalog has been loaded.
type GRPCHandler struct {
	health *health.Server
	logger *zap.Logger
}

// CatalogNotifier is satisfied by the catalog service.
type CatalogNotifier interface {
	OnChange(fn func(domain.Catalog))
	Loaded() bool
}

func NewGRPCHandler(catalog CatalogNotifier, logger *zap.Logger) *GRPCHandler {
	h := &GRPCHandler{
		health: health.NewServer(),
		logger: logger.Named("grpc"),
	}
	h.setServing(catalog.Loaded())
	catalog.OnChange(func(domain.Catalog) {
		h.setServing(catalog.Loaded())
	})
	return h
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.health)
}

// Shutdown flips every service to NOT_SERVING ahead of GracefulStop.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

func (h *GRPCHandler) setServing(loaded bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if loaded {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
