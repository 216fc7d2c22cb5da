package transportgrpc

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/Ozonelabrada/resqhub-sub000/internal/transport/grpc/interceptors"
)

// ServiceName is the health-check name reported for the match workflow.
const ServiceName = "resqhub.matching"

// HealthMethods lists the probe RPCs that bypass authentication and tracing.
func HealthMethods() []string {
	return []string{
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	}
}

// ServerDependencies encapsulates collaborators of the gRPC server layer.
type ServerDependencies struct {
	Tokens        grpcinterceptors.TokenParser
	Metrics       *grpcinterceptors.GRPCMetrics
	Tracing       *grpcinterceptors.TracingInterceptor
	Logger        *zap.Logger
	PublicMethods []string // methods that don't require authentication
}

// Server bundles the gRPC server with its health service so the application can flip
// serving status with its lifecycle.
type Server struct {
	*grpc.Server
	health *health.Server
}

// NewServer builds the gRPC server. Health Check and Watch are always public.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	public := append(HealthMethods(), deps.PublicMethods...)

	unary := make([]grpc.UnaryServerInterceptor, 0, 3)
	stream := make([]grpc.StreamServerInterceptor, 0, 3)
	if deps.Tracing != nil {
		unary = append(unary, deps.Tracing.Unary())
		stream = append(stream, deps.Tracing.Stream())
	}
	if deps.Metrics != nil {
		unary = append(unary, deps.Metrics.UnaryServerInterceptor())
		stream = append(stream, deps.Metrics.StreamServerInterceptor())
	}
	if deps.Tokens != nil {
		authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Tokens, grpcinterceptors.AuthOptions{
			Logger:       logger,
			AllowMethods: public,
		})
		unary = append(unary, authInterceptor.UnaryServerInterceptor())
		stream = append(stream, authInterceptor.StreamServerInterceptor())
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// Reflection streams still pass through the auth interceptor.
	reflection.Register(server)

	return &Server{Server: server, health: healthServer}
}

// MarkServing flips the health status once dependencies are ready.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown reports NOT_SERVING to health watchers and stops accepting new RPCs.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
