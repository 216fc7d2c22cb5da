package transportgrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/security"
	grpcinterceptors "github.com/Ozonelabrada/resqhub-sub000/internal/transport/grpc/interceptors"
)

func startTestServer(t *testing.T, deps ServerDependencies) (*Server, healthpb.HealthClient) {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := NewServer(deps)
	go func() {
		_ = server.Serve(listener)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return server, healthpb.NewHealthClient(conn)
}

func TestHealthFollowsLifecycle(t *testing.T) {
	verifier, err := security.NewTokenVerifier("grpc-secret", "")
	if err != nil {
		t.Fatalf("NewTokenVerifier returned error: %v", err)
	}
	server, client := startTestServer(t, ServerDependencies{
		Tokens:  verifier,
		Tracing: grpcinterceptors.NewTracingInterceptor(grpcinterceptors.TracingOptions{}),
		Logger:  zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check without token should be allowed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %v", resp.GetStatus())
	}

	server.MarkServing()

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown service, got %v", err)
	}
}
