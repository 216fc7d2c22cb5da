package interceptors

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/security"
)

type stubTokenParser struct {
	claims *security.AccessTokenClaims
	err    error
}

func (s *stubTokenParser) Parse(string) (*security.AccessTokenClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func TestAuthInterceptorAllowsValidTokens(t *testing.T) {
	claims := &security.AccessTokenClaims{UserID: "user-123"}
	parser := &stubTokenParser{claims: claims}
	interceptor := NewAuthInterceptor(parser, AuthOptions{Logger: zaptest.NewLogger(t)}).UnaryServerInterceptor()

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, ok := ClaimsFromContext(ctx)
		if !ok || got.UserID != "user-123" {
			t.Fatalf("claims missing from context")
		}
		return "ok", nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer token-value"))
	info := &grpc.UnaryServerInfo{FullMethod: "/test.v1.PrivateService/Action"}

	if _, err := interceptor(ctx, struct{}{}, info, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthInterceptorRejectsMissingToken(t *testing.T) {
	parser := &stubTokenParser{}
	interceptor := NewAuthInterceptor(parser, AuthOptions{}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/test.v1.PrivateService/Action"}
	if _, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatalf("handler should not be invoked")
		return nil, nil
	}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
}

func TestAuthInterceptorPassesThroughAllowedMethods(t *testing.T) {
	parser := &stubTokenParser{err: errors.New("should not be called")}
	interceptor := NewAuthInterceptor(parser, AuthOptions{AllowMethods: []string{"/grpc.health.v1.Health/Check"}}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "pong", nil
	}); err != nil {
		t.Fatalf("expected allowed method to succeed, got %v", err)
	}
}

func TestAuthInterceptorMapsExpiredTokens(t *testing.T) {
	parser := &stubTokenParser{err: security.ErrExpiredToken}
	interceptor := NewAuthInterceptor(parser, AuthOptions{}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/test.v1.PrivateService/Action"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer token"))
	if _, err := interceptor(ctx, struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatalf("handler should not be invoked")
		return nil, nil
	}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated for expired token, got %v", err)
	}
}

func TestAuthInterceptorMapsVerifierFailureToInternal(t *testing.T) {
	parser := &stubTokenParser{err: errors.New("key store unavailable")}
	interceptor := NewAuthInterceptor(parser, AuthOptions{Logger: zaptest.NewLogger(t)}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/test.v1.PrivateService/Action"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer token"))
	if _, err := interceptor(ctx, struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatalf("handler should not be invoked")
		return nil, nil
	}); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestAuthInterceptorRejectsNonBearerScheme(t *testing.T) {
	parser := &stubTokenParser{claims: &security.AccessTokenClaims{UserID: "user-1"}}
	interceptor := NewAuthInterceptor(parser, AuthOptions{}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/test.v1.PrivateService/Action"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic dXNlcjpwYXNz"))
	if _, err := interceptor(ctx, struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAuthInterceptorStreamCarriesClaims(t *testing.T) {
	parser := &stubTokenParser{claims: &security.AccessTokenClaims{UserID: "svc-matcher"}}
	interceptor := NewAuthInterceptor(parser, AuthOptions{
		AllowMethods: []string{"/grpc.health.v1.Health/Watch"},
	}).StreamServerInterceptor()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer token"))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", IsClientStream: true, IsServerStream: true}

	err := interceptor(nil, &mockServerStream{ctx: ctx}, info, func(srv interface{}, ss grpc.ServerStream) error {
		claims, ok := ClaimsFromContext(ss.Context())
		if !ok || claims.UserID != "svc-matcher" {
			t.Fatalf("expected claims on stream context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	anonymous := &mockServerStream{ctx: context.Background()}
	if err := interceptor(nil, anonymous, info, func(srv interface{}, ss grpc.ServerStream) error {
		t.Fatalf("handler should not be invoked")
		return nil
	}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated stream, got %v", err)
	}

	watch := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}
	if err := interceptor(nil, anonymous, watch, func(srv interface{}, ss grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("expected allowed stream to pass, got %v", err)
	}
}
