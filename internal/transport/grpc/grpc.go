// Package grpc implements the gRPC transport for Orbit.
//
// This transport exposes the orbit.v1.Orbit service (chat, streamed chat and
// Ableton control) with messages carried as JSON, plus the standard gRPC
// health service. It suits scripted clients and controllers that prefer a
// typed RPC surface over REST.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/orbit-app/orbit/internal/transport"
)

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Server builds a gRPC server with the Orbit and health services registered.
func (t *Transport) Server(handler transport.Handler) *grpc.Server {
	t.server = grpc.NewServer()
	t.server.RegisterService(&ServiceDesc, &service{handler: handler})

	t.health = health.NewServer()
	t.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(t.server, t.health)
	return t.server
}

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return t.Serve(ctx, lis, handler)
}

// Serve runs the server on lis until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, handler transport.Handler) error {
	srv := t.Server(handler)

	slog.Info("grpc transport listening", "addr", lis.Addr().String())

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.health.Shutdown()
		srv.GracefulStop()
	}()

	return srv.Serve(lis)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		if t.health != nil {
			t.health.Shutdown()
		}
		t.server.GracefulStop()
	}
	return nil
}
