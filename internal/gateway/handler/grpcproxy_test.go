package handler

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tracdap/platform-gateway/internal/gateway/proxy"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
)

type servingHealthServer struct {
	healthpb.UnimplementedHealthServer
}

func (s *servingHealthServer) Check(_ context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func startBackend(t *testing.T) route.Target {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, &servingHealthServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	addr := lis.Addr().(*net.TCPAddr)
	return route.Target{Kind: route.TargetLocalhost, Host: "127.0.0.1", Port: addr.Port}
}

func startGateway(t *testing.T, routes *route.Table, mgr *proxy.Manager) route.Target {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := grpc.NewServer(
		ServerCodecOption(),
		grpc.UnknownServiceHandler(GRPCProxyHandler(routes, mgr)),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	addr := lis.Addr().(*net.TCPAddr)
	return route.Target{Kind: route.TargetLocalhost, Host: "127.0.0.1", Port: addr.Port}
}

func TestGRPCProxyHandler_ForwardsUnaryCallToBackend(t *testing.T) {
	backend := startBackend(t)
	routes := route.NewTable([]route.Route{{Name: "health", PathPrefix: "/", Target: backend}})
	mgr := proxy.NewManager(proxy.Config{})
	defer mgr.Close()

	gateway := startGateway(t, routes, mgr)

	cc, err := grpc.NewClient(gateway.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer cc.Close()

	client := healthpb.NewHealthClient(cc)
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}

func TestGRPCProxyHandler_NoMatchingRouteReturnsError(t *testing.T) {
	routes := route.NewTable(nil)
	mgr := proxy.NewManager(proxy.Config{})
	defer mgr.Close()

	gateway := startGateway(t, routes, mgr)

	cc, err := grpc.NewClient(gateway.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer cc.Close()

	client := healthpb.NewHealthClient(cc)
	if _, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{}); err == nil {
		t.Fatal("expected an error for a method with no matching route")
	}
}
