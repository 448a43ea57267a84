package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/tracdap/platform-gateway/internal/gateway/framing"
	"github.com/tracdap/platform-gateway/internal/gateway/proxy"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap/schema"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
)

func TestServeHTTP_GRPCWeb_ForwardsToBackend(t *testing.T) {
	backend := startBackend(t)
	routes := route.NewTable([]route.Route{{
		Name:       "health",
		PathPrefix: "/grpc.health.v1.Health/",
		Target:     backend,
	}})
	mgr := proxy.NewManager(proxy.Config{})
	defer mgr.Close()

	h := New(routes, mgr)
	srv := httptest.NewServer(h)
	defer srv.Close()

	reqBytes, err := proto.Marshal(&healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	frame, err := encodeDataFrame(reqBytes)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/grpc.health.v1.Health/Check", bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/grpc-web+proto")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	dataFrame, err := framing.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode data frame: %v", err)
	}
	var respPB healthpb.HealthCheckResponse
	if err := proto.Unmarshal(dataFrame.Payload, &respPB); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if respPB.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", respPB.Status)
	}
}

// startRawBackend starts a gRPC server whose UnknownServiceHandler just
// returns st for every call, using rawCodec so it can be invoked through
// the same ForceCodec path serveREST uses against real backends.
func startRawBackend(t *testing.T, st error) route.Target {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := grpc.NewServer(
		ServerCodecOption(),
		grpc.UnknownServiceHandler(func(_ any, _ grpc.ServerStream) error {
			return st
		}),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	addr := lis.Addr().(*net.TCPAddr)
	return route.Target{Kind: route.TargetLocalhost, Host: "127.0.0.1", Port: addr.Port}
}

func jobGetMethod() *schema.Method {
	req := schema.NewMessage("GetJobRequest",
		schema.Field{Name: "job_id", JSONName: "jobId", Kind: schema.KindString},
	)
	resp := schema.NewMessage("GetJobResponse",
		schema.Field{Name: "status", JSONName: "status", Kind: schema.KindString},
	)
	return &schema.Method{ServiceName: "JobService", MethodName: "GetJob", Request: req, Response: resp}
}

// TestServeHTTP_REST_BackendInvalidArgumentMapsTo400 pins scenario S2: a
// backend INVALID_ARGUMENT must surface to the REST client as a 400, not
// the 500 a naive CodeUpstreamError wrapping would produce.
func TestServeHTTP_REST_BackendInvalidArgumentMapsTo400(t *testing.T) {
	backend := startRawBackend(t, status.Error(codes.InvalidArgument, "job_id is not a valid identifier"))

	compiled, err := restmap.Compile(restmap.Binding{
		HTTPMethod:   "GET",
		PathTemplate: "/api/v1/jobs/{job_id}",
		Method:       jobGetMethod(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	routes := route.NewTable([]route.Route{{
		Name:       "jobs",
		PathPrefix: "/api/v1/jobs",
		Target:     backend,
		Bindings: []route.RESTBinding{{
			HTTPMethod: "GET",
			Matches:    compiled.Matches,
			Compiled:   compiled,
		}},
	}})
	mgr := proxy.NewManager(proxy.Config{})
	defer mgr.Close()

	h := New(routes, mgr)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/abc-123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "INVALID_ARGUMENT" {
		t.Errorf("code = %q, want INVALID_ARGUMENT", body["code"])
	}
}

func TestServeHTTP_NotFoundRoute(t *testing.T) {
	routes := route.NewTable(nil)
	mgr := proxy.NewManager(proxy.Config{})
	defer mgr.Close()

	h := New(routes, mgr)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/no/such/route")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
