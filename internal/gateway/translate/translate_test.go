package translate

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/tracdap/platform-gateway/internal/gateway/framing"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap/schema"
)

func TestIsGRPCWebContentType(t *testing.T) {
	cases := map[string]bool{
		"application/grpc-web":            true,
		"application/grpc-web+proto":      true,
		"application/grpc-web-text":       true,
		"application/grpc-web-text; charset=utf-8": true,
		"application/json":                false,
		"application/grpc":                false,
	}
	for ct, want := range cases {
		if got := IsGRPCWebContentType(ct); got != want {
			t.Errorf("IsGRPCWebContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestRequestMetadata_StripsHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	h.Set("Content-Type", "application/grpc-web+proto")
	h.Set("Connection", "keep-alive")
	h.Set("X-Custom", "value")

	md := RequestMetadata(h)
	if got := md.Get("authorization"); len(got) != 1 || got[0] != "Bearer tok" {
		t.Errorf("authorization = %v", got)
	}
	if got := md.Get("x-custom"); len(got) != 1 || got[0] != "value" {
		t.Errorf("x-custom = %v", got)
	}
	if len(md.Get("content-type")) != 0 {
		t.Errorf("content-type should have been stripped")
	}
	if len(md.Get("connection")) != 0 {
		t.Errorf("connection should have been stripped")
	}
}

func TestTrailerFrame_DecodesViaFraming(t *testing.T) {
	frame, err := TrailerFrame(0, "", metadata.MD{"x-trace-id": []string{"abc"}})
	if err != nil {
		t.Fatalf("TrailerFrame: %v", err)
	}

	decoded, err := framing.Decode(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("framing.Decode: %v", err)
	}
	if !decoded.Trailer {
		t.Errorf("expected trailer flag to be set")
	}
	trailer := framing.DecodeTrailerText(decoded.Payload)
	if got := trailer["grpc-status"]; len(got) != 1 || got[0] != "0" {
		t.Errorf("grpc-status = %v", got)
	}
	if got := trailer["x-trace-id"]; len(got) != 1 || got[0] != "abc" {
		t.Errorf("x-trace-id = %v", got)
	}
}

func jobStatusBinding(t *testing.T) *restmap.CompiledBinding {
	t.Helper()
	req := schema.NewMessage("GetJobStatusRequest",
		schema.Field{Name: "job_id", JSONName: "jobId", Kind: schema.KindString},
		schema.Field{Name: "tenant", JSONName: "tenant", Kind: schema.KindString},
	)
	resp := schema.NewMessage("GetJobStatusResponse",
		schema.Field{Name: "status", JSONName: "status", Kind: schema.KindString},
	)
	method := &schema.Method{ServiceName: "trac.api.JobApi", MethodName: "getJobStatus", Request: req, Response: resp}
	b, err := restmap.Compile(restmap.Binding{
		HTTPMethod:   http.MethodGet,
		PathTemplate: "/api/v1/jobs/{job_id}/status",
		Method:       method,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return b
}

func TestDecodeRESTRequest_PathAndQuery(t *testing.T) {
	b := jobStatusBinding(t)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-123/status?tenant=acme", nil)

	decoded, err := DecodeRESTRequest(b, r)
	if err != nil {
		t.Fatalf("DecodeRESTRequest: %v", err)
	}
	if decoded.Message["job_id"] != "job-123" {
		t.Errorf("job_id = %v", decoded.Message["job_id"])
	}
	if decoded.Message["tenant"] != "acme" {
		t.Errorf("tenant = %v", decoded.Message["tenant"])
	}
}

func TestEncodeRESTResponse_WholeMessage(t *testing.T) {
	b := jobStatusBinding(t)
	out, err := EncodeRESTResponse(b, map[string]any{"status": "RUNNING"})
	if err != nil {
		t.Fatalf("EncodeRESTResponse: %v", err)
	}
	if !strings.Contains(string(out), "RUNNING") {
		t.Errorf("response = %s", out)
	}
}
