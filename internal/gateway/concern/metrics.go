package concern

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/tracdap/platform-gateway/internal/metrics"
)

// MetricsUnaryInterceptor records request counts and latency histograms
// for every unary call into the C12 metrics registry.
func MetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.Get().RecordRequest("GRPC", info.FullMethod, statusCodeLabel(err), time.Since(start))
		return resp, err
	}
}

// MetricsStreamInterceptor is the streaming counterpart of
// MetricsUnaryInterceptor.
func MetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		metrics.Get().RecordRequest("GRPC", info.FullMethod, statusCodeLabel(err), time.Since(start))
		return err
	}
}

func statusCodeLabel(err error) string {
	if err == nil {
		return "OK"
	}
	if st, ok := status.FromError(err); ok {
		return st.Code().String()
	}
	return "UNKNOWN"
}
