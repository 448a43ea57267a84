package concern

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

// ErrorMapUnaryInterceptor converts any *apperror.Error returned by a
// handler into its equivalent gRPC status, so handlers can return
// apperror values directly without each one calling apperror.ToGRPC.
func ErrorMapUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return resp, apperror.ToGRPC(err)
		}
		return resp, nil
	}
}

// ErrorMapStreamInterceptor is the streaming counterpart of
// ErrorMapUnaryInterceptor.
func ErrorMapStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := handler(srv, ss); err != nil {
			return apperror.ToGRPC(err)
		}
		return nil
	}
}
