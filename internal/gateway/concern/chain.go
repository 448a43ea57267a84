package concern

import (
	"google.golang.org/grpc"
)

// Config selects which stages UnaryServerOptions and StreamServerOptions
// assemble. A nil Validator disables the auth stage entirely (cmd/gateway
// leaves it nil when auth is disabled in its configuration).
type Config struct {
	Validator TokenValidator
}

// UnaryServerOptions returns a grpc.ServerOption chaining every enabled
// unary concern in the order: auth, logging, metrics, error mapping. This
// is "server-side, declared order" per §4.8 — grpc.ChainUnaryInterceptor
// invokes its arguments left to right, each wrapping the next, so auth
// (listed first) is outermost and runs before any other concern sees the
// call.
func UnaryServerOptions(cfg Config) grpc.ServerOption {
	interceptors := []grpc.UnaryServerInterceptor{}
	if cfg.Validator != nil {
		interceptors = append(interceptors, UnaryServerInterceptor(cfg.Validator))
	}
	interceptors = append(interceptors,
		LoggingUnaryInterceptor(),
		MetricsUnaryInterceptor(),
		ErrorMapUnaryInterceptor(),
	)
	return grpc.ChainUnaryInterceptor(interceptors...)
}

// StreamServerOptions is the streaming counterpart of UnaryServerOptions.
func StreamServerOptions(cfg Config) grpc.ServerOption {
	interceptors := []grpc.StreamServerInterceptor{}
	if cfg.Validator != nil {
		interceptors = append(interceptors, StreamServerInterceptor(cfg.Validator))
	}
	interceptors = append(interceptors,
		LoggingStreamInterceptor(),
		MetricsStreamInterceptor(),
		ErrorMapStreamInterceptor(),
	)
	return grpc.ChainStreamInterceptor(interceptors...)
}
