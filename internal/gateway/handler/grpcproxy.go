package handler

import (
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/gateway/proxy"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
)

// GRPCProxyHandler returns the grpc.StreamHandler to install as a
// grpc.Server's UnknownServiceHandler. Since this gateway registers no
// gRPC services of its own, every native gRPC call arrives here: the
// method name a client called is itself the routing key, so it is looked
// up directly against the routing table rather than via host/path
// matching. The server must also be built with grpc.ForceServerCodec
// (rawCodec{}) so both legs exchange already-encoded bytes untouched —
// this gateway never needs the backend method's compiled request or
// response type, only its name, the same technique transparent gRPC
// proxies use in place of per-backend generated stubs.
func GRPCProxyHandler(routes *route.Table, mgr *proxy.Manager) grpc.StreamHandler {
	return func(_ any, serverStream grpc.ServerStream) error {
		fullMethod, ok := grpc.MethodFromServerStream(serverStream)
		if !ok {
			return apperror.ToGRPC(apperror.New(apperror.CodeNoMatchingMethod, "could not determine method from stream"))
		}

		result := routes.Lookup("", "/"+trimLeadingSlash(fullMethod), "POST")
		if result.Route == nil {
			return apperror.ToGRPC(apperror.New(apperror.CodeRouteNotFound, "no route matches gRPC method "+fullMethod))
		}
		target := result.Route.Target

		ctx := serverStream.Context()
		cc, err := mgr.Get(ctx, target)
		if err != nil {
			return apperror.ToGRPC(apperror.Wrap(err, apperror.CodeBackendUnavailable, "dial backend"))
		}

		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = metadata.NewOutgoingContext(ctx, md.Copy())
		}

		clientStream, err := cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, fullMethod, grpc.ForceCodec(rawCodec{}))
		if err != nil {
			mgr.MarkFailure(target)
			return apperror.ToGRPC(apperror.Wrap(err, apperror.CodeUpstreamError, "open backend stream"))
		}

		done := make(chan error, 1)
		go forwardClientToBackend(serverStream, clientStream, done)

		var streamErr error
		for {
			var msg []byte
			if err := clientStream.RecvMsg(&msg); err != nil {
				if err != io.EOF {
					streamErr = err
				}
				break
			}
			if err := serverStream.SendMsg(&msg); err != nil {
				streamErr = err
				break
			}
		}
		<-done

		if streamErr != nil {
			mgr.MarkFailure(target)
			return apperror.ToGRPC(apperror.Wrap(streamErr, apperror.CodeUpstreamError, "backend stream forwarding failed"))
		}
		mgr.MarkSuccess(target)
		return nil
	}
}

func forwardClientToBackend(serverStream grpc.ServerStream, clientStream grpc.ClientStream, done chan<- error) {
	for {
		var msg []byte
		if err := serverStream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				done <- clientStream.CloseSend()
			} else {
				done <- err
			}
			return
		}
		if err := clientStream.SendMsg(&msg); err != nil {
			done <- err
			return
		}
	}
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
