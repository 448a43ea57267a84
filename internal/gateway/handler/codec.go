package handler

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// rawCodec is a pass-through encoding.Codec for proxying gRPC calls whose
// request/response types are not known at compile time: every message is
// just the already-encoded protobuf bytes off the wire, carried as a
// Go []byte. Forcing this codec per-call (grpc.ForceCodec) lets the
// gateway forward arbitrary backend methods without generated stubs,
// the same way a transparent gRPC proxy does.
type rawCodec struct{}

// Name satisfies encoding.Codec; "proto" makes the wire content-subtype
// match what a real gRPC/gRPC-Web client and backend already expect,
// since this codec only ever runs inside the gateway, never negotiated
// with a peer.
func (rawCodec) Name() string { return "proto" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("handler: rawCodec.Marshal expects *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("handler: rawCodec.Unmarshal expects *[]byte, got %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

var _ encoding.Codec = rawCodec{}

// ServerCodecOption returns the grpc.ServerOption that forces every call on
// a grpc.Server to use rawCodec, so main can build a native-gRPC server
// that proxies arbitrary backend methods without this package's caller
// needing to know about rawCodec itself.
func ServerCodecOption() grpc.ServerOption {
	return grpc.ForceServerCodec(rawCodec{})
}
