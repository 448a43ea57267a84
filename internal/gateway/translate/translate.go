// Package translate converts between the wire protocols negotiated by
// internal/gateway/negotiate (C5): REST JSON, gRPC-Web, gRPC-over-WebSocket
// and native HTTP/2 gRPC all carry the same protobuf-encoded message
// bytes, framed identically (internal/gateway/framing's LPM frame is
// gRPC's own message framing), so translation is mostly a matter of
// header/trailer bookkeeping rather than re-encoding payloads:
//
//   - REST requests are transcoded through internal/gateway/restmap into
//     a request message and back via its canonical JSON codec.
//   - gRPC-Web requests carry LPM-framed messages in an HTTP/1.1 body,
//     plus a synthetic trailer frame where native gRPC would use HTTP/2
//     trailers; translating a leg to or from gRPC-Web means moving
//     "grpc-status"/"grpc-message" between real trailers and that frame.
//   - gRPC-over-WebSocket carries the identical LPM frames as binary
//     WebSocket messages instead of an HTTP/1.1 chunked body.
package translate

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/gateway/framing"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap"
)

// Data-API bulk tuning values for routes carrying large object payloads
// (datasets, files) rather than small control-plane messages. Nothing in
// the gateway applies them: every connection uses http2's default frame
// size and initial window (see negotiate.Config).
const (
	DataAPIMaxFrameSize      = 256 * 1024
	DataAPIInitialWindowSize = 16 * 1024 * 1024
)

const (
	contentTypeGRPCWeb      = "application/grpc-web"
	contentTypeGRPCWebProto = "application/grpc-web+proto"
	contentTypeGRPCWebText  = "application/grpc-web-text"
	contentTypeGRPC         = "application/grpc"

	grpcStatusTrailer  = "grpc-status"
	grpcMessageTrailer = "grpc-message"
)

// hopByHopHeaders are stripped when building outbound gRPC metadata from
// an inbound HTTP request; they describe this hop's transport, not
// anything the backend call should see.
var hopByHopHeaders = map[string]bool{
	"connection":        true,
	"upgrade":           true,
	"content-length":    true,
	"content-type":      true,
	"te":                true,
	"transfer-encoding": true,
	"x-grpc-web":        true,
}

// IsGRPCWebContentType reports whether ct names one of the gRPC-Web
// content-type variants this gateway accepts.
func IsGRPCWebContentType(ct string) bool {
	base, _, err := mime.ParseMediaType(ct)
	if err != nil {
		base = ct
	}
	switch strings.ToLower(base) {
	case contentTypeGRPCWeb, contentTypeGRPCWebProto, contentTypeGRPCWebText:
		return true
	default:
		return false
	}
}

// BackendContentType is the Content-Type the handler package sets on every
// gRPC-Web response, whichever gRPC-Web variant the client used. Request
// bodies are read as binary LPM frames for every variant; the base64 body
// of "application/grpc-web-text" is not decoded anywhere in the gateway.
const BackendContentType = contentTypeGRPC + "+proto"

// RequestMetadata builds outbound gRPC call metadata from an inbound
// gRPC-Web or WebSocket request's HTTP headers, passing every header
// through except hop-by-hop and framing-specific ones.
func RequestMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for name, values := range h {
		lower := strings.ToLower(name)
		if hopByHopHeaders[lower] {
			continue
		}
		md[lower] = append(md[lower], values...)
	}
	return md
}

// ResponseHeaders maps a backend call's leading response metadata onto
// HTTP response headers for the gRPC-Web/WebSocket leg. grpc-status and
// grpc-message are withheld here; they travel in the trailer frame
// written by TrailerFrame once the call completes.
func ResponseHeaders(md metadata.MD) http.Header {
	h := http.Header{}
	for name, values := range md {
		if name == grpcStatusTrailer || name == grpcMessageTrailer {
			continue
		}
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

// TrailerFrame renders a completed call's status and trailing metadata
// as a gRPC-Web trailer frame: an LPM frame with the trailer flag set,
// whose payload is the CRLF-joined "name: value" text format.
func TrailerFrame(statusCode int, statusMessage string, trailerMD metadata.MD) ([]byte, error) {
	trailer := map[string][]string{}
	for name, values := range trailerMD {
		trailer[name] = append(trailer[name], values...)
	}
	trailer[grpcStatusTrailer] = []string{strconv.Itoa(statusCode)}
	if statusMessage != "" {
		trailer[grpcMessageTrailer] = []string{statusMessage}
	}

	var buf bytes.Buffer
	if err := framing.EncodeTrailer(&buf, trailer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RESTRequest is the decoded form of an inbound REST call, ready to send
// to the backend as the bound gRPC method's request message.
type RESTRequest struct {
	PathParams map[string]string
	Message    map[string]any
}

// DecodeRESTRequest extracts path captures, merges in the JSON request
// body (per the binding's body selector) and any eligible query
// parameters, producing the canonical-JSON-shaped request message that
// restmap.FromJSON can turn into wire values.
func DecodeRESTRequest(b *restmap.CompiledBinding, r *http.Request) (*RESTRequest, error) {
	pathParams, err := b.Extract(r.URL.Path)
	if err != nil {
		return nil, err
	}

	message := map[string]any{}

	bodySelector := b.Body()
	if bodySelector != "" {
		var bodyValue any
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&bodyValue); err != nil && err != io.EOF {
			return nil, apperror.Wrap(err, apperror.CodeInvalidArgument, "failed to decode request body as JSON")
		}
		if bodyMap, ok := bodyValue.(map[string]any); ok {
			if bodySelector == "*" {
				message = bodyMap
			} else {
				message[bodySelector] = bodyMap
			}
		}
	}

	for field, value := range pathParams {
		message[field] = value
	}

	for name, field := range b.QueryFields() {
		if message[name] != nil {
			continue
		}
		if v := r.URL.Query().Get(name); v != "" {
			bound, err := restmap.BindPathValue(field, v)
			if err != nil {
				return nil, err
			}
			message[name] = bound
		}
	}

	return &RESTRequest{PathParams: pathParams, Message: message}, nil
}

// EncodeRESTResponse selects the response sub-message named by the
// binding's response-body selector (or the whole response when it is
// empty) and serializes it as canonical JSON for the REST client.
func EncodeRESTResponse(b *restmap.CompiledBinding, response map[string]any) ([]byte, error) {
	selector := b.ResponseBody()
	value := any(response)
	if selector != "" && selector != "*" {
		sub, ok := response[selector]
		if !ok {
			return nil, apperror.New(apperror.CodeNotFound, "response body selector "+selector+" not present in response message")
		}
		value = sub
	}
	return json.Marshal(value)
}
