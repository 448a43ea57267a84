// Package handler implements the gateway's HTTP-facing request-handling
// core (C6): for each inbound REST or gRPC-Web/WebSocket request it
// selects a route via internal/gateway/route, obtains a backend channel
// via internal/gateway/proxy, and moves bytes between the client leg and
// the backend leg, translating headers and framing on the way via
// internal/gateway/translate. Native HTTP/2 gRPC clients never reach
// Handler: they are served by a plain grpc.Server using
// GRPCProxyHandler (see grpcproxy.go), since terminating gRPC for real
// gives C8's auth/logging/metrics/error-mapping concern chain somewhere
// natural to run.
//
// Two legs are handled here, mirroring negotiate's non-native outcomes:
//
//   - gRPC-Web and gRPC-over-WebSocket both carry LPM frames (C3) that
//     this gateway forwards onto a generic gRPC stream opened against the
//     backend with a byte-passthrough codec (see rawCodec), so a proxied
//     call never needs the backend method's compiled request/response
//     types, only its full method name.
//   - REST is transcoded through internal/gateway/restmap and
//     internal/gateway/translate into a single backend unary call and back.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/gateway/framing"
	"github.com/tracdap/platform-gateway/internal/gateway/proxy"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap"
	"github.com/tracdap/platform-gateway/internal/gateway/route"
	"github.com/tracdap/platform-gateway/internal/gateway/translate"
	"github.com/tracdap/platform-gateway/internal/metrics"
	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/telemetry"
)

// Handler is the gateway's composed REST/gRPC-Web/WebSocket router: route
// lookup, backend dial, and protocol translation wired together behind
// one http.Handler.
type Handler struct {
	Routes *route.Table
	Proxy  *proxy.Manager
}

// New builds a Handler over a routing table and backend connection manager.
func New(routes *route.Table, mgr *proxy.Manager) *Handler {
	return &Handler{Routes: routes, Proxy: mgr}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := h.Routes.Lookup(r.Host, r.URL.Path, r.Method)

	switch {
	case result.NotFound:
		http.NotFound(w, r)
		return
	case result.MethodNotAllowed:
		w.Header().Set("Allow", strings.Join(result.AllowedMethods, ", "))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rt := result.Route
	ctx, span := telemetry.StartSpan(r.Context(), "gateway.handle")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.RouteAttributes(rt.Name, string(rt.Target.Protocol), rt.Target.Address())...)
	r = r.WithContext(ctx)

	var err error
	switch {
	case result.Binding != nil:
		err = h.serveREST(w, r, rt, result.Binding)
	case translate.IsGRPCWebContentType(r.Header.Get("Content-Type")):
		err = h.serveGRPCWeb(w, r, rt)
	default:
		http.Error(w, "unsupported content type for this route", http.StatusUnsupportedMediaType)
		return
	}

	status := "OK"
	if err != nil {
		status = string(apperror.Code(err))
		telemetry.SetError(ctx, err)
		obslog.Error("request failed", "route", rt.Name, "error", err)
		writeHTTPError(w, err)
	}
	metrics.Get().RecordRequest("HTTP", rt.Name, status, time.Since(start))
}

// ServeWebSocket is the wsHandler passed to negotiate.New: it forwards
// gRPC-over-WebSocket binary frames onto the matched route's backend the
// same way serveGRPCWeb does over an HTTP body, except frames arrive and
// leave as discrete WebSocket messages instead of a chunked byte stream.
func (h *Handler) ServeWebSocket(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()

	result := h.Routes.Lookup(r.Host, r.URL.Path, r.Method)
	if result.Route == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "no matching route"))
		return
	}
	rt := result.Route

	method, ok := fullMethodFromPath(r.URL.Path)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "cannot resolve gRPC method from path"))
		return
	}

	cc, err := h.Proxy.Get(r.Context(), rt.Target)
	if err != nil {
		obslog.Error("websocket backend dial failed", "route", rt.Name, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend unavailable"))
		return
	}

	ctx := metadata.NewOutgoingContext(r.Context(), translate.RequestMetadata(r.Header))
	cs, err := cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		h.Proxy.MarkFailure(rt.Target)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend stream failed"))
		return
	}
	h.Proxy.MarkSuccess(rt.Target)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var resp []byte
			if err := cs.RecvMsg(&resp); err != nil {
				trailerFrame, ferr := translate.TrailerFrame(0, statusMessageOf(err), cs.Trailer())
				if ferr == nil {
					_ = conn.WriteMessage(websocket.BinaryMessage, trailerFrame)
				}
				return
			}
			frame, ferr := encodeDataFrame(resp)
			if ferr != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, ferr := decodeDataFrame(data)
		if ferr != nil {
			break
		}
		payload := frame.Payload
		if err := cs.SendMsg(&payload); err != nil {
			break
		}
	}
	_ = cs.CloseSend()
	<-done
}

func statusMessageOf(err error) string {
	if err == io.EOF {
		return ""
	}
	return err.Error()
}

func fullMethodFromPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" || !strings.Contains(trimmed, "/") {
		return "", false
	}
	return "/" + trimmed, true
}

// serveGRPCWeb decodes the LPM-framed request body, makes one generic
// gRPC call against the backend using a byte-passthrough codec, and
// writes the response back as gRPC-Web framing (data frame(s) followed by
// a trailer frame carrying grpc-status/grpc-message).
func (h *Handler) serveGRPCWeb(w http.ResponseWriter, r *http.Request, rt *route.Route) error {
	method, ok := fullMethodFromPath(r.URL.Path)
	if !ok {
		return apperror.New(apperror.CodeNoMatchingMethod, "cannot resolve gRPC method from path "+r.URL.Path)
	}

	frame, err := framing.Decode(r.Body)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeFramingError, "decode gRPC-Web request frame")
	}

	cc, err := h.Proxy.Get(r.Context(), rt.Target)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeBackendUnavailable, "dial backend")
	}

	var header, trailer metadata.MD
	ctx := metadata.NewOutgoingContext(r.Context(), translate.RequestMetadata(r.Header))

	reqPayload := frame.Payload
	var respPayload []byte
	callErr := cc.Invoke(ctx, method, &reqPayload, &respPayload, grpc.ForceCodec(rawCodec{}), grpc.Header(&header), grpc.Trailer(&trailer))
	if callErr != nil {
		h.Proxy.MarkFailure(rt.Target)
	} else {
		h.Proxy.MarkSuccess(rt.Target)
	}

	w.Header().Set("Content-Type", translate.BackendContentType)
	for name, values := range translate.ResponseHeaders(header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(http.StatusOK)

	if callErr == nil {
		dataFrame, ferr := encodeDataFrame(respPayload)
		if ferr != nil {
			return ferr
		}
		if _, werr := w.Write(dataFrame); werr != nil {
			return nil
		}
	}

	appErr := apperror.FromGRPC(callErr)
	statusCode := 0
	statusMessage := ""
	if callErr != nil {
		statusCode = grpcStatusCodeOf(appErr)
		statusMessage = appErr.Message
	}
	trailerFrame, err := translate.TrailerFrame(statusCode, statusMessage, trailer)
	if err != nil {
		return err
	}
	_, _ = w.Write(trailerFrame)
	return nil
}

func grpcStatusCodeOf(appErr *apperror.Error) int {
	return int(appErr.GRPCStatus().Code())
}

func encodeDataFrame(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := framing.Encode(&buf, payload, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDataFrame(raw []byte) (framing.Frame, error) {
	return framing.Decode(bytes.NewReader(raw))
}

// serveREST transcodes an inbound REST request through restmap/translate
// into a single backend unary call, then transcodes the response back.
func (h *Handler) serveREST(w http.ResponseWriter, r *http.Request, rt *route.Route, binding *route.RESTBinding) error {
	compiled, ok := binding.Compiled.(*restmap.CompiledBinding)
	if !ok || compiled == nil {
		return apperror.New(apperror.CodeInvalidBinding, "route binding missing compiled schema")
	}

	restReq, err := translate.DecodeRESTRequest(compiled, r)
	if err != nil {
		return err
	}

	reqBytes, err := json.Marshal(restReq.Message)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidArgument, "encode request message")
	}

	cc, err := h.Proxy.Get(r.Context(), rt.Target)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeBackendUnavailable, "dial backend")
	}

	method := compiled.Method().FullName()
	var header metadata.MD
	ctx := metadata.NewOutgoingContext(r.Context(), translate.RequestMetadata(r.Header))

	var respBytes []byte
	callErr := cc.Invoke(ctx, "/"+method, &reqBytes, &respBytes, grpc.ForceCodec(rawCodec{}), grpc.Header(&header))
	if callErr != nil {
		h.Proxy.MarkFailure(rt.Target)
		return apperror.FromGRPC(callErr)
	}
	h.Proxy.MarkSuccess(rt.Target)

	var response map[string]any
	if len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, &response); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "decode backend response")
		}
	}

	body, err := translate.EncodeRESTResponse(compiled, response)
	if err != nil {
		return err
	}

	for name, values := range translate.ResponseHeaders(header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return nil
}

func writeHTTPError(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.New(apperror.CodeInternal, err.Error())
	}
	status := httpStatusOf(appErr.Code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	})
}

func httpStatusOf(code apperror.ErrorCode) int {
	switch code {
	case apperror.CodeInvalidArgument, apperror.CodeInvalidBinding, apperror.CodeUnsupportedSyntax, apperror.CodeNilInput:
		return http.StatusBadRequest
	case apperror.CodeNotFound, apperror.CodeRouteNotFound, apperror.CodeNoMatchingMethod,
		apperror.CodeTicketNotFound, apperror.CodeEntryNotFound, apperror.CodeBatchNotFound, apperror.CodeVolumeNotFound:
		return http.StatusNotFound
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperror.CodePermissionDenied:
		return http.StatusForbidden
	case apperror.CodeTicketClosed, apperror.CodeTicketConflict, apperror.CodeRevisionConflict,
		apperror.CodeKeyExists, apperror.CodeBatchNotComplete:
		return http.StatusConflict
	case apperror.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperror.CodeBackendUnavailable, apperror.CodeDialFailed, apperror.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
