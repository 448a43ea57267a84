// Package negotiate selects the wire protocol for each inbound
// connection (C4): native HTTP/2 via TLS ALPN, cleartext HTTP/2 via h2c
// upgrade, gRPC-over-WebSocket via an Upgrade: websocket handshake, or
// plain HTTP/1.1 as the final fallback for REST clients that never
// upgrade.
//
// Rather than sniffing connection preface bytes off a raw net.Conn by
// hand, negotiation is expressed as a layered net/http handler: the
// standard library's ALPN negotiation (via http2.ConfigureServer) picks
// HTTP/2 over TLS, x/net/http2/h2c.NewHandler upgrades cleartext HTTP/1.1
// requests carrying the HTTP/2 connection preface, and this package's
// Negotiator intercepts WebSocket upgrade requests before either of those
// ever sees them.
package negotiate

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/tracdap/platform-gateway/internal/obslog"
)

// Protocol is the wire protocol selected for one inbound request/connection.
type Protocol string

const (
	ProtocolHTTP1          Protocol = "HTTP/1.1"
	ProtocolHTTP2          Protocol = "HTTP/2"
	ProtocolGRPCWeb        Protocol = "GRPC_WEB"
	ProtocolGRPCWebSockets Protocol = "GRPC_WEBSOCKETS"
)

// Config controls idle timeouts and HTTP/2 settings applied during
// negotiation. WrapH2C and ConfigureTLSServer apply IdleTimeout and
// MaxConcurrentStreams only; MaxFrameSize and InitialWindow are not read by
// this package, so every connection uses http2's default frame size and
// initial window.
type Config struct {
	IdleTimeout          time.Duration
	MaxFrameSize         uint32
	InitialWindow        uint32
	MaxConcurrentStreams uint32
}

// Negotiator wraps an http.Handler with protocol selection. WebSocketHandler
// is invoked for any request carrying an Upgrade: websocket header;
// everything else is handled by the wrapped Handler, itself wrapped in
// h2c so cleartext HTTP/2 upgrade still works for non-WebSocket clients.
type Negotiator struct {
	cfg       Config
	upgrader  websocket.Upgrader
	wsHandler func(conn *websocket.Conn, r *http.Request)
	next      http.Handler
}

// New builds a Negotiator. wsHandler is invoked with the upgraded
// WebSocket connection whenever a request negotiates gRPC-over-WebSocket;
// next handles every other request (REST, gRPC-Web, native gRPC over h2c).
func New(cfg Config, next http.Handler, wsHandler func(conn *websocket.Conn, r *http.Request)) *Negotiator {
	return &Negotiator{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// gRPC-over-WebSocket frames are binary LPM frames (C3); the
			// subprotocol name lets clients and this gateway agree on
			// that framing out of band from plain WebSocket traffic.
			Subprotocols: []string{"grpc-websockets"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		wsHandler: wsHandler,
		next:      next,
	}
}

// ServeHTTP implements http.Handler, dispatching to a WebSocket upgrade
// or to the wrapped handler.
func (n *Negotiator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		conn, err := n.upgrader.Upgrade(w, r, nil)
		if err != nil {
			obslog.Warn("websocket upgrade failed", "error", err, "path", r.URL.Path)
			return
		}
		if n.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(n.cfg.IdleTimeout))
		}
		n.wsHandler(conn, r)
		return
	}
	n.next.ServeHTTP(w, r)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		if equalFoldAny(v, token) {
			return true
		}
	}
	return false
}

func equalFoldAny(csv, token string) bool {
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			part := trimSpace(csv[start:i])
			if foldEqual(part, token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// WrapH2C wraps handler so cleartext HTTP/2 connections (the "prior
// knowledge" PRI preface, used by native gRPC clients that dial without
// TLS in development) are upgraded automatically; TLS connections
// negotiate HTTP/2 via ALPN instead and never go through this path.
func WrapH2C(handler http.Handler, cfg Config) http.Handler {
	h2s := &http2.Server{
		IdleTimeout: cfg.IdleTimeout,
	}
	if cfg.MaxConcurrentStreams > 0 {
		h2s.MaxConcurrentStreams = cfg.MaxConcurrentStreams
	}
	return h2c.NewHandler(handler, h2s)
}

// ConfigureTLSServer enables ALPN negotiation of "h2" on an *http.Server
// serving TLS, so native gRPC and gRPC-Web clients that speak TLS get
// HTTP/2 without any cleartext upgrade round trip.
func ConfigureTLSServer(srv *http.Server, cfg Config) error {
	h2s := &http2.Server{IdleTimeout: cfg.IdleTimeout}
	if cfg.MaxConcurrentStreams > 0 {
		h2s.MaxConcurrentStreams = cfg.MaxConcurrentStreams
	}
	return http2.ConfigureServer(srv, h2s)
}
