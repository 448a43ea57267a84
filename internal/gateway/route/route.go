// Package route implements the gateway's static routing table (C1): an
// ordered list of routes scanned linearly to select exactly one backend
// target for an inbound request, or to report a 404/405.
package route

import (
	"net/http"
	"sort"
	"strings"
)

// Protocol names the wire protocol a route's backend speaks.
type Protocol string

const (
	ProtocolHTTP1 Protocol = "HTTP/1.1"
	ProtocolHTTP2 Protocol = "HTTP/2"
	ProtocolGRPC  Protocol = "GRPC"
)

// GRPCWireKind distinguishes how gRPC is carried over the wire for routes
// that speak it, independent of the backend Protocol.
type GRPCWireKind string

const (
	WireGRPC           GRPCWireKind = "GRPC"
	WireGRPCWeb        GRPCWireKind = "GRPC_WEB"
	WireGRPCWebSockets GRPCWireKind = "GRPC_WEBSOCKETS"
)

// TargetKind resolves how Target.Address should be interpreted (Open
// Question #2 in DESIGN.md).
type TargetKind string

const (
	TargetLocalhost    TargetKind = "LOCALHOST"
	TargetServiceKey   TargetKind = "SERVICE_KEY"
	TargetServiceAlias TargetKind = "SERVICE_ALIAS"
)

// Lifecycle classifies who owns a target's process lifecycle; orthogonal
// to TargetKind (see DESIGN.md's Open Question #2 resolution).
type Lifecycle string

const (
	LifecycleSandboxed Lifecycle = "SANDBOX"
	LifecycleHosted    Lifecycle = "HOSTED"
	LifecycleCustom    Lifecycle = "CUSTOM"
)

// Target is the resolved backend a matched route forwards to.
type Target struct {
	Kind      TargetKind
	Lifecycle Lifecycle
	Host      string
	Port      int
	Protocol  Protocol
	GRPCWire  GRPCWireKind
}

// Address returns the dial address host:port for this target.
func (t Target) Address() string {
	if t.Host == "" {
		return ""
	}
	return t.Host + ":" + itoa(t.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Route is an immutable routing table entry. Routes are matched in
// declaration order; the Index field records that order for tie-breaking
// and for diagnostics (e.g. the Allow header on a 405).
type Route struct {
	Index      int
	Name       string
	Host       string
	PathPrefix string
	Methods    map[string]bool // empty means "all methods"
	Target     Target
	IsBulkData bool // set from the route file's is_bulk_data key; not read when serving, so HTTP/2 settings are the same for every route

	// Bindings holds the compiled REST bindings attached to this route,
	// if it is a REST-mapped gRPC route. Checked in declaration order by
	// Table.Lookup after the coarse host/path/method match succeeds.
	Bindings []RESTBinding
}

// RESTBinding is the subset of a compiled REST↔gRPC binding (C2) that the
// routing table needs to pick a match: its HTTP method and the ability to
// test whether a concrete path matches its template. The full binding
// (field bindings, body/response selectors) lives in package restmap;
// Matches is supplied by restmap.CompiledBinding so route stays
// independent of the mapper's internals.
type RESTBinding struct {
	HTTPMethod string
	Matches    func(path string) bool

	// Compiled holds the *restmap.CompiledBinding this entry was built
	// from, as an opaque any so this package never imports restmap.
	// Callers that need the full binding (field selectors, method name)
	// type-assert it back; Table.Lookup never looks inside it.
	Compiled any
}

// Table is an immutable, ordered routing table. It is built once at
// startup and is safe for concurrent reads without synchronization (§5).
type Table struct {
	routes []Route
}

// NewTable builds a Table from routes, assigning each one's declaration
// index and leaving the input order untouched (routes are matched in the
// order given).
func NewTable(routes []Route) *Table {
	out := make([]Route, len(routes))
	copy(out, routes)
	for i := range out {
		out[i].Index = i
	}
	return &Table{routes: out}
}

// Result is the outcome of Lookup.
type Result struct {
	Route       *Route
	Binding     *RESTBinding
	NotFound    bool
	MethodNotAllowed bool
	AllowedMethods   []string // populated only when MethodNotAllowed
}

// Lookup selects a route for (host, path, method) per §4.1: iterate routes
// in declared order, match host exactly, match path by longest declared
// prefix, match method against the route's allowed set. If a matching
// route additionally carries compiled REST bindings, the first binding
// whose template matches path and method wins and is returned alongside
// the route. No match at all produces NotFound; a path/host match with no
// acceptable method produces MethodNotAllowed with the Allow list from the
// best (longest-prefix) matching route.
func (t *Table) Lookup(host, path, method string) Result {
	bestPrefixLen := -1
	var bestRoute *Route
	var allowed []string
	sawPathMatch := false

	for i := range t.routes {
		r := &t.routes[i]

		if r.Host != "" && !strings.EqualFold(r.Host, host) {
			continue
		}
		if !strings.HasPrefix(path, r.PathPrefix) {
			continue
		}

		sawPathMatch = true

		if len(r.PathPrefix) > bestPrefixLen {
			bestPrefixLen = len(r.PathPrefix)
			bestRoute = r
			allowed = methodList(r.Methods)
		}

		if !methodAllowed(r.Methods, method) {
			continue
		}

		for bi := range r.Bindings {
			b := &r.Bindings[bi]
			if !strings.EqualFold(b.HTTPMethod, method) {
				continue
			}
			if b.Matches != nil && !b.Matches(path) {
				continue
			}
			return Result{Route: r, Binding: b}
		}

		if len(r.Bindings) == 0 {
			return Result{Route: r}
		}
	}

	if !sawPathMatch {
		return Result{NotFound: true}
	}

	sort.Strings(allowed)
	return Result{MethodNotAllowed: true, AllowedMethods: allowed, Route: bestRoute}
}

func methodAllowed(methods map[string]bool, method string) bool {
	if len(methods) == 0 {
		return true
	}
	return methods[strings.ToUpper(method)]
}

func methodList(methods map[string]bool) []string {
	if len(methods) == 0 {
		return []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	out := make([]string, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	return out
}

// DistinctTargets returns one Target per distinct backend address in the
// table, in declaration order, for callers (readiness checks, startup
// diagnostics) that want to probe every backend exactly once.
func (t *Table) DistinctTargets() []Target {
	seen := map[string]bool{}
	var out []Target
	for _, r := range t.routes {
		addr := r.Target.Address()
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, r.Target)
	}
	return out
}

// IsDataAPIRoute reports whether path names the configured bulk-data API.
// Nothing in the gateway calls it; HTTP/2 settings do not depend on it.
func IsDataAPIRoute(path, dataAPIName string) bool {
	if dataAPIName == "" {
		return false
	}
	return strings.Contains(path, dataAPIName)
}
