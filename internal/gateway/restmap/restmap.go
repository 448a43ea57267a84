// Package restmap compiles REST method bindings (HTTP-rule style
// path/body/query annotations) into CompiledBindings that translate an
// inbound REST request into a gRPC request message and back (C2).
//
// There are no compiled protobuf descriptors in this build, so bindings
// are validated against the hand-rolled descriptor model in
// internal/gateway/restmap/schema instead of google.golang.org/protobuf's
// FileDescriptorProto machinery.
package restmap

import (
	"fmt"
	"strings"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/gateway/restmap/schema"
)

// segmentKind distinguishes literal path segments from field captures.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segCapture
)

type pathSegment struct {
	kind    segmentKind
	literal string
	field   string // dotted field path, for segCapture
}

// Binding is the uncompiled, declarative form of one REST method binding,
// the shape a routes file would unmarshal into.
type Binding struct {
	HTTPMethod   string // GET, POST, PUT, PATCH, DELETE
	PathTemplate string // e.g. "/api/v1/jobs/{job_id}/status"
	Body         string // "", "*", or a dotted field path naming the request sub-message carrying the body
	ResponseBody string // "" (whole response) or a dotted field path selecting the response sub-message to serialize
	Method       *schema.Method
}

// CompiledBinding is a Binding that has been validated against its
// Method's request/response schema and whose path template has been
// parsed into matchable segments.
type CompiledBinding struct {
	HTTPMethod   string
	segments     []pathSegment
	body         string
	responseBody string
	method       *schema.Method
	queryFields  map[string]*schema.Field // fields eligible for query-string binding
}

// Matches reports whether path satisfies the compiled template, purely
// structurally (segment count and literal equality); it does not extract
// field values (see Extract).
func (b *CompiledBinding) Matches(path string) bool {
	_, ok := b.matchSegments(path)
	return ok
}

func (b *CompiledBinding) matchSegments(path string) ([]string, bool) {
	parts := splitPath(path)
	if len(parts) != len(b.segments) {
		return nil, false
	}

	for i, seg := range b.segments {
		if seg.kind == segLiteral && parts[i] != seg.literal {
			return nil, false
		}
	}
	return nil, true
}

// Extract walks the compiled template against a concrete, already-matched
// path and returns the dotted field path → raw string value captures.
func (b *CompiledBinding) Extract(path string) (map[string]string, error) {
	parts := splitPath(path)
	out := map[string]string{}

	for i, seg := range b.segments {
		switch seg.kind {
		case segLiteral:
			if i >= len(parts) || parts[i] != seg.literal {
				return nil, fmt.Errorf("restmap: path %q does not match template at segment %d", path, i)
			}
		case segCapture:
			if i >= len(parts) {
				return nil, fmt.Errorf("restmap: path %q is shorter than its template", path)
			}
			out[seg.field] = parts[i]
		}
	}
	return out, nil
}

// Body returns the compiled body field selector ("" = no body, "*" =
// whole request message, else a dotted field path).
func (b *CompiledBinding) Body() string { return b.body }

// ResponseBody returns the compiled response body selector.
func (b *CompiledBinding) ResponseBody() string { return b.responseBody }

// Method returns the schema method this binding was compiled against, so
// a caller holding a CompiledBinding can resolve the gRPC full method
// name to dial without needing the original uncompiled Binding.
func (b *CompiledBinding) Method() *schema.Method { return b.method }

// QueryFields returns the set of request fields eligible for query-string
// binding: every top-level scalar field not already consumed by a path
// capture or by the body selector.
func (b *CompiledBinding) QueryFields() map[string]*schema.Field {
	return b.queryFields
}

// Compile parses b.PathTemplate, validates every path capture and the
// body/response selectors against b.Method's schema, and computes the
// query-eligible field set. Compile errors are startup-time errors (per
// §4.2, a malformed binding must fail fast rather than at request time).
func Compile(b Binding) (*CompiledBinding, error) {
	if b.Method == nil || b.Method.Request == nil {
		return nil, apperror.New(apperror.CodeInvalidBinding, "binding has no resolved method schema")
	}

	segments, err := parseTemplate(b.PathTemplate)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidBinding, "compile path template")
	}

	consumed := map[string]bool{}
	for _, seg := range segments {
		if seg.kind == segLiteral {
			continue
		}
		if _, err := b.Method.Request.Resolve(seg.field); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidBinding, "resolve path field "+seg.field)
		}
		consumed[topLevel(seg.field)] = true
	}

	if b.Body != "" && b.Body != "*" {
		if _, err := b.Method.Request.Resolve(b.Body); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidBinding, "resolve body field "+b.Body)
		}
		consumed[topLevel(b.Body)] = true
	} else if b.Body == "*" {
		// whole message is the body; no remaining query fields possible
		for name := range b.Method.Request.Fields {
			consumed[name] = true
		}
	}

	if b.ResponseBody != "" {
		if b.Method.Response == nil {
			return nil, apperror.New(apperror.CodeInvalidBinding, "response_body set but method has no response schema")
		}
		if _, err := b.Method.Response.Resolve(b.ResponseBody); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidBinding, "resolve response_body field "+b.ResponseBody)
		}
	}

	query := map[string]*schema.Field{}
	for name, f := range b.Method.Request.Fields {
		if consumed[name] {
			continue
		}
		if f.Kind == schema.KindMessage {
			continue // nested messages are not query-bindable, only scalars/repeated scalars
		}
		query[f.JSONName] = f
	}

	return &CompiledBinding{
		HTTPMethod:   strings.ToUpper(b.HTTPMethod),
		segments:     segments,
		body:         b.Body,
		responseBody: b.ResponseBody,
		method:       b.Method,
		queryFields:  query,
	}, nil
}

func topLevel(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseTemplate parses a path template like
// "/api/v1/jobs/{job_id}/entries/{key}" into segments. Multi-segment
// captures ({field=**} or {field=some/pattern}) are reserved and rejected
// at compile time: this module supports single-segment {field} captures
// only.
func parseTemplate(tmpl string) ([]pathSegment, error) {
	parts := splitPath(tmpl)
	segments := make([]pathSegment, 0, len(parts))

	for _, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			inner := p[1 : len(p)-1]
			if inner == "" {
				return nil, fmt.Errorf("restmap: empty field capture in template %q", tmpl)
			}
			if eq := strings.IndexByte(inner, '='); eq >= 0 {
				return nil, fmt.Errorf("restmap: capture matcher %q is unsupported in template %q (multi-segment captures are reserved)", inner[eq+1:], tmpl)
			}
			segments = append(segments, pathSegment{kind: segCapture, field: inner})
			continue
		}
		segments = append(segments, pathSegment{kind: segLiteral, literal: p})
	}
	return segments, nil
}
