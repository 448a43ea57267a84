// Package schema is a hand-rolled, minimal message-descriptor model used
// by the REST↔gRPC mapper (C2) to validate path/query/body field
// references against a service's message shapes without depending on
// compiled protobuf descriptors (no .proto sources are available in this
// build — see DESIGN.md's stdlib-justification note for C2).
package schema

import "fmt"

// Kind is a scalar or structural field kind, mirroring protobuf's field
// kind space closely enough for path/query binding validation.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat
	KindDouble
	KindBytes
	KindMessage
	KindEnum
	KindRepeated
)

// Field describes one field of a Message.
type Field struct {
	Name     string
	JSONName string // camelCase wire name; defaults to Name if empty
	Kind     Kind
	Message  *Message // set when Kind == KindMessage or KindRepeated of message
}

// Message describes the shape of a request or response message well
// enough to validate and resolve dotted field paths like "job.id".
type Message struct {
	Name   string
	Fields map[string]*Field
}

// NewMessage constructs a Message from a flat field list.
func NewMessage(name string, fields ...Field) *Message {
	m := &Message{Name: name, Fields: make(map[string]*Field, len(fields))}
	for i := range fields {
		f := fields[i]
		if f.JSONName == "" {
			f.JSONName = f.Name
		}
		m.Fields[f.Name] = &f
	}
	return m
}

// Resolve walks a dotted field path (e.g. "job.id") against m and returns
// the leaf Field, or an error if any segment doesn't exist or traverses
// through a non-message field.
func (m *Message) Resolve(path string) (*Field, error) {
	cur := m
	segs := splitDots(path)
	var leaf *Field

	for i, seg := range segs {
		f, ok := cur.Fields[seg]
		if !ok {
			return nil, fmt.Errorf("schema: message %q has no field %q (in path %q)", cur.Name, seg, path)
		}
		leaf = f
		if i < len(segs)-1 {
			if f.Kind != KindMessage || f.Message == nil {
				return nil, fmt.Errorf("schema: field %q in path %q is not a message, cannot descend further", seg, path)
			}
			cur = f.Message
		}
	}
	return leaf, nil
}

func splitDots(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Method describes one RPC method's request/response shapes, used by the
// mapper to validate a binding's path/query/body selectors compile
// against real fields.
type Method struct {
	ServiceName string
	MethodName  string
	Request     *Message
	Response    *Message
}

// FullName returns "ServiceName/MethodName", the gRPC wire method name.
func (m *Method) FullName() string {
	return m.ServiceName + "/" + m.MethodName
}
