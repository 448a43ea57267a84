package restmap

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/tracdap/platform-gateway/internal/gateway/restmap/schema"
)

// ToJSON renders a dynamic field-value map as protobuf canonical JSON:
// field names are the schema's JSON (camelCase) names, 64-bit integer
// kinds are encoded as JSON strings, and byte slices are base64-encoded
// (standard alphabet, per the protobuf JSON mapping).
func ToJSON(msg *schema.Message, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		f, ok := msg.Fields[name]
		if !ok {
			return nil, fmt.Errorf("restmap: unknown field %q for message %q", name, msg.Name)
		}
		jv, err := toJSONValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("restmap: field %q: %w", name, err)
		}
		out[f.JSONName] = jv
	}
	return out, nil
}

func toJSONValue(f *schema.Field, v any) (any, error) {
	switch f.Kind {
	case schema.KindInt64, schema.KindUint64:
		return fmt.Sprintf("%v", v), nil
	case schema.KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte, got %T", v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case schema.KindMessage:
		sub, ok := v.(map[string]any)
		if !ok || f.Message == nil {
			return nil, fmt.Errorf("expected message value for field kind KindMessage, got %T", v)
		}
		return ToJSON(f.Message, sub)
	default:
		return v, nil
	}
}

// FromJSON parses protobuf canonical JSON values back into Go-native
// values per msg's schema: JSON strings carrying 64-bit integers are
// parsed back to int64/uint64, base64 strings are decoded back to
// []byte, and unrecognized fields are rejected (canonical JSON does not
// tolerate unknown fields by default).
func FromJSON(msg *schema.Message, jsonValues map[string]any) (map[string]any, error) {
	byJSONName := make(map[string]*schema.Field, len(msg.Fields))
	for _, f := range msg.Fields {
		byJSONName[f.JSONName] = f
	}

	out := make(map[string]any, len(jsonValues))
	for jsonName, jv := range jsonValues {
		f, ok := byJSONName[jsonName]
		if !ok {
			return nil, fmt.Errorf("restmap: unknown JSON field %q for message %q", jsonName, msg.Name)
		}
		v, err := fromJSONValue(f, jv)
		if err != nil {
			return nil, fmt.Errorf("restmap: field %q: %w", jsonName, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func fromJSONValue(f *schema.Field, jv any) (any, error) {
	switch f.Kind {
	case schema.KindInt64:
		s, ok := jv.(string)
		if !ok {
			return nil, fmt.Errorf("expected string-encoded int64, got %T", jv)
		}
		return strconv.ParseInt(s, 10, 64)
	case schema.KindUint64:
		s, ok := jv.(string)
		if !ok {
			return nil, fmt.Errorf("expected string-encoded uint64, got %T", jv)
		}
		return strconv.ParseUint(s, 10, 64)
	case schema.KindBytes:
		s, ok := jv.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %T", jv)
		}
		return base64.StdEncoding.DecodeString(s)
	case schema.KindMessage:
		sub, ok := jv.(map[string]any)
		if !ok || f.Message == nil {
			return nil, fmt.Errorf("expected JSON object for message field, got %T", jv)
		}
		return FromJSON(f.Message, sub)
	default:
		return jv, nil
	}
}

// BindPathValue coerces a raw string path-capture value into the Go type
// implied by f.Kind (path captures always arrive as strings; scalar
// numeric/bool fields must be converted before being placed into the
// request value map).
func BindPathValue(f *schema.Field, raw string) (any, error) {
	switch f.Kind {
	case schema.KindString:
		return raw, nil
	case schema.KindBool:
		return strconv.ParseBool(raw)
	case schema.KindInt32:
		n, err := strconv.ParseInt(raw, 10, 32)
		return int32(n), err
	case schema.KindInt64:
		return strconv.ParseInt(raw, 10, 64)
	case schema.KindUint32:
		n, err := strconv.ParseUint(raw, 10, 32)
		return uint32(n), err
	case schema.KindUint64:
		return strconv.ParseUint(raw, 10, 64)
	case schema.KindFloat:
		n, err := strconv.ParseFloat(raw, 32)
		return float32(n), err
	case schema.KindDouble:
		return strconv.ParseFloat(raw, 64)
	default:
		return nil, fmt.Errorf("restmap: field kind %v is not a valid path-capture target", f.Kind)
	}
}
