package sdk

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Bundle is the string-keyed payload carried by every provider call.
// Values are restricted to what survives a JSON round trip: strings, bools,
// numbers, nil, nested Bundles/maps and lists of those.
type Bundle map[string]any

// Has reports whether key is present
func (b Bundle) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// String returns the string at key, or "" when absent or of another type
func (b Bundle) String(key string) string {
	if s, ok := b[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the bool at key, or def when absent or of another type
func (b Bundle) Bool(key string, def bool) bool {
	if v, ok := b[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the number at key as an int, or def. Numbers decoded from the
// wire arrive as float64.
func (b Bundle) Int(key string, def int) int {
	switch v := b[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return def
	}
}

// Bundle returns the nested bundle at key, or nil
func (b Bundle) Bundle(key string) Bundle {
	switch v := b[key].(type) {
	case Bundle:
		return v
	case map[string]any:
		return Bundle(v)
	default:
		return nil
	}
}

// List returns the list at key, or nil
func (b Bundle) List(key string) []any {
	if v, ok := b[key].([]any); ok {
		return v
	}
	return nil
}

// Strings returns the string list at key, skipping non-string entries
func (b Bundle) Strings(key string) []string {
	switch v := b[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ToStruct converts the bundle to its wire form
func (b Bundle) ToStruct() (*structpb.Struct, error) {
	normalized, err := normalizeMap(b)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(normalized)
}

// FromStruct converts a wire struct back into a bundle. A nil struct gives an
// empty bundle.
func FromStruct(s *structpb.Struct) Bundle {
	if s == nil {
		return Bundle{}
	}
	return Bundle(s.AsMap())
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("bundle key %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case Bundle:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []Bundle:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalizeMap(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case nil, bool, string, int, int32, int64, uint32, uint64, float32, float64:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported bundle value of type %T", v)
	}
}
