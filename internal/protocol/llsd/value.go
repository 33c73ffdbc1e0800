// Package llsd implements the LLSD notation serialization used on the LEAP wire.
//
// Values are plain Go values:
//   - undef: nil
//   - boolean: bool
//   - integer: int (32-bit range)
//   - real: float64
//   - string: string
//   - uuid: uuid.UUID
//   - binary: []byte
//   - date: time.Time
//   - uri: URI
//   - map: Map
//   - array: Array
package llsd

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Map is an LLSD map.
type Map = map[string]any

// Array is an LLSD array.
type Array = []any

// URI is an LLSD uri, kept distinct from string so it round-trips as l"...".
type URI string

// Lookup walks nested maps by key.
func Lookup(v any, path ...string) (any, bool) {
	cur := v
	for _, key := range path {
		m, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether the nested key path exists.
func Has(v any, path ...string) bool {
	_, ok := Lookup(v, path...)
	return ok
}

// AsString converts scalars the way LLSD asString does. Maps, arrays and undef
// yield "".
func AsString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case URI:
		return string(x)
	case uuid.UUID:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return ""
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	default:
		return ""
	}
}

// AsInteger converts numeric, boolean and numeric-string values to int.
func AsInteger(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// AsBool follows LLSD truthiness for scalars.
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case uuid.UUID:
		return x != uuid.Nil
	default:
		return false
	}
}

// AsUUID accepts uuid values and strings in canonical form. Anything else yields
// uuid.Nil.
func AsUUID(v any) uuid.UUID {
	switch x := v.(type) {
	case uuid.UUID:
		return x
	case string:
		id, err := uuid.Parse(strings.TrimSpace(x))
		if err != nil {
			return uuid.Nil
		}
		return id
	default:
		return uuid.Nil
	}
}

// ToArray wraps a non-array value in a one-element array.
func ToArray(v any) Array {
	switch x := v.(type) {
	case Array:
		return x
	case []string:
		out := make(Array, 0, len(x))
		for _, s := range x {
			out = append(out, s)
		}
		return out
	default:
		return Array{v}
	}
}

// CloneMap returns a shallow copy of m. A nil map yields an empty map.
func CloneMap(m Map) Map {
	out := make(Map, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
