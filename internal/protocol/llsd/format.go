package llsd

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("llsd: unsupported type")
	ErrIntegerRange    = errors.New("llsd: integer out of 32-bit range")
)

// Format encodes v as notation. Map keys are written in sorted order so equal
// values always produce equal bytes.
func Format(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := formatValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte('!')
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		return formatInt(buf, int64(x))
	case int8:
		return formatInt(buf, int64(x))
	case int16:
		return formatInt(buf, int64(x))
	case int32:
		return formatInt(buf, int64(x))
	case int64:
		return formatInt(buf, x)
	case uint8:
		return formatInt(buf, int64(x))
	case uint16:
		return formatInt(buf, int64(x))
	case uint32:
		return formatInt(buf, int64(x))
	case float32:
		buf.WriteByte('r')
		buf.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case float64:
		buf.WriteByte('r')
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		writeQuoted(buf, x, '\'')
	case URI:
		buf.WriteByte('l')
		writeQuoted(buf, string(x), '"')
	case uuid.UUID:
		buf.WriteByte('u')
		buf.WriteString(x.String())
	case []byte:
		buf.WriteString(`b64"`)
		buf.WriteString(base64.StdEncoding.EncodeToString(x))
		buf.WriteByte('"')
	case time.Time:
		buf.WriteByte('d')
		if x.IsZero() {
			buf.WriteString(`""`)
		} else {
			writeQuoted(buf, x.UTC().Format(time.RFC3339Nano), '"')
		}
	case Map:
		return formatMap(buf, x)
	case Array:
		return formatArray(buf, x)
	default:
		return formatReflect(buf, v)
	}
	return nil
}

func formatInt(buf *bytes.Buffer, n int64) error {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrIntegerRange, n)
	}
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	return nil
}

func formatMap(buf *bytes.Buffer, m Map) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeQuoted(buf, k, '\'')
		buf.WriteByte(':')
		if err := formatValue(buf, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func formatArray(buf *bytes.Buffer, a Array) error {
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := formatValue(buf, v); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

// formatReflect handles typed slices and string-keyed maps such as []float64
// or map[string]string.
func formatReflect(buf *bytes.Buffer, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		arr := make(Array, rv.Len())
		for i := range arr {
			arr[i] = rv.Index(i).Interface()
		}
		return formatArray(buf, arr)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key %s", ErrUnsupportedType, rv.Type().Key())
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return formatMap(buf, m)
	case reflect.Pointer:
		if rv.IsNil() {
			buf.WriteByte('!')
			return nil
		}
		return formatValue(buf, rv.Elem().Interface())
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func writeQuoted(buf *bytes.Buffer, s string, q byte) {
	buf.WriteByte(q)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == q || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(buf, `\x%02x`, c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(q)
}
