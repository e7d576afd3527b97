package models

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Well-known field names shared across entity types.
const (
	FieldStatus        = "status"
	FieldScore         = "score"
	FieldResidualScore = "residual_score"
)

// Fields holds the type-erased field values of a record. Values are normalized to
// string, float64 or bool so that snapshots compare equal after a JSON round trip.
type Fields map[string]any

// Clone returns a shallow copy; values are scalars.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	cp := make(Fields, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return cp
}

// Merge applies changes on top of f. A nil change removes the field.
func (f Fields) Merge(changes Fields) Fields {
	out := f.Clone()
	for k, v := range changes {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the field as a string, or "" if absent or not a string.
func (f Fields) String(key string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return ""
}

// Number returns the field as a float64.
func (f Fields) Number(key string) (float64, bool) {
	v, ok := f[key].(float64)
	return v, ok
}

// Has reports whether the field is set.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// Normalize converts decoded or caller-supplied values to the canonical scalar
// representation and drops nil entries.
func Normalize(in map[string]any) Fields {
	out := make(Fields, len(in))
	for k, v := range in {
		nv := NormalizeValue(v)
		if nv == nil {
			continue
		}
		out[k] = nv
	}
	return out
}

// NormalizeValue maps numeric types to float64 and leaves other scalars untouched.
func NormalizeValue(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// Equal compares two field values after normalization.
func Equal(a, b any) bool {
	a, b = NormalizeValue(a), NormalizeValue(b)
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// FormatValue renders a value for log lines and human-facing messages.
func FormatValue(v any) string {
	switch n := NormalizeValue(v).(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		b, _ := json.Marshal(n)
		return string(b)
	}
}
