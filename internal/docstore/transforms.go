package docstore

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Update sets Path to Value. Value may be a plain value or a transform built
// with Increment, ArrayUnion, ArrayRemove or DeleteField.
type Update struct {
	Path  string
	Value any
}

// Transform is applied by the store against the stored value at commit time.
type Transform interface {
	apply(current any) (value any, remove bool, err error)
}

type increment struct{ delta int64 }

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

type deleteField struct{}

// Increment adds delta to a numeric field, treating a missing field as zero.
func Increment(delta int64) Transform { return increment{delta: delta} }

// ArrayUnion appends each value not already present.
func ArrayUnion(values ...any) Transform { return arrayUnion{values: normalizeSlice(values)} }

// ArrayRemove removes every occurrence of each value.
func ArrayRemove(values ...any) Transform { return arrayRemove{values: normalizeSlice(values)} }

// DeleteField removes the field.
var DeleteField Transform = deleteField{}

func (t increment) apply(current any) (any, bool, error) {
	switch v := Normalize(current).(type) {
	case nil:
		return t.delta, false, nil
	case int64:
		return v + t.delta, false, nil
	case float64:
		return v + float64(t.delta), false, nil
	default:
		return nil, false, errors.Errorf("docstore: cannot increment %T", current)
	}
}

func (t arrayUnion) apply(current any) (any, bool, error) {
	arr, err := asArray(current)
	if err != nil {
		return nil, false, err
	}
	for _, v := range t.values {
		if indexOf(arr, v) < 0 {
			arr = append(arr, v)
		}
	}
	return arr, false, nil
}

func (t arrayRemove) apply(current any) (any, bool, error) {
	arr, err := asArray(current)
	if err != nil {
		return nil, false, err
	}
	out := arr[:0]
	for _, v := range arr {
		if indexOf(t.values, v) < 0 {
			out = append(out, v)
		}
	}
	return out, false, nil
}

func (deleteField) apply(any) (any, bool, error) { return nil, true, nil }

func asArray(v any) ([]any, error) {
	switch a := Normalize(v).(type) {
	case nil:
		return []any{}, nil
	case []any:
		out := make([]any, len(a))
		copy(out, a)
		return out, nil
	default:
		return nil, errors.Errorf("docstore: field of type %T is not an array", v)
	}
}

func indexOf(arr []any, v any) int {
	for i, item := range arr {
		if Equal(item, v) {
			return i
		}
	}
	return -1
}

// ApplyUpdates returns a copy of data with updates applied in order.
func ApplyUpdates(data Data, updates []Update) (Data, error) {
	out := Copy(data)
	if out == nil {
		out = Data{}
	}
	for _, u := range updates {
		if u.Path == "" {
			return nil, errors.New("docstore: empty update path")
		}
		if t, ok := u.Value.(Transform); ok {
			value, remove, err := t.apply(GetPath(out, u.Path))
			if err != nil {
				return nil, errors.Wrapf(err, "update %s", u.Path)
			}
			if remove {
				DeletePath(out, u.Path)
				continue
			}
			SetPath(out, u.Path, value)
			continue
		}
		SetPath(out, u.Path, Normalize(u.Value))
	}
	return out, nil
}

// GetPath reads a dotted path.
func GetPath(data Data, path string) any {
	var cur any = map[string]any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// SetPath writes a dotted path, creating intermediate maps.
func SetPath(data Data, path string, value any) {
	parts := strings.Split(path, ".")
	m := map[string]any(data)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]any{}
		}
		m[part] = next
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// DeletePath removes a dotted path if present.
func DeletePath(data Data, path string) {
	parts := strings.Split(path, ".")
	m := map[string]any(data)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Data:
		return m, true
	}
	return nil, false
}

// Copy deep-copies document data.
func Copy(data Data) Data {
	if data == nil {
		return nil
	}
	return Data(copyValue(map[string]any(data)).(map[string]any))
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case Data:
		return copyValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// Normalize converts values to the canonical shapes every backend stores:
// map[string]any, []any, string, bool, int64, float64 and nil. Integral
// floats become int64 and times become RFC 3339 strings in UTC.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64:
		return t
	case Data:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []any:
		return normalizeSlice(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		data, err := ToData(map[string]any{"v": v})
		if err != nil {
			return v
		}
		return data["v"]
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// NormalizeData normalizes every field of a document.
func NormalizeData(d Data) Data {
	if d == nil {
		return nil
	}
	return Data(normalizeMap(d))
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}
