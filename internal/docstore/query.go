package docstore

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpArrayContains Op = "array-contains"
	OpIn            Op = "in"
)

// FieldID filters or orders on the document id instead of a field.
const FieldID = "__id__"

// Filter restricts a query to documents whose field satisfies Op against Value.
type Filter struct {
	Path  string `json:"path"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query selects documents of one collection.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"orderBy,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Offset     int      `json:"offset,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// From starts a query over a collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(path string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Path: path, Op: op, Value: Normalize(value)})
	return q
}

// Order returns a copy of q ordered by path.
func (q Query) Order(path string, descending bool) Query {
	q.OrderBy = path
	q.Descending = descending
	return q
}

// Page returns a copy of q with offset and limit set.
func (q Query) Page(offset, limit int) Query {
	q.Offset = offset
	q.Limit = limit
	return q
}

// Matches reports whether the snapshot satisfies every filter.
func (q Query) Matches(s *Snapshot) bool {
	if s == nil || !s.Exists || s.Ref.Collection != q.Collection {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(s) {
			return false
		}
	}
	return true
}

func (f Filter) matches(s *Snapshot) bool {
	var field any
	if f.Path == FieldID {
		field = s.Ref.ID
	} else {
		field = GetPath(s.Data, f.Path)
	}
	switch f.Op {
	case OpEqual:
		return Equal(field, f.Value)
	case OpNotEqual:
		return !Equal(field, f.Value)
	case OpArrayContains:
		arr, ok := Normalize(field).([]any)
		return ok && indexOf(arr, f.Value) >= 0
	case OpIn:
		values, ok := Normalize(f.Value).([]any)
		return ok && indexOf(values, field) >= 0
	}
	return false
}

// Apply filters, orders and pages docs in memory. The sort is stable, so
// documents with equal keys keep their input order.
func (q Query) Apply(docs []*Snapshot) []*Snapshot {
	out := make([]*Snapshot, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		key := func(s *Snapshot) any {
			if q.OrderBy == FieldID {
				return s.Ref.ID
			}
			return GetPath(s.Data, q.OrderBy)
		}
		sort.SliceStable(out, func(i, j int) bool {
			c := Compare(key(out[i]), key(out[j]))
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Equal compares two stored values, treating int64 and float64 as numbers.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders stored values: nil first, then booleans, numbers, strings.
// Strings that both parse as RFC 3339 times compare chronologically.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 2:
		fa, _ := number(a)
		fb, _ := number(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		sa, sb := a.(string), b.(string)
		if ta, err := time.Parse(time.RFC3339Nano, sa); err == nil {
			if tb, err := time.Parse(time.RFC3339Nano, sb); err == nil {
				return ta.Compare(tb)
			}
		}
		return strings.Compare(sa, sb)
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Int reads a numeric field as int64, treating anything else as zero.
func Int(v any) int64 {
	switch n := Normalize(v).(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Strings reads an array field of strings.
func Strings(v any) []string {
	arr, _ := Normalize(v).([]any)
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether an array field holds value.
func Contains(v any, value any) bool {
	arr, ok := Normalize(v).([]any)
	return ok && indexOf(arr, value) >= 0
}
