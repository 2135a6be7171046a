package vectorstore

import "fmt"

// Filter is a boolean tree over payload equality predicates. A point
// matches when every Must condition holds, at least one Should condition
// holds (if any are given) and no MustNot condition holds. A nil or empty
// filter matches everything.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition is either an equality test on one payload field or a nested
// filter.
type Condition struct {
	Key    string
	Value  any
	Filter *Filter
}

// Match builds a payload[key] == value condition.
func Match(key string, value any) Condition {
	return Condition{Key: key, Value: value}
}

// Nested wraps a sub-filter as a condition.
func Nested(f *Filter) Condition {
	return Condition{Filter: f}
}

// MatchAny holds when payload[key] equals any of values.
func MatchAny(key string, values ...any) Condition {
	f := &Filter{Should: make([]Condition, 0, len(values))}
	for _, v := range values {
		f.Should = append(f.Should, Match(key, v))
	}
	return Nested(f)
}

// And returns a filter requiring every condition.
func And(conds ...Condition) *Filter {
	return &Filter{Must: conds}
}

// IsEmpty reports whether the filter has no conditions at all.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// Matches evaluates the filter against a payload.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	if len(f.Should) > 0 {
		matched := false
		for _, c := range f.Should {
			if c.matches(payload) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	if c.Filter != nil {
		return c.Filter.Matches(payload)
	}
	got, ok := payload[c.Key]
	if !ok {
		return false
	}
	return valuesEqual(got, c.Value)
}

// valuesEqual compares payload scalars. Numbers compare by value whatever
// their Go type, since payloads may come back from JSON or protobuf with a
// different width than they were written with.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// topLevelEquals returns the string-valued Must conditions at the root of
// the filter, which backends can push down as simple where clauses.
func (f *Filter) topLevelEquals() map[string]string {
	if f == nil {
		return nil
	}
	var out map[string]string
	for _, c := range f.Must {
		if c.Filter != nil {
			continue
		}
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[c.Key] = s
	}
	return out
}
