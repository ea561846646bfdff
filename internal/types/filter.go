package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Filter is one (doctype, field, operator, value) condition of a list query.
// On the wire it is the array ["ToDo","status","=","Open"].
type Filter struct {
	Doctype  string
	Field    string
	Operator string
	Value    any
}

// Filters is an ordered filter set. Duplicates are allowed.
type Filters []Filter

// Operators understood by Match and the list query.
var Operators = []string{"=", "!=", ">", "<", ">=", "<=", "like", "not like", "in", "not in", "is", "between"}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Doctype, f.Field, f.Operator, f.Value})
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var parts []any
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	switch len(parts) {
	case 3:
		f.Field, f.Operator, f.Value = toString(parts[0]), toString(parts[1]), parts[2]
	case 4:
		f.Doctype, f.Field, f.Operator, f.Value = toString(parts[0]), toString(parts[1]), toString(parts[2]), parts[3]
	default:
		return fmt.Errorf("filter must have 3 or 4 elements, got %d", len(parts))
	}
	return nil
}

func (f Filter) String() string {
	return fmt.Sprintf("%s.%s %s %v", f.Doctype, f.Field, f.Operator, f.Value)
}

// Validate checks the operator is known.
func (f Filter) Validate() error {
	op := strings.ToLower(f.Operator)
	for _, o := range Operators {
		if o == op {
			return nil
		}
	}
	return fmt.Errorf("unknown filter operator %q", f.Operator)
}

// Match evaluates the filter against a document.
func (f Filter) Match(d *Document) bool {
	v := d.Get(f.Field)
	switch strings.ToLower(f.Operator) {
	case "=":
		return compare(v, f.Value) == 0
	case "!=":
		return compare(v, f.Value) != 0
	case ">":
		return compare(v, f.Value) > 0
	case "<":
		return compare(v, f.Value) < 0
	case ">=":
		return compare(v, f.Value) >= 0
	case "<=":
		return compare(v, f.Value) <= 0
	case "like":
		return like(toString(v), toString(f.Value))
	case "not like":
		return !like(toString(v), toString(f.Value))
	case "in":
		return inList(v, f.Value)
	case "not in":
		return !inList(v, f.Value)
	case "is":
		set := !IsNull(v)
		if toString(f.Value) == "set" {
			return set
		}
		return !set
	case "between":
		bounds := listOf(f.Value)
		if len(bounds) != 2 {
			return false
		}
		return compare(v, bounds[0]) >= 0 && compare(v, bounds[1]) <= 0
	}
	return false
}

// Match reports whether the document satisfies every filter.
func (fs Filters) Match(d *Document) bool {
	for _, f := range fs {
		if f.Doctype != "" && f.Doctype != d.Doctype {
			continue
		}
		if !f.Match(d) {
			return false
		}
	}
	return true
}

// Compare orders two field values, numerically when both are numbers and
// as strings otherwise.
func Compare(a, b any) int { return compare(a, b) }

func compare(a, b any) int {
	af, aok := number(a)
	bf, bok := number(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func number(v any) (float64, bool) {
	switch vv := v.(type) {
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case float64:
		return vv, true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	}
	return 0, false
}

// like implements SQL LIKE with % wildcards, case-insensitively.
func like(s, pattern string) bool {
	s, pattern = strings.ToLower(s), strings.ToLower(pattern)
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}

func inList(v, list any) bool {
	for _, item := range listOf(list) {
		if compare(v, item) == 0 {
			return true
		}
	}
	return false
}

func listOf(v any) []any {
	switch vv := v.(type) {
	case []any:
		return vv
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	case string:
		var out []any
		for _, s := range strings.Split(vv, ",") {
			out = append(out, strings.TrimSpace(s))
		}
		return out
	}
	return nil
}
