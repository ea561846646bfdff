package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/matthewbaird/desk/internal/types"
)

// parseValue reads a command-line value as JSON when it is a number,
// boolean, null, list or object and as a plain string otherwise.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}
	return s
}

// parseAssignments turns field=value pairs into a value map.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		field, value, ok := strings.Cut(p, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("expected field=value, got %q", p)
		}
		out[field] = parseValue(value)
	}
	return out, nil
}

// childRow is one --row flag: a table field and the values of a new row.
type childRow struct {
	Table  string
	Values map[string]any
}

// parseRow reads table:field=value,field=value.
func parseRow(s string) (childRow, error) {
	table, rest, ok := strings.Cut(s, ":")
	table = strings.TrimSpace(table)
	if !ok || table == "" {
		return childRow{}, fmt.Errorf("expected table:field=value[,field=value], got %q", s)
	}
	values, err := parseAssignments(strings.Split(rest, ","))
	if err != nil {
		return childRow{}, fmt.Errorf("row %q: %w", s, err)
	}
	return childRow{Table: table, Values: values}, nil
}

// Operators in match order; longer ones first.
var (
	worded   = []string{"not like", "not in", "between", "like", "in", "is"}
	symbolic = []string{">=", "<=", "!=", "=", ">", "<"}
)

// parseFilter reads a field name followed by an operator and a value:
// "status=Open", "grand_total>=100" or "description like %acme%". Values of
// in, not in and between are comma-separated.
func parseFilter(doctype, s string) (types.Filter, error) {
	i := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if i <= 0 {
		return types.Filter{}, fmt.Errorf("cannot parse filter %q", s)
	}
	field, rest := s[:i], strings.TrimLeft(s[i:], " ")
	f := types.Filter{Doctype: doctype, Field: field}
	for _, op := range worded {
		if v, ok := strings.CutPrefix(rest, op+" "); ok {
			f.Operator, f.Value = op, filterValue(op, strings.TrimSpace(v))
			return f, nil
		}
	}
	for _, op := range symbolic {
		if v, ok := strings.CutPrefix(rest, op); ok {
			f.Operator, f.Value = op, filterValue(op, strings.TrimSpace(v))
			return f, nil
		}
	}
	return types.Filter{}, fmt.Errorf("cannot parse filter %q: unknown operator", s)
}

func filterValue(op, value string) any {
	switch op {
	case "in", "not in", "between":
		var out []any
		for _, p := range strings.Split(value, ",") {
			out = append(out, parseValue(strings.TrimSpace(p)))
		}
		return out
	}
	return parseValue(value)
}

func parseFilters(doctype string, raw []string) (types.Filters, error) {
	var out types.Filters
	for _, r := range raw {
		f, err := parseFilter(doctype, r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
