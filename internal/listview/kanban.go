package listview

import (
	"strings"

	"github.com/matthewbaird/desk/internal/types"
)

// groups buckets loaded rows by the kanban column field. Columns follow the
// field's Select options when known, then any other values in first-seen
// order; rows with an empty value land in the "" column.
func (l *Controller) groups() (map[string][]string, []string) {
	groups := make(map[string][]string)
	var order []string
	seen := make(map[string]bool)
	col := func(v string) {
		if !seen[v] {
			seen[v] = true
			order = append(order, v)
		}
	}

	if l.meta != nil {
		if f := l.meta.Field(l.GroupBy); f != nil && f.Fieldtype == "Select" {
			for _, opt := range strings.Split(f.Options, "\n") {
				if opt = strings.TrimSpace(opt); opt != "" {
					col(opt)
				}
			}
		}
	}
	for _, d := range l.data {
		v := columnOf(d, l.GroupBy)
		col(v)
		groups[v] = append(groups[v], d.Name)
	}
	return groups, order
}

func columnOf(d *types.Document, field string) string {
	if types.IsNull(d.Get(field)) {
		return ""
	}
	return d.GetString(field)
}

// Column returns the names in one kanban column.
func (l *Controller) Column(value string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, d := range l.data {
		if columnOf(d, l.GroupBy) == value {
			out = append(out, d.Name)
		}
	}
	return out
}
