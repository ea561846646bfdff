// Package route encodes desk locations as "View/Doctype/NameOrMode/...?query"
// and mirrors list filters into the query string.
package route

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/types"
)

// Views addressed by routes.
const (
	ViewList  = "List"
	ViewForm  = "Form"
	ViewTree  = "Tree"
	ViewQuery = "query-report"
)

// Route is one parsed location.
type Route struct {
	View       string
	Doctype    string
	NameOrMode string
	Rest       []string
	Query      url.Values
}

// Parse splits a route string. A leading slash or "app/" prefix is ignored.
func Parse(s string) (Route, error) {
	var r Route
	path, rawQuery, _ := strings.Cut(strings.TrimSpace(s), "?")
	path = strings.Trim(path, "/")
	path = strings.TrimPrefix(path, "app/")

	if rawQuery != "" {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return Route{}, err
		}
		r.Query = q
	}

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		u, err := url.PathUnescape(p)
		if err != nil {
			return Route{}, err
		}
		parts = append(parts, u)
	}
	if len(parts) > 0 {
		r.View = parts[0]
	}
	if len(parts) > 1 {
		r.Doctype = parts[1]
	}
	if len(parts) > 2 {
		r.NameOrMode = parts[2]
	}
	if len(parts) > 3 {
		r.Rest = parts[3:]
	}
	return r, nil
}

// String renders the route; query keys are emitted in sorted order.
func (r Route) String() string {
	var segs []string
	for _, p := range append([]string{r.View, r.Doctype, r.NameOrMode}, r.Rest...) {
		if p == "" {
			break
		}
		segs = append(segs, url.PathEscape(p))
	}
	s := strings.Join(segs, "/")
	if len(r.Query) > 0 {
		s += "?" + r.Query.Encode()
	}
	return s
}

// Equal reports whether both routes address the same location.
func (r Route) Equal(o Route) bool { return r.String() == o.String() }

// FiltersToQuery mirrors filters into query values. Equality filters become
// field=value; any other operator becomes field=["op",value] JSON.
func FiltersToQuery(filters types.Filters) url.Values {
	q := url.Values{}
	for _, f := range filters {
		if f.Operator == "=" {
			q.Add(f.Field, scalar(f.Value))
			continue
		}
		b, err := json.Marshal([]any{f.Operator, f.Value})
		if err != nil {
			glog.Warningf("route: dropping filter %s: %v", f, err)
			continue
		}
		q.Add(f.Field, string(b))
	}
	return q
}

// FiltersFromQuery is the inverse of FiltersToQuery. Keys are read in sorted
// order so the result is deterministic.
func FiltersFromQuery(doctype string, q url.Values) types.Filters {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out types.Filters
	for _, k := range keys {
		for _, v := range q[k] {
			f := types.Filter{Doctype: doctype, Field: k, Operator: "=", Value: v}
			if strings.HasPrefix(v, "[") {
				var pair []any
				if err := json.Unmarshal([]byte(v), &pair); err == nil && len(pair) == 2 {
					if op, ok := pair[0].(string); ok {
						f.Operator, f.Value = op, pair[1]
					}
				}
			}
			out = append(out, f)
		}
	}
	return out
}

func scalar(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Router tracks the current route and suppresses redundant navigation.
type Router struct {
	mu       sync.Mutex
	current  Route
	history  []Route
	onChange []func(Route)
}

// OnChange registers fn to run after every navigation that changes the route.
func (r *Router) OnChange(fn func(Route)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Navigate moves to to and reports whether the location changed. Listeners
// only run on change.
func (r *Router) Navigate(to Route) bool {
	r.mu.Lock()
	if r.current.Equal(to) {
		r.mu.Unlock()
		glog.V(2).Infof("route: %s unchanged", to)
		return false
	}
	r.history = append(r.history, r.current)
	r.current = to
	fns := append([]func(Route){}, r.onChange...)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(to)
	}
	return true
}

// Replace updates the current route without notifying listeners, as when a
// list mirrors its filters.
func (r *Router) Replace(to Route) {
	r.mu.Lock()
	r.current = to
	r.mu.Unlock()
}

// Back returns to the previous route. It reports false when there is none.
func (r *Router) Back() bool {
	r.mu.Lock()
	if len(r.history) == 0 {
		r.mu.Unlock()
		return false
	}
	prev := r.history[len(r.history)-1]
	r.history = r.history[:len(r.history)-1]
	r.current = prev
	fns := append([]func(Route){}, r.onChange...)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(prev)
	}
	return true
}

// Current returns the current route.
func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
