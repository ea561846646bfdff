// Package listview drives a paginated, filtered and sorted view over one
// doctype. List, report and the alternate views share one query loop.
package listview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/route"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui"
)

// Server methods.
const (
	MethodGetList  = "frappe.desk.reportview.get"
	MethodGetCount = "frappe.desk.reportview.get_count"
)

const (
	DefaultPageLength = 20
	DefaultThrottle   = 3 * time.Second
	DefaultDebounce   = 2 * time.Second
)

// View is the presentation a list is rendered as.
type View string

const (
	ViewList     View = "List"
	ViewReport   View = "Report"
	ViewKanban   View = "Kanban"
	ViewCalendar View = "Calendar"
	ViewMap      View = "Map"
	ViewImage    View = "Image"
)

// Views lists every supported view.
var Views = []View{ViewList, ViewReport, ViewKanban, ViewCalendar, ViewMap, ViewImage}

// ParseView maps a route mode to a View, defaulting to List.
func ParseView(s string) View {
	for _, v := range Views {
		if string(v) == s {
			return v
		}
	}
	return ViewList
}

// ErrNotPermitted is returned when the user may not read the doctype.
var ErrNotPermitted = errors.New("listview: not permitted")

// Controller holds the query state and the loaded rows of one list.
type Controller struct {
	sess  *session.Session
	owner string

	Doctype    string
	View       View
	Fields     []string
	Filters    types.Filters
	SortBy     string
	SortOrder  string
	Start      int
	PageLength int
	// GroupBy is the column field a kanban board groups rows by.
	GroupBy string

	Throttle time.Duration
	Debounce time.Duration
	// Router, when set, has the list's filters mirrored into its query.
	Router *route.Router

	mu       sync.Mutex
	meta     *meta.DocType
	data     []*types.Document
	total    int
	selected map[string]bool
	lastKey  string
	lastAt   time.Time

	pmu     sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New creates a list controller for doctype. Metadata is fetched on the
// first refresh.
func New(sess *session.Session, doctype string) *Controller {
	return &Controller{
		sess:       sess,
		owner:      "list:" + uuid.New().String()[:8],
		Doctype:    doctype,
		View:       ViewList,
		PageLength: DefaultPageLength,
		Throttle:   DefaultThrottle,
		Debounce:   DefaultDebounce,
		selected:   make(map[string]bool),
	}
}

// Owner identifies the controller on the session bus.
func (l *Controller) Owner() string { return l.owner }

// Data returns the loaded rows in display order.
func (l *Controller) Data() []*types.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*types.Document(nil), l.data...)
}

// Total returns the server count of rows matching the filters.
func (l *Controller) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Args returns the argument map sent to the list and count methods.
func (l *Controller) Args() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.args(l.Filters, l.Start, l.PageLength)
}

func (l *Controller) args(filters types.Filters, start, length int) map[string]any {
	sortBy, order := l.SortBy, l.SortOrder
	if sortBy == "" && l.meta != nil {
		sortBy, order = l.meta.DefaultSort()
	}
	if sortBy == "" {
		sortBy = "modified"
	}
	if order == "" {
		order = "desc"
	}
	if filters == nil {
		filters = types.Filters{}
	}
	a := map[string]any{
		"doctype":            l.Doctype,
		"fields":             l.fields(),
		"filters":            filters,
		"order_by":           sortBy + " " + order,
		"start":              start,
		"page_length":        length,
		"view":               string(l.View),
		"with_comment_count": true,
	}
	if l.View == ViewKanban && l.GroupBy != "" {
		a["group_by_field"] = l.GroupBy
	}
	return a
}

func countArgs(doctype string, filters types.Filters) map[string]any {
	if filters == nil {
		filters = types.Filters{}
	}
	return map[string]any{"doctype": doctype, "filters": filters, "distinct": false}
}

// fields always includes name, docstatus and modified, then the configured
// columns, the title field and the kanban column.
func (l *Controller) fields() []string {
	seen := map[string]bool{}
	var out []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	add("name")
	add("docstatus")
	add("modified")
	cols := l.Fields
	if len(cols) == 0 && l.meta != nil {
		cols = l.meta.ListViewFields()
	}
	for _, f := range cols {
		add(f)
	}
	if l.meta != nil {
		add(l.meta.TitleField)
	}
	if l.View == ViewKanban {
		add(l.GroupBy)
	}
	return out
}

// Refresh queries the server with the current state. A call whose
// serialized arguments equal the previous one within the throttle window
// returns without a network call.
func (l *Controller) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refresh(ctx, l.Start, l.PageLength)
}

func (l *Controller) refresh(ctx context.Context, start, length int) error {
	l.sess.Touch()
	if err := l.loadMeta(ctx); err != nil {
		return err
	}

	args := l.args(l.Filters, start, length)
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding list args: %w", err)
	}
	key, now := string(b), l.sess.Now()
	if key == l.lastKey && now.Sub(l.lastAt) < l.Throttle {
		glog.V(2).Infof("listview %s: refresh throttled", l.Doctype)
		return nil
	}
	l.lastKey, l.lastAt = key, now

	rows, err := l.query(ctx, args)
	if err != nil {
		l.lastKey = ""
		return l.report(err)
	}
	resp, err := l.sess.RPC.Call(ctx, MethodGetCount, countArgs(l.Doctype, l.Filters))
	if err != nil {
		l.lastKey = ""
		return l.report(err)
	}
	var count int
	if err := resp.Decode(&count); err != nil {
		return err
	}

	if start == 0 {
		l.data = rows
	} else {
		l.data = append(l.data, rows...)
	}
	l.data = dedupe(l.data)
	l.total = count
	l.pruneSelection()
	l.mirror()
	l.render()
	return nil
}

func (l *Controller) loadMeta(ctx context.Context) error {
	if l.meta != nil {
		return nil
	}
	dt, err := l.sess.Meta.Get(ctx, l.Doctype)
	if err != nil {
		return l.report(err)
	}
	if len(dt.Permissions) > 0 && !dt.HasPermission(l.sess.Roles, meta.PermRead) {
		l.sess.UI.Msgprint("Not Permitted", []string{"No permission to read " + l.Doctype})
		return ErrNotPermitted
	}
	l.meta = dt
	return nil
}

func (l *Controller) query(ctx context.Context, args map[string]any) ([]*types.Document, error) {
	resp, err := l.sess.RPC.Call(ctx, MethodGetList, args)
	if err != nil {
		return nil, err
	}
	return decodeRows(resp, l.Doctype)
}

// decodeRows accepts the compressed {keys, values} shape as well as a plain
// list of objects.
func decodeRows(resp *rpc.Response, doctype string) ([]*types.Document, error) {
	var maps []map[string]any
	var compressed struct {
		Keys   []string `json:"keys"`
		Values [][]any  `json:"values"`
	}
	if err := resp.Decode(&compressed); err == nil && compressed.Keys != nil {
		for _, vals := range compressed.Values {
			m := make(map[string]any, len(compressed.Keys))
			for i, k := range compressed.Keys {
				if i < len(vals) {
					m[k] = vals[i]
				}
			}
			maps = append(maps, m)
		}
	} else if err := resp.Decode(&maps); err != nil {
		return nil, fmt.Errorf("decoding %s rows: %w", doctype, err)
	}

	out := make([]*types.Document, 0, len(maps))
	for _, m := range maps {
		d := types.FromMap(m)
		if d.Doctype == "" {
			d.Doctype = doctype
		}
		out = append(out, d)
	}
	return out, nil
}

// dedupe keeps the first row for each name.
func dedupe(rows []*types.Document) []*types.Document {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out
}

// LoadMore appends the next page.
func (l *Controller) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Start = len(l.data)
	return l.refresh(ctx, l.Start, l.PageLength)
}

// SetPageLength changes the page size. Shrinking reloads from the first
// row; growing fetches only the rows missing from the new size.
func (l *Controller) SetPageLength(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("listview: page length must be positive, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < l.PageLength {
		l.PageLength, l.Start = n, 0
		return l.refresh(ctx, 0, n)
	}
	l.PageLength = n
	have := len(l.data)
	if have >= n {
		l.render()
		return nil
	}
	l.Start = have
	return l.refresh(ctx, have, n-have)
}

// AddFilter appends a condition and reloads from the first row.
func (l *Controller) AddFilter(ctx context.Context, f types.Filter) error {
	if f.Doctype == "" {
		f.Doctype = l.Doctype
	}
	if err := f.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Filters = append(l.Filters, f)
	l.Start = 0
	return l.refresh(ctx, 0, l.PageLength)
}

// RemoveFilter drops every condition on field and reloads from the first row.
func (l *Controller) RemoveFilter(ctx context.Context, field string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.Filters[:0]
	for _, f := range l.Filters {
		if f.Field != field {
			out = append(out, f)
		}
	}
	l.Filters = out
	l.Start = 0
	return l.refresh(ctx, 0, l.PageLength)
}

// ClearFilters drops every condition and reloads from the first row.
func (l *Controller) ClearFilters(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Filters = nil
	l.Start = 0
	return l.refresh(ctx, 0, l.PageLength)
}

// SetSort changes the ordering and reloads from the first row.
func (l *Controller) SetSort(ctx context.Context, field, order string) error {
	if order != "asc" && order != "desc" {
		return fmt.Errorf("listview: sort order must be asc or desc, got %q", order)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SortBy, l.SortOrder = field, order
	l.Start = 0
	return l.refresh(ctx, 0, l.PageLength)
}

// SetView switches the presentation. groupBy names the kanban column field
// and is ignored by other views.
func (l *Controller) SetView(ctx context.Context, v View, groupBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.View = v
	if v == ViewKanban {
		l.GroupBy = groupBy
	}
	l.Start = 0
	return l.refresh(ctx, 0, l.PageLength)
}

// ApplyRoute takes view and filters from a list route, as when the user
// opens a bookmarked location. It does not refresh.
func (l *Controller) ApplyRoute(r route.Route) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Doctype != "" {
		l.Doctype = r.Doctype
	}
	l.View = ParseView(r.NameOrMode)
	if l.View == ViewKanban && len(r.Rest) > 0 {
		l.GroupBy = r.Rest[0]
	}
	l.Filters = route.FiltersFromQuery(l.Doctype, r.Query)
	l.Start = 0
}

// Route returns the location of the list with its filters mirrored.
func (l *Controller) Route() route.Route {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.route()
}

func (l *Controller) route() route.Route {
	r := route.Route{View: route.ViewList, Doctype: l.Doctype, NameOrMode: string(l.View)}
	if l.View == ViewKanban && l.GroupBy != "" {
		r.Rest = []string{l.GroupBy}
	}
	if len(l.Filters) > 0 {
		r.Query = route.FiltersToQuery(l.Filters)
	}
	return r
}

func (l *Controller) mirror() {
	if l.Router != nil {
		l.Router.Replace(l.route())
	}
}

// Select adds names to the selection. Names not loaded are ignored.
func (l *Controller) Select(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range names {
		if l.indexOf(n) >= 0 {
			l.selected[n] = true
		}
	}
}

// Deselect removes names from the selection.
func (l *Controller) Deselect(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range names {
		delete(l.selected, n)
	}
}

// SelectAll selects every loaded row.
func (l *Controller) SelectAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range l.data {
		l.selected[d.Name] = true
	}
}

// ClearSelection deselects everything.
func (l *Controller) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = make(map[string]bool)
}

// Selected returns the selected names in display order.
func (l *Controller) Selected() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectedNames()
}

func (l *Controller) selectedNames() []string {
	var out []string
	for _, d := range l.data {
		if l.selected[d.Name] {
			out = append(out, d.Name)
		}
	}
	return out
}

func (l *Controller) pruneSelection() {
	for n := range l.selected {
		if l.indexOf(n) < 0 {
			delete(l.selected, n)
		}
	}
}

func (l *Controller) indexOf(name string) int {
	for i, d := range l.data {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// ViewModel builds the view model of the list.
func (l *Controller) ViewModel() ui.ListView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewModel()
}

func (l *Controller) viewModel() ui.ListView {
	v := ui.ListView{
		Doctype:    l.Doctype,
		View:       string(l.View),
		Columns:    l.fields(),
		Total:      l.total,
		Start:      l.Start,
		PageLength: l.PageLength,
		Selected:   l.selectedNames(),
	}
	for _, d := range l.data {
		v.Rows = append(v.Rows, d.AsMap())
	}
	for _, f := range l.Filters {
		v.Filters = append(v.Filters, fmt.Sprintf("%s %s %v", f.Field, f.Operator, f.Value))
	}
	if l.View == ViewKanban && l.GroupBy != "" {
		v.Groups, v.GroupOrder = l.groups()
	}
	return v
}

func (l *Controller) render() {
	l.sess.UI.RenderList(l.viewModel())
}

func (l *Controller) report(err error) error {
	if rpc.IsPermission(err) {
		l.sess.UI.Msgprint("Not Permitted", []string{rpc.Describe(err)})
		return err
	}
	glog.Errorf("listview %s: %v", l.Doctype, err)
	l.sess.UI.Alert(rpc.Describe(err), ui.Red)
	return err
}

// sortedKeys is used for deterministic iteration in logs and tests.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
