package devserver

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/types"
)

// Save actions accepted by Backend.Save.
const (
	ActionSave   = "Save"
	ActionSubmit = "Submit"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// Actor is the user a backend call runs as.
type Actor struct {
	User  string
	Roles []string
}

// Administrator bypasses permission checks.
var Administrator = Actor{User: "Administrator", Roles: []string{"Administrator"}}

func (a Actor) admin() bool {
	if a.User == "Administrator" {
		return true
	}
	for _, r := range a.Roles {
		if r == "Administrator" {
			return true
		}
	}
	return false
}

// LinkedDoc is a submitted document that links to another one.
type LinkedDoc struct {
	Doctype   string          `json:"doctype"`
	Name      string          `json:"name"`
	DocStatus types.DocStatus `json:"docstatus"`
}

// Backend keeps documents in memory, keyed by doctype and name. It is meant
// for development and tests; nothing is persisted.
type Backend struct {
	mu       sync.RWMutex
	registry *meta.Registry
	docs     map[string]map[string]*types.Document
	series   map[string]int
	pub      event.Publisher
	now      func() time.Time
	last     time.Time
}

// NewBackend creates an empty backend over the doctypes in reg. Changes are
// announced on pub, which may be nil.
func NewBackend(reg *meta.Registry, pub event.Publisher) *Backend {
	return &Backend{
		registry: reg,
		docs:     make(map[string]map[string]*types.Document),
		series:   make(map[string]int),
		pub:      pub,
		now:      time.Now,
	}
}

// Registry returns the doctype definitions served by the backend.
func (b *Backend) Registry() *meta.Registry { return b.registry }

func (b *Backend) doctype(name string) (*meta.DocType, error) {
	dt := b.registry.DocType(name)
	if dt == nil {
		return nil, errNotFound("DocType", name)
	}
	return dt, nil
}

func (b *Backend) can(a Actor, dt *meta.DocType, ptype string) bool {
	return a.admin() || len(dt.Permissions) == 0 || dt.HasPermission(a.Roles, ptype)
}

func (b *Backend) require(a Actor, dt *meta.DocType, ptype string) error {
	if !b.can(a, dt, ptype) {
		return errNotPermitted(ptype, dt.Name)
	}
	return nil
}

// stamp returns a modified timestamp strictly later than the previous one.
// Callers hold b.mu.
func (b *Backend) stamp() string {
	t := b.now().UTC()
	if !t.After(b.last) {
		t = b.last.Add(time.Microsecond)
	}
	b.last = t
	return t.Format(timestampLayout)
}

func (b *Backend) table(doctype string) map[string]*types.Document {
	t, ok := b.docs[doctype]
	if !ok {
		t = make(map[string]*types.Document)
		b.docs[doctype] = t
	}
	return t
}

func (b *Backend) publish(evts []event.Event) {
	if b.pub == nil {
		return
	}
	for _, e := range evts {
		b.pub.Publish(context.Background(), e)
	}
}

func changed(doc *types.Document, user string) []event.Event {
	return []event.Event{
		event.NewDocUpdate(doc.Doctype, doc.Name, doc.Modified, user),
		event.NewListUpdate(doc.Doctype, doc.Name, user),
	}
}

// DocType returns a doctype and its child doctypes.
func (b *Backend) DocType(a Actor, name string) ([]*meta.DocType, error) {
	dt, err := b.doctype(name)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return nil, err
	}
	return b.registry.WithChildren(name), nil
}

// Get returns a copy of one document.
func (b *Backend) Get(a Actor, doctype, name string) (*types.Document, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[doctype][name]
	if !ok {
		return nil, errNotFound(doctype, name)
	}
	return doc.Clone(), nil
}

// Save inserts or updates a document. Updates must carry the modified stamp
// they were loaded with; Submit also moves a draft to Submitted.
func (b *Backend) Save(a Actor, doc *types.Document, action string) (*types.Document, error) {
	if action != ActionSave && action != ActionSubmit {
		return nil, errBadRequest("unknown action %q", action)
	}
	dt, err := b.doctype(doc.Doctype)
	if err != nil {
		return nil, err
	}
	if dt.IsTable {
		return nil, errBadRequest("%s is a child table and cannot be saved on its own", dt.Name)
	}

	b.mu.Lock()
	saved, err := b.save(a, dt, doc.Clone(), action)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.publish(changed(saved, a.User))
	return saved.Clone(), nil
}

// save does the work of Save with b.mu held and returns the stored document.
func (b *Backend) save(a Actor, dt *meta.DocType, doc *types.Document, action string) (*types.Document, error) {
	target := types.Draft
	if action == ActionSubmit {
		target = types.Submitted
		if !dt.IsSubmittable {
			return nil, errValidation("ValidationError", fmt.Sprintf("%s is not submittable", dt.Name))
		}
		if err := b.require(a, dt, meta.PermSubmit); err != nil {
			return nil, err
		}
	}

	var existing *types.Document
	if !doc.IsLocal && doc.Name != "" {
		existing = b.docs[dt.Name][doc.Name]
	}

	if existing == nil {
		if err := b.require(a, dt, meta.PermCreate); err != nil {
			return nil, err
		}
		name, err := b.autoname(dt, doc)
		if err != nil {
			return nil, err
		}
		doc.Name = name
		doc.Owner = a.User
		b.fillDefaults(dt, doc)
		_ = doc.Set("creation", b.now().UTC().Format(timestampLayout))
		doc.DocStatus = types.Draft
	} else {
		if err := b.require(a, dt, meta.PermWrite); err != nil {
			return nil, err
		}
		if doc.Modified != existing.Modified {
			return nil, errTimestamp(dt.Name, doc.Name)
		}
		if existing.DocStatus != types.Draft {
			return nil, errValidation("UpdateAfterSubmitError",
				fmt.Sprintf("Cannot edit %s %s once it is %s", dt.Name, doc.Name, existing.DocStatus))
		}
		doc.Owner = existing.Owner
		_ = doc.Set("creation", existing.Get("creation"))
		doc.DocStatus = existing.DocStatus
	}
	if err := doc.SetDocStatus(target); err != nil {
		return nil, errValidation("ValidationError", err.Error())
	}
	if msgs := b.missing(dt, doc); len(msgs) > 0 {
		return nil, errValidation("MandatoryError", msgs...)
	}

	doc.IsLocal, doc.Unsaved = false, false
	doc.Modified = b.stamp()
	_ = doc.Set("modified_by", a.User)
	for _, f := range dt.TableFields() {
		for i, row := range doc.Children(f.Fieldname) {
			if row.IsLocal || row.Name == "" {
				row.Name = hashName()
			}
			row.Doctype = f.Options
			row.Parent, row.ParentField, row.ParentType = doc.Name, f.Fieldname, doc.Doctype
			row.Idx = i + 1
			row.IsLocal, row.Unsaved = false, false
			row.DocStatus = doc.DocStatus
			row.Modified = doc.Modified
		}
	}

	b.table(dt.Name)[doc.Name] = doc
	glog.V(1).Infof("devserver: %s %s %s by %s", strings.ToLower(action), dt.Name, doc.Name, a.User)
	return doc, nil
}

// fillDefaults sets each empty field that declares a default, child rows
// included.
func (b *Backend) fillDefaults(dt *meta.DocType, doc *types.Document) {
	for _, f := range dt.Fields {
		if f.IsTable() {
			if child := b.registry.DocType(f.Options); child != nil {
				for _, row := range doc.Children(f.Fieldname) {
					b.fillDefaults(child, row)
				}
			}
			continue
		}
		if f.Default == "" || !f.HasValue() || !types.IsNull(doc.Get(f.Fieldname)) {
			continue
		}
		var v any = f.Default
		switch f.Fieldtype {
		case "Check", "Int":
			if n, err := strconv.Atoi(f.Default); err == nil {
				v = n
			}
		case "Float", "Currency", "Percent":
			if n, err := strconv.ParseFloat(f.Default, 64); err == nil {
				v = n
			}
		}
		_ = doc.Set(f.Fieldname, v)
	}
}

// missing returns one message per empty mandatory field, child rows
// included.
func (b *Backend) missing(dt *meta.DocType, doc *types.Document) []string {
	var msgs []string
	for i := range dt.Fields {
		f := &dt.Fields[i]
		if !f.HasValue() || !meta.IsMandatory(f, doc, nil) {
			continue
		}
		if types.IsNull(doc.Get(f.Fieldname)) {
			msgs = append(msgs, fmt.Sprintf("Error: Value missing for %s: %s", dt.Name, f.DisplayLabel()))
		}
	}
	for _, tf := range dt.TableFields() {
		child := b.registry.DocType(tf.Options)
		if child == nil {
			continue
		}
		for _, row := range doc.Children(tf.Fieldname) {
			for i := range child.Fields {
				f := &child.Fields[i]
				if !f.HasValue() || !meta.IsMandatory(f, row, doc) {
					continue
				}
				if types.IsNull(row.Get(f.Fieldname)) {
					msgs = append(msgs, fmt.Sprintf("Error: Value missing for %s: %s (Row %d)", child.Name, f.DisplayLabel(), row.Idx))
				}
			}
		}
	}
	return msgs
}

// autoname names a new document. Amendments take the name of the cancelled
// document with a counter suffix and explicitly named inserts keep their
// name; otherwise the doctype's autoname rule applies: "field:<fieldname>", a series such as "SO-.#####", or a hash.
func (b *Backend) autoname(dt *meta.DocType, doc *types.Document) (string, error) {
	if from := doc.GetString("amended_from"); from != "" {
		return b.amendedName(dt.Name, from), nil
	}
	if !doc.IsLocal && doc.Name != "" {
		// inserted under an explicit name, as when seeding
		return doc.Name, nil
	}
	rule := dt.Autoname
	switch {
	case strings.HasPrefix(rule, "field:"):
		name := strings.TrimSpace(doc.GetString(strings.TrimPrefix(rule, "field:")))
		if name == "" {
			return "", errValidation("MandatoryError", fmt.Sprintf("Error: %s needs %s to be named", dt.Name, strings.TrimPrefix(rule, "field:")))
		}
		if _, dup := b.docs[dt.Name][name]; dup {
			return "", errValidation("DuplicateEntryError", fmt.Sprintf("%s %s already exists", dt.Name, name))
		}
		return name, nil
	case strings.Contains(rule, "#"):
		return b.nextInSeries(rule), nil
	}
	return hashName(), nil
}

// nextInSeries expands "SO-.#####" to "SO-00001", "SO-00002", ...
func (b *Backend) nextInSeries(rule string) string {
	prefix := strings.ReplaceAll(rule[:strings.Index(rule, "#")], ".", "")
	width := strings.Count(rule, "#")
	b.series[prefix]++
	return prefix + fmt.Sprintf("%0*d", width, b.series[prefix])
}

// amendedName gives SO-00001 the amendment SO-00001-1 and SO-00001-1 the
// amendment SO-00001-2.
func (b *Backend) amendedName(doctype, from string) string {
	base, n := from, 1
	if prev, ok := b.docs[doctype][from]; ok && prev.GetString("amended_from") != "" {
		if i := strings.LastIndex(from, "-"); i > 0 {
			if k, err := strconv.Atoi(from[i+1:]); err == nil {
				base, n = from[:i], k+1
			}
		}
	}
	name := fmt.Sprintf("%s-%d", base, n)
	for {
		if _, taken := b.docs[doctype][name]; !taken {
			return name
		}
		n++
		name = fmt.Sprintf("%s-%d", base, n)
	}
}

func hashName() string {
	return strings.ToLower(ulid.Make().String()[16:])
}

// Cancel moves a submitted document to Cancelled.
func (b *Backend) Cancel(a Actor, doctype, name string) (*types.Document, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermCancel); err != nil {
		return nil, err
	}
	b.mu.Lock()
	doc, err := b.cancel(a, dt, name)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.publish(changed(doc, a.User))
	return doc.Clone(), nil
}

func (b *Backend) cancel(a Actor, dt *meta.DocType, name string) (*types.Document, error) {
	doc, ok := b.docs[dt.Name][name]
	if !ok {
		return nil, errNotFound(dt.Name, name)
	}
	if doc.DocStatus != types.Submitted {
		return nil, errValidation("ValidationError", fmt.Sprintf("Cannot cancel %s %s: it is %s", dt.Name, name, doc.DocStatus))
	}
	next := doc.Clone()
	if err := next.SetDocStatus(types.Cancelled); err != nil {
		return nil, errValidation("ValidationError", err.Error())
	}
	next.Modified = b.stamp()
	_ = next.Set("modified_by", a.User)
	for _, f := range next.TableFields() {
		for _, row := range next.Children(f) {
			row.DocStatus = types.Cancelled
			row.Modified = next.Modified
		}
	}
	b.docs[dt.Name][name] = next
	glog.V(1).Infof("devserver: cancel %s %s by %s", dt.Name, name, a.User)
	return next, nil
}

// Delete removes a draft document.
func (b *Backend) Delete(a Actor, doctype, name string) error {
	dt, err := b.doctype(doctype)
	if err != nil {
		return err
	}
	if err := b.require(a, dt, meta.PermDelete); err != nil {
		return err
	}
	b.mu.Lock()
	err = b.delete(dt, name)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.publish([]event.Event{event.NewListUpdate(doctype, name, a.User)})
	return nil
}

func (b *Backend) delete(dt *meta.DocType, name string) error {
	doc, ok := b.docs[dt.Name][name]
	if !ok {
		return errNotFound(dt.Name, name)
	}
	if doc.DocStatus == types.Submitted {
		return errValidation("ValidationError", fmt.Sprintf("Submitted %s %s cannot be deleted", dt.Name, name))
	}
	delete(b.docs[dt.Name], name)
	return nil
}

// Query selects rows for a list view.
type Query struct {
	Doctype    string
	Fields     []string
	Filters    types.Filters
	OrderBy    string
	Start      int
	PageLength int
}

// List returns the requested fields of the documents matching q, in
// q.OrderBy order.
func (b *Backend) List(a Actor, q Query) (keys []string, values [][]any, err error) {
	dt, err := b.doctype(q.Doctype)
	if err != nil {
		return nil, nil, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return nil, nil, err
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return nil, nil, errBadRequest("%v", err)
		}
	}

	b.mu.RLock()
	rows := b.matching(q.Doctype, q.Filters)
	b.mu.RUnlock()

	field, desc := parseOrderBy(q.OrderBy)
	sort.SliceStable(rows, func(i, j int) bool {
		c := types.Compare(rows[i].Get(field), rows[j].Get(field))
		if c == 0 {
			c = strings.Compare(rows[i].Name, rows[j].Name)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	start := q.Start
	if start < 0 || start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if q.PageLength > 0 && start+q.PageLength < end {
		end = start + q.PageLength
	}

	keys = q.Fields
	if len(keys) == 0 {
		keys = []string{"name"}
	}
	values = make([][]any, 0, end-start)
	for _, d := range rows[start:end] {
		row := make([]any, len(keys))
		for i, k := range keys {
			row[i] = d.Get(cleanField(k))
		}
		values = append(values, row)
	}
	return keys, values, nil
}

// Count returns how many documents match filters.
func (b *Backend) Count(a Actor, doctype string, filters types.Filters) (int, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return 0, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.matching(doctype, filters)), nil
}

// matching returns the stored documents satisfying filters. Callers hold
// b.mu.
func (b *Backend) matching(doctype string, filters types.Filters) []*types.Document {
	var out []*types.Document
	for _, d := range b.docs[doctype] {
		if filters.Match(d) {
			out = append(out, d)
		}
	}
	return out
}

// parseOrderBy reads "field asc|desc", tolerating `tabX`.`field` quoting.
func parseOrderBy(s string) (field string, desc bool) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "modified", true
	}
	field = cleanField(parts[0])
	desc = len(parts) < 2 || strings.EqualFold(parts[1], "desc")
	return field, desc
}

func cleanField(f string) string {
	f = strings.ReplaceAll(f, "`", "")
	if i := strings.LastIndex(f, "."); i >= 0 {
		f = f[i+1:]
	}
	return f
}

// GetValue returns fieldname of the first document matching filters, or an
// empty map when none does.
func (b *Backend) GetValue(a Actor, doctype, fieldname string, filters types.Filters) (map[string]any, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := b.matching(doctype, filters)
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return map[string]any{fieldname: rows[0].Get(fieldname)}, nil
}

// LinkedSubmitted returns submitted documents whose Link fields, or the
// Link fields of their child rows, point at doctype/name.
func (b *Backend) LinkedSubmitted(a Actor, doctype, name string) ([]LinkedDoc, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermRead); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []LinkedDoc
	for _, other := range b.registry.Names() {
		odt := b.registry.DocType(other)
		if odt.IsTable {
			continue
		}
		for _, d := range b.docs[other] {
			if d.DocStatus != types.Submitted || (other == doctype && d.Name == name) {
				continue
			}
			if b.links(odt, d, doctype, name) {
				out = append(out, LinkedDoc{Doctype: other, Name: d.Name, DocStatus: d.DocStatus})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Doctype != out[j].Doctype {
			return out[i].Doctype < out[j].Doctype
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (b *Backend) links(dt *meta.DocType, d *types.Document, doctype, name string) bool {
	for _, f := range dt.Fields {
		switch {
		case f.Fieldtype == "Link" && f.Options == doctype && f.Fieldname != "amended_from":
			if d.GetString(f.Fieldname) == name {
				return true
			}
		case f.IsTable():
			child := b.registry.DocType(f.Options)
			if child == nil {
				continue
			}
			for _, row := range d.Children(f.Fieldname) {
				if b.links(child, row, doctype, name) {
					return true
				}
			}
		}
	}
	return false
}

// CancelLinked cancels each listed document, stopping at the first failure.
func (b *Backend) CancelLinked(a Actor, docs []LinkedDoc) error {
	for _, l := range docs {
		if _, err := b.Cancel(a, l.Doctype, l.Name); err != nil {
			return err
		}
	}
	return nil
}

// BulkProgress receives one report per processed document of a bulk call.
type BulkProgress func(done, total int, failed []string)

// Bulk applies action ("submit", "cancel" or "update") to each named
// document and returns the names it failed on.
func (b *Backend) Bulk(a Actor, doctype string, names []string, action string, data map[string]any, progress BulkProgress) ([]string, error) {
	if _, err := b.doctype(doctype); err != nil {
		return nil, err
	}
	var failed []string
	for i, name := range names {
		var err error
		switch action {
		case "submit":
			err = b.update(a, doctype, name, nil, ActionSubmit)
		case "update":
			err = b.update(a, doctype, name, data, ActionSave)
		case "cancel":
			_, err = b.Cancel(a, doctype, name)
		default:
			return nil, errBadRequest("unknown bulk action %q", action)
		}
		if err != nil {
			glog.Warningf("devserver: bulk %s %s %s: %v", action, doctype, name, err)
			failed = append(failed, name)
		}
		if progress != nil {
			progress(i+1, len(names), failed)
		}
	}
	return failed, nil
}

func (b *Backend) update(a Actor, doctype, name string, data map[string]any, action string) error {
	doc, err := b.Get(a, doctype, name)
	if err != nil {
		return err
	}
	for k, v := range data {
		if err := doc.Set(k, v); err != nil {
			return errBadRequest("%v", err)
		}
	}
	_, err = b.Save(a, doc, action)
	return err
}

// DeleteMany deletes each named document and returns the names it failed on.
func (b *Backend) DeleteMany(a Actor, doctype string, names []string) ([]string, error) {
	if _, err := b.doctype(doctype); err != nil {
		return nil, err
	}
	var failed []string
	for _, n := range names {
		if err := b.Delete(a, doctype, n); err != nil {
			glog.Warningf("devserver: delete %s %s: %v", doctype, n, err)
			failed = append(failed, n)
		}
	}
	return failed, nil
}

// AddTags appends tags to the comma-separated _user_tags of each document.
func (b *Backend) AddTags(a Actor, doctype string, names, tags []string) ([]string, error) {
	return b.touchMany(a, doctype, names, func(d *types.Document) {
		have := map[string]bool{}
		var out []string
		for _, t := range append(strings.Split(d.GetString("_user_tags"), ","), tags...) {
			if t = strings.TrimSpace(t); t != "" && !have[t] {
				have[t] = true
				out = append(out, t)
			}
		}
		_ = d.Set("_user_tags", strings.Join(out, ","))
	})
}

// Assign adds users to the JSON-encoded _assign list of each document.
func (b *Backend) Assign(a Actor, doctype string, names, users []string) ([]string, error) {
	return b.touchMany(a, doctype, names, func(d *types.Document) {
		var cur []string
		_ = json.Unmarshal([]byte(d.GetString("_assign")), &cur)
		for _, u := range users {
			if !contains(cur, u) {
				cur = append(cur, u)
			}
		}
		enc, _ := json.Marshal(cur)
		_ = d.Set("_assign", string(enc))
	})
}

// touchMany changes bookkeeping fields, which are editable in any docstatus.
func (b *Backend) touchMany(a Actor, doctype string, names []string, fn func(*types.Document)) ([]string, error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return nil, err
	}
	if err := b.require(a, dt, meta.PermWrite); err != nil {
		return nil, err
	}
	var failed []string
	var evts []event.Event
	b.mu.Lock()
	for _, n := range names {
		doc, ok := b.docs[doctype][n]
		if !ok {
			failed = append(failed, n)
			continue
		}
		next := doc.Clone()
		fn(next)
		next.Modified = b.stamp()
		b.docs[doctype][n] = next
		evts = append(evts, changed(next, a.User)...)
	}
	b.mu.Unlock()
	b.publish(evts)
	return failed, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Export renders the named documents as CSV with the list view columns.
func (b *Backend) Export(a Actor, doctype string, names []string) (filename, content string, err error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return "", "", err
	}
	if err := b.require(a, dt, meta.PermExport); err != nil {
		return "", "", err
	}
	cols := append([]string{"name"}, dt.ListViewFields()...)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(cols)
	for _, n := range names {
		d, ok := b.docs[doctype][n]
		if !ok {
			continue
		}
		rec := make([]string, len(cols))
		for i, c := range cols {
			rec[i] = d.GetString(c)
		}
		_ = w.Write(rec)
	}
	w.Flush()
	return doctype + ".csv", buf.String(), w.Error()
}

// Print renders the named documents as plain text, one block per document.
func (b *Backend) Print(a Actor, doctype string, names []string) (filename, content string, err error) {
	dt, err := b.doctype(doctype)
	if err != nil {
		return "", "", err
	}
	if err := b.require(a, dt, meta.PermPrint); err != nil {
		return "", "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for _, n := range names {
		d, ok := b.docs[doctype][n]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s %s (%s)\n", doctype, d.Name, d.DocStatus)
		for _, f := range dt.Fields {
			if !f.HasValue() || f.IsTable() || f.Hidden {
				continue
			}
			if v := d.GetString(f.Fieldname); v != "" {
				fmt.Fprintf(&sb, "  %s: %s\n", f.DisplayLabel(), v)
			}
		}
		sb.WriteString("\n")
	}
	return doctype + ".txt", sb.String(), nil
}
