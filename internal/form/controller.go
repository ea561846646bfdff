// Package form implements the form controller: one document's editing
// session from load to save, submit, cancel, amend or discard.
package form

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/script"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui"
)

// Server methods used by the form.
const (
	MethodGetDoc          = "frappe.desk.form.load.getdoc"
	MethodSaveDocs        = "frappe.desk.form.save.savedocs"
	MethodCancel          = "frappe.desk.form.save.cancel"
	MethodLinkedDocs      = "frappe.desk.form.linked_with.get_submitted_linked_docs"
	MethodCancelAllLinked = "frappe.desk.form.linked_with.cancel_all_linked_docs"
	MethodGetValue        = "frappe.client.get_value"
	MethodDelete          = "frappe.client.delete"
)

// Save actions understood by savedocs.
const (
	ActionSave   = "Save"
	ActionSubmit = "Submit"
)

// DefaultStaleAfter is how long a loaded document is trusted before a
// refresh reloads it from the server.
const DefaultStaleAfter = 120 * time.Second

// Controller owns the editing session of one document at a time.
//
// Lifecycle actions (Open, New, Refresh, Save, Submit, Cancel, Amend,
// Discard, Reload) exclude each other: a second action started while one
// runs fails with ErrBusy. Field setters run inside those actions when
// called from handlers and must otherwise be called from the goroutine
// driving the form.
type Controller struct {
	sess  *session.Session
	owner string

	// StaleAfter overrides DefaultStaleAfter.
	StaleAfter time.Duration

	op sync.Mutex
	// pending holds doc_updates that arrived while an action held op.
	pmu     sync.Mutex
	pending []event.Event

	meta    *meta.DocType
	doc     *types.Document
	scripts *script.Manager
	setup   map[string]bool
	invalid []string
}

var _ script.Form = (*Controller)(nil)

// NewController creates a form bound to a session.
func NewController(sess *session.Session) *Controller {
	f := &Controller{
		sess:       sess,
		owner:      "form:" + uuid.NewString()[:8],
		StaleAfter: DefaultStaleAfter,
		setup:      make(map[string]bool),
	}
	f.scripts = script.NewManager(sess.Scripts, f, sess.Queue)
	return f
}

// begin claims the form for one action and marks the session active. The
// returned func releases it and applies a doc_update that arrived meanwhile.
func (f *Controller) begin() (func(), error) {
	if !f.op.TryLock() {
		return nil, ErrBusy
	}
	f.sess.Touch()
	return func() {
		f.op.Unlock()
		if err := f.drainPending(context.Background()); err != nil {
			glog.Warningf("form %s: deferred update: %v", f.owner, err)
		}
	}, nil
}

// Doctype returns the doctype of the loaded document.
func (f *Controller) Doctype() string {
	if f.doc != nil {
		return f.doc.Doctype
	}
	if f.meta != nil {
		return f.meta.Name
	}
	return ""
}

// Doc returns the loaded document.
func (f *Controller) Doc() *types.Document { return f.doc }

// Meta returns the metadata of the loaded document.
func (f *Controller) Meta() *meta.DocType { return f.meta }

// State returns the lifecycle state of the loaded document.
func (f *Controller) State() State { return StateOf(f.doc) }

// Dirty reports whether the document has unsaved edits.
func (f *Controller) Dirty() bool { return f.doc != nil && f.doc.Unsaved }

// Invalidate marks the running save as failed.
func (f *Controller) Invalidate(reason string) {
	f.invalid = append(f.invalid, reason)
}

// can checks the permission matrix. A doctype without permission rows is
// treated as unrestricted.
func (f *Controller) can(ptype string) bool {
	if f.meta == nil || len(f.meta.Permissions) == 0 {
		return true
	}
	return f.meta.HasPermission(f.sess.Roles, ptype)
}

func (f *Controller) stale(doc *types.Document) bool {
	return f.sess.Now().Sub(doc.LastSyncOn) > f.StaleAfter
}

// Open loads a document, from the store when it is fresh and from the
// server otherwise, and runs setup (once per doctype), onload and refresh.
func (f *Controller) Open(ctx context.Context, doctype, name string) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	dt, err := f.sess.Meta.Get(ctx, doctype)
	if err != nil {
		return f.report(err)
	}
	f.meta = dt
	if !f.can(meta.PermRead) {
		return f.denied(doctype, name, meta.PermRead)
	}
	if err := f.sess.Locals.Open(doctype, name, f.owner); err != nil {
		f.sess.UI.ShowBanner(ui.Banner{
			Key:     conflictKey(doctype, name),
			Message: fmt.Sprintf("%s %s is already open in another form", doctype, name),
		})
		return err
	}

	doc := f.sess.Locals.Get(doctype, name)
	if doc == nil || (!doc.IsLocal && !doc.Unsaved && f.stale(doc)) {
		fresh, err := f.fetch(ctx, doctype, name)
		if err != nil {
			f.sess.Locals.Release(doctype, name, f.owner)
			return f.report(err)
		}
		f.resync(doc, fresh)
		doc = fresh
	}
	f.attach(doc)
	return f.afterLoad(ctx, true)
}

// New creates an unsaved local document with defaults applied.
func (f *Controller) New(ctx context.Context, doctype string) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	dt, err := f.sess.Meta.Get(ctx, doctype)
	if err != nil {
		return f.report(err)
	}
	f.meta = dt
	if !f.can(meta.PermCreate) {
		return f.denied(doctype, "", meta.PermCreate)
	}
	doc := f.sess.Locals.NewDoc(dt, f.sess.User)
	for _, tf := range dt.TableFields() {
		if _, err := f.sess.Meta.Get(ctx, tf.Options); err != nil {
			return f.report(err)
		}
	}
	if err := f.sess.Locals.Open(doc.Doctype, doc.Name, f.owner); err != nil {
		return err
	}
	f.attach(doc)
	return f.afterLoad(ctx, true)
}

func (f *Controller) fetch(ctx context.Context, doctype, name string) (*types.Document, error) {
	resp, err := f.sess.RPC.Call(ctx, MethodGetDoc, map[string]any{"doctype": doctype, "name": name})
	if err != nil {
		return nil, err
	}
	return docFromResponse(resp, doctype, name)
}

func docFromResponse(resp *rpc.Response, doctype, name string) (*types.Document, error) {
	var docs []*types.Document
	if err := resp.DecodeDocs(&docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.Doctype == doctype && (name == "" || d.Name == name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%s %s missing from server response", doctype, name)
}

// resync replaces prev with the server copy doc in the store. A local
// placeholder name is renamed to the server-assigned one.
func (f *Controller) resync(prev, doc *types.Document) {
	l := f.sess.Locals
	if prev != nil {
		if prev.Name != doc.Name {
			if _, err := l.Rename(prev.Doctype, prev.Name, doc.Name); err != nil {
				glog.Warningf("form: %v", err)
			}
		}
		for _, field := range prev.TableFields() {
			for _, row := range prev.Children(field) {
				l.Remove(row.Doctype, row.Name)
			}
		}
	}
	l.Sync(doc)
	if err := l.Open(doc.Doctype, doc.Name, f.owner); err != nil {
		glog.Warningf("form: %v", err)
	}
}

// attach makes doc the form's document and subscribes to its updates.
func (f *Controller) attach(doc *types.Document) {
	if f.doc != nil && (f.doc.Doctype != doc.Doctype || f.doc.Name != doc.Name) {
		f.sess.Locals.Release(f.doc.Doctype, f.doc.Name, f.owner)
	}
	f.doc = doc
	if f.sess.Bus != nil {
		f.sess.Bus.Subscribe(f.owner, eventbus.HandlerFunc(f.HandleEvent))
	}
}

// Close releases the document and stops listening for updates.
func (f *Controller) Close() {
	f.op.Lock()
	defer f.op.Unlock()
	f.detach()
}

func (f *Controller) detach() {
	if f.doc != nil {
		f.sess.Locals.Release(f.doc.Doctype, f.doc.Name, f.owner)
	}
	if f.sess.Bus != nil {
		f.sess.Bus.Unsubscribe(f.owner)
	}
	f.doc = nil
}

func (f *Controller) afterLoad(ctx context.Context, loaded bool) error {
	dt := f.doc.Doctype
	if !f.setup[dt] {
		f.setup[dt] = true
		if err := f.trigger(ctx, script.Setup); err != nil {
			return err
		}
	}
	if loaded {
		if err := f.trigger(ctx, script.Onload); err != nil {
			return err
		}
	}
	if err := f.refreshView(ctx); err != nil {
		return err
	}
	if loaded {
		return f.trigger(ctx, script.OnloadPostRender)
	}
	return nil
}

// refreshView redraws the form between the refresh and timeline_refresh
// hooks.
func (f *Controller) refreshView(ctx context.Context) error {
	if err := f.trigger(ctx, script.Refresh); err != nil {
		return err
	}
	f.render()
	return f.trigger(ctx, script.TimelineRefresh)
}

func (f *Controller) trigger(ctx context.Context, ev script.Event) error {
	if err := f.scripts.Trigger(ctx, ev, f.doc.Doctype, f.doc.Name); err != nil {
		f.sess.UI.Alert(err.Error(), ui.Red)
		return err
	}
	return nil
}

// SetValue sets a field of the document, marks it dirty and fires the
// field's change event.
func (f *Controller) SetValue(ctx context.Context, field string, v any) error {
	return f.setValue(ctx, f.doc, field, v, false)
}

// SetValueSkipDirty sets a field without marking the document dirty.
func (f *Controller) SetValueSkipDirty(ctx context.Context, field string, v any) error {
	return f.setValue(ctx, f.doc, field, v, true)
}

// SetChildValue sets a field of a child row of the document.
func (f *Controller) SetChildValue(ctx context.Context, cdt, cdn, field string, v any) error {
	if f.doc == nil {
		return ErrNoDocument
	}
	row := f.sess.Locals.Get(cdt, cdn)
	if row == nil || row.Parent != f.doc.Name || row.ParentType != f.doc.Doctype {
		return fmt.Errorf("%s %s is not a row of %s %s", cdt, cdn, f.doc.Doctype, f.doc.Name)
	}
	return f.setValue(ctx, row, field, v, false)
}

func (f *Controller) setValue(ctx context.Context, doc *types.Document, field string, v any, skipDirty bool) error {
	if doc == nil || f.doc == nil {
		return ErrNoDocument
	}
	if f.doc.DocStatus != types.Draft {
		return fmt.Errorf("%s %s is %s: %w", f.doc.Doctype, f.doc.Name, f.doc.DocStatus, ErrNotEditable)
	}
	if reflect.DeepEqual(doc.Get(field), v) {
		return nil
	}
	if err := doc.Set(field, v); err != nil {
		return err
	}
	if !skipDirty {
		f.markDirty()
	}
	return f.scripts.Trigger(ctx, script.Change(field), doc.Doctype, doc.Name)
}

// AddRow appends a row to a table field and fires "<field>_add" for it.
func (f *Controller) AddRow(ctx context.Context, tableField string) (*types.Document, error) {
	if f.doc == nil {
		return nil, ErrNoDocument
	}
	df := f.meta.Field(tableField)
	if df == nil || !df.IsTable() {
		return nil, fmt.Errorf("%s has no table field %s", f.meta.Name, tableField)
	}
	childMeta, err := f.sess.Meta.Get(ctx, df.Options)
	if err != nil {
		return nil, err
	}
	row := f.sess.Locals.NewChild(f.doc, tableField, childMeta, f.sess.User)
	f.markDirty()
	return row, f.scripts.Trigger(ctx, script.Event(tableField+"_add"), row.Doctype, row.Name)
}

func (f *Controller) markDirty() {
	f.doc.Unsaved = true
	f.sess.InstallUnloadGuard(f.owner)
}

// Refresh re-renders the form. A clean document older than StaleAfter is
// reloaded from the server instead of reusing the cached copy.
func (f *Controller) Refresh(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	if f.doc == nil {
		return ErrNoDocument
	}
	if !f.doc.IsLocal && !f.doc.Unsaved && f.stale(f.doc) {
		glog.V(1).Infof("form: %s %s is stale, reloading", f.doc.Doctype, f.doc.Name)
		return f.reload(ctx)
	}
	if !f.doc.Unsaved {
		f.sess.RemoveUnloadGuard(f.owner)
	}
	return f.refreshView(ctx)
}

// Reload discards the cached copy and loads the document from the server.
func (f *Controller) Reload(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()
	if f.doc == nil {
		return ErrNoDocument
	}
	if f.doc.IsLocal {
		return fmt.Errorf("%s %s is not saved: %w", f.doc.Doctype, f.doc.Name, ErrInvalidTransition)
	}
	return f.reload(ctx)
}

func (f *Controller) reload(ctx context.Context) error {
	prev := f.doc
	fresh, err := f.fetch(ctx, prev.Doctype, prev.Name)
	if err != nil {
		return f.report(err)
	}
	f.resync(prev, fresh)
	f.doc = fresh
	f.sess.RemoveUnloadGuard(f.owner)
	f.sess.UI.ClearBanner(conflictKey(fresh.Doctype, fresh.Name))
	return f.afterLoad(ctx, false)
}

// HandleEvent reacts to realtime notifications for the open document. A
// newer server version from another user reloads a clean form; a dirty
// form gets a conflict banner instead so local edits are never dropped.
// It never waits for a running action: the update is kept and applied when
// the action ends.
func (f *Controller) HandleEvent(ctx context.Context, evt event.Event) error {
	if evt.Type != event.DocUpdate {
		return nil
	}
	f.pmu.Lock()
	f.pending = append(f.pending, evt)
	f.pmu.Unlock()
	return f.drainPending(ctx)
}

// drainPending applies pending doc_updates unless an action holds the
// form, in which case that action drains them on release.
func (f *Controller) drainPending(ctx context.Context) error {
	for {
		if !f.op.TryLock() {
			return nil
		}
		f.pmu.Lock()
		evts := f.pending
		f.pending = nil
		f.pmu.Unlock()
		if len(evts) == 0 {
			f.op.Unlock()
			return nil
		}
		var err error
		for _, evt := range evts {
			if err = f.applyDocUpdate(ctx, evt); err != nil {
				break
			}
		}
		f.op.Unlock()
		if err != nil {
			return err
		}
	}
}

func (f *Controller) applyDocUpdate(ctx context.Context, evt event.Event) error {
	doc := f.doc
	if doc == nil || doc.IsLocal || doc.Doctype != evt.Doctype || doc.Name != evt.Name {
		return nil
	}
	if evt.Modified == "" || evt.Modified == doc.Modified || evt.User == f.sess.User {
		return nil
	}
	if doc.Unsaved {
		f.sess.UI.ShowBanner(f.conflictBanner())
		return nil
	}
	return f.reload(ctx)
}

func conflictKey(doctype, name string) string { return "conflict:" + doctype + "/" + name }

func (f *Controller) conflictBanner() ui.Banner {
	return ui.Banner{
		Key:     conflictKey(f.doc.Doctype, f.doc.Name),
		Message: "This form has been modified after you have loaded it",
		Action:  "Reload",
	}
}

// report maps a failed server call onto the user interface and returns the
// typed error for it.
func (f *Controller) report(err error) error {
	var doctype, name string
	if f.doc != nil {
		doctype, name = f.doc.Doctype, f.doc.Name
	} else if f.meta != nil {
		doctype = f.meta.Name
	}

	var se *rpc.ServerError
	switch {
	case rpc.IsPermission(err):
		f.sess.UI.Msgprint("Not Permitted", messages(err))
		return &PermissionError{Doctype: doctype, Name: name, Err: err}
	case rpc.IsConflict(err):
		if f.doc != nil {
			f.sess.UI.ShowBanner(f.conflictBanner())
		}
		return &ConflictError{Doctype: doctype, Name: name, Err: err}
	case errors.As(err, &se) && len(se.Messages) > 0:
		f.sess.UI.Msgprint("Message", messages(err))
		return err
	}
	f.sess.UI.Alert(rpc.Describe(err), ui.Red)
	return err
}

func messages(err error) []string {
	var se *rpc.ServerError
	if errors.As(err, &se) && len(se.Messages) > 0 {
		out := make([]string, len(se.Messages))
		for i, m := range se.Messages {
			out[i] = m.Message
		}
		return out
	}
	return []string{rpc.Describe(err)}
}

func (f *Controller) denied(doctype, name, ptype string) error {
	f.sess.UI.Msgprint("Not Permitted", []string{fmt.Sprintf("No permission to %s %s", ptype, doctype)})
	return &PermissionError{Doctype: doctype, Name: name, Ptype: ptype}
}
