package form

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/locals"
	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/script"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui"
)

// Save persists a New or Draft document. A saved Draft without edits is a
// no-op. Mandatory fields and the validate and before_save hooks are
// checked first; any failure aborts without calling the server.
func (f *Controller) Save(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	doc := f.doc
	if doc == nil {
		return ErrNoDocument
	}
	cur := f.State()
	if err := validateTransition(cur, StateDraft); err != nil {
		return err
	}
	if cur == StateDraft && !doc.Unsaved {
		f.sess.UI.Alert("No changes in document", ui.Blue)
		return nil
	}
	if err := f.runHooks(ctx, script.Validate, script.BeforeSave); err != nil {
		return err
	}
	if err := f.checkMandatory(ctx); err != nil {
		return err
	}
	if err := f.saveDocs(ctx, ActionSave); err != nil {
		return err
	}
	f.sess.RemoveUnloadGuard(f.owner)
	if err := f.trigger(ctx, script.AfterSave); err != nil {
		return err
	}
	if err := f.refreshView(ctx); err != nil {
		return err
	}
	f.sess.UI.Alert("Saved", ui.Green)
	return nil
}

// Submit moves a saved Draft to Submitted after the user confirms.
func (f *Controller) Submit(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	doc := f.doc
	if doc == nil {
		return ErrNoDocument
	}
	if err := validateTransition(f.State(), StateSubmitted); err != nil {
		return err
	}
	if !f.meta.IsSubmittable || !f.can(meta.PermSubmit) {
		return f.denied(doc.Doctype, doc.Name, meta.PermSubmit)
	}
	ok, err := f.sess.UI.Confirm(ctx, fmt.Sprintf("Permanently Submit %s?", doc.Name))
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	if err := f.runHooks(ctx, script.Validate, script.BeforeSubmit); err != nil {
		return err
	}
	if err := f.checkMandatory(ctx); err != nil {
		return err
	}
	if err := f.saveDocs(ctx, ActionSubmit); err != nil {
		return err
	}
	f.sess.RemoveUnloadGuard(f.owner)
	f.sess.UI.PlaySound("submit")
	if err := f.trigger(ctx, script.OnSubmit); err != nil {
		return err
	}
	if err := f.refreshView(ctx); err != nil {
		return err
	}
	f.sess.UI.Alert("Submitted", ui.Green)
	return nil
}

func (f *Controller) saveDocs(ctx context.Context, action string) error {
	prev := f.doc
	body, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", prev.Doctype, prev.Name, err)
	}
	resp, err := f.sess.RPC.Call(ctx, MethodSaveDocs, map[string]any{"doc": string(body), "action": action})
	if err != nil {
		return f.report(err)
	}
	saved, err := docFromResponse(resp, prev.Doctype, "")
	if err != nil {
		return f.report(err)
	}
	return f.accept(prev, saved)
}

// accept installs a server copy returned by a lifecycle call.
func (f *Controller) accept(prev, saved *types.Document) error {
	if err := types.ValidateDocStatus(prev.DocStatus, saved.DocStatus); err != nil {
		return fmt.Errorf("server returned %s %s: %w", saved.Doctype, saved.Name, err)
	}
	f.resync(prev, saved)
	f.doc = saved
	glog.V(1).Infof("form: %s %s is now %s", saved.Doctype, saved.Name, f.State())
	return nil
}

// runHooks triggers events in order. The first handler error, or a handler
// calling Invalidate, aborts the rest.
func (f *Controller) runHooks(ctx context.Context, events ...script.Event) error {
	f.invalid = nil
	for _, ev := range events {
		if err := f.trigger(ctx, ev); err != nil {
			return err
		}
		if len(f.invalid) > 0 {
			reasons := append([]string(nil), f.invalid...)
			f.invalid = nil
			glog.V(1).Infof("form: %s %s invalidated in %s: %v", f.doc.Doctype, f.doc.Name, ev, reasons)
			return &ValidationError{Doctype: f.doc.Doctype, Name: f.doc.Name, Reasons: reasons}
		}
	}
	return nil
}

// checkMandatory verifies that every displayed mandatory field of the
// document and of its child rows has a value.
func (f *Controller) checkMandatory(ctx context.Context) error {
	doc := f.doc
	var fields, labels []string
	for i := range f.meta.Fields {
		df := &f.meta.Fields[i]
		if !df.HasValue() || !meta.IsDisplayed(df, doc, nil) {
			continue
		}
		if df.IsTable() {
			rows := doc.Children(df.Fieldname)
			if meta.IsMandatory(df, doc, nil) && len(rows) == 0 {
				fields = append(fields, df.Fieldname)
				labels = append(labels, df.DisplayLabel())
				continue
			}
			if len(rows) == 0 {
				continue
			}
			childMeta, err := f.sess.Meta.Get(ctx, df.Options)
			if err != nil {
				return f.report(err)
			}
			for _, row := range rows {
				for _, missing := range missingFields(childMeta, row, doc) {
					fields = appendOnce(fields, df.Fieldname)
					labels = append(labels, fmt.Sprintf("%s, Row %d: %s", df.DisplayLabel(), row.Idx, missing.DisplayLabel()))
				}
			}
			continue
		}
		if meta.IsMandatory(df, doc, nil) && types.IsNull(doc.Get(df.Fieldname)) {
			fields = append(fields, df.Fieldname)
			labels = append(labels, df.DisplayLabel())
		}
	}
	if len(labels) == 0 {
		return nil
	}
	f.sess.UI.HighlightFields(doc.Doctype, doc.Name, fields)
	f.sess.UI.Msgprint("Missing Fields", labels)
	return &ValidationError{Doctype: doc.Doctype, Name: doc.Name, Fields: fields, Labels: labels}
}

func missingFields(dt *meta.DocType, row, parent *types.Document) []*meta.DocField {
	var out []*meta.DocField
	for i := range dt.Fields {
		df := &dt.Fields[i]
		if !df.HasValue() || df.IsTable() || !meta.IsDisplayed(df, row, parent) {
			continue
		}
		if meta.IsMandatory(df, row, parent) && types.IsNull(row.Get(df.Fieldname)) {
			out = append(out, df)
		}
	}
	return out
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// LinkedDoc is a submitted document linking to the one being cancelled.
type LinkedDoc struct {
	Doctype   string          `json:"doctype"`
	Name      string          `json:"name"`
	DocStatus types.DocStatus `json:"docstatus"`
}

// Cancel moves a Submitted document to Cancelled. Submitted documents
// linking to it are offered for cancellation first, in one batch call.
func (f *Controller) Cancel(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	doc := f.doc
	if doc == nil {
		return ErrNoDocument
	}
	if err := validateTransition(f.State(), StateCancelled); err != nil {
		return err
	}
	if !f.can(meta.PermCancel) {
		return f.denied(doc.Doctype, doc.Name, meta.PermCancel)
	}

	linked, err := f.linkedDocs(ctx)
	if err != nil {
		return f.report(err)
	}
	if len(linked) > 0 {
		names := make([]string, len(linked))
		for i, l := range linked {
			names[i] = l.Doctype + " " + l.Name
		}
		msg := fmt.Sprintf("%s is linked with submitted documents: %s. Cancel all of them?", doc.Name, strings.Join(names, ", "))
		ok, err := f.sess.UI.Confirm(ctx, msg)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDeclined
		}
		if _, err := f.sess.RPC.Call(ctx, MethodCancelAllLinked, map[string]any{"docs": linked}); err != nil {
			return f.report(err)
		}
		glog.Infof("form: cancelled %d documents linked to %s %s", len(linked), doc.Doctype, doc.Name)
	} else {
		ok, err := f.sess.UI.Confirm(ctx, fmt.Sprintf("Permanently Cancel %s?", doc.Name))
		if err != nil {
			return err
		}
		if !ok {
			return ErrDeclined
		}
	}

	if err := f.runHooks(ctx, script.BeforeCancel); err != nil {
		return err
	}
	resp, err := f.sess.RPC.Call(ctx, MethodCancel, map[string]any{"doctype": doc.Doctype, "name": doc.Name})
	if err != nil {
		return f.report(err)
	}
	saved, err := docFromResponse(resp, doc.Doctype, doc.Name)
	if err != nil {
		// Older servers answer without the document.
		if saved, err = f.fetch(ctx, doc.Doctype, doc.Name); err != nil {
			return f.report(err)
		}
	}
	if err := f.accept(doc, saved); err != nil {
		return err
	}
	if err := f.trigger(ctx, script.AfterCancel); err != nil {
		return err
	}
	if err := f.refreshView(ctx); err != nil {
		return err
	}
	f.sess.UI.Alert("Cancelled", ui.Green)
	return nil
}

func (f *Controller) linkedDocs(ctx context.Context) ([]LinkedDoc, error) {
	resp, err := f.sess.RPC.Call(ctx, MethodLinkedDocs, map[string]any{"doctype": f.doc.Doctype, "name": f.doc.Name})
	if err != nil {
		return nil, err
	}
	var out struct {
		Docs  []LinkedDoc `json:"docs"`
		Count int         `json:"count"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Docs, nil
}

// identity fields are never copied into an amendment.
var identityFields = map[string]bool{
	"creation":    true,
	"modified_by": true,
	"_assign":     true,
	"_user_tags":  true,
	"_comments":   true,
	"_liked_by":   true,
}

// Amend creates a new document from a Cancelled one and opens it. The copy
// drops identity and no_copy fields and points back via amended_from.
func (f *Controller) Amend(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	src := f.doc
	if src == nil {
		return ErrNoDocument
	}
	if f.State() != StateCancelled {
		return fmt.Errorf("%w: amend needs a Cancelled document, %s is %s", ErrInvalidTransition, src.Name, f.State())
	}
	if !f.can(meta.PermAmend) {
		return f.denied(src.Doctype, src.Name, meta.PermAmend)
	}
	if !f.meta.HasField("amended_from") {
		return fmt.Errorf("%w: %s has no amended_from field", ErrInvalidTransition, src.Doctype)
	}

	resp, err := f.sess.RPC.Call(ctx, MethodGetValue, map[string]any{
		"doctype":   src.Doctype,
		"fieldname": "name",
		"filters":   map[string]any{"amended_from": src.Name},
	})
	if err != nil {
		return f.report(err)
	}
	var existing map[string]any
	if err := resp.Decode(&existing); err != nil {
		return err
	}
	if name, _ := existing["name"].(string); name != "" {
		f.sess.UI.Msgprint("Already Amended", []string{fmt.Sprintf("%s is already amended by %s", src.Name, name)})
		return fmt.Errorf("%s %s: %w by %s", src.Doctype, src.Name, ErrAlreadyAmended, name)
	}

	amended, err := f.copyDoc(ctx, src, f.meta)
	if err != nil {
		return err
	}
	if err := amended.Set("amended_from", src.Name); err != nil {
		return fmt.Errorf("amending %s: %w", src.Name, err)
	}
	f.sess.Locals.Put(amended)
	if err := f.sess.Locals.Open(amended.Doctype, amended.Name, f.owner); err != nil {
		return err
	}
	f.attach(amended)
	f.markDirty()
	return f.afterLoad(ctx, true)
}

func (f *Controller) copyDoc(ctx context.Context, src *types.Document, dt *meta.DocType) (*types.Document, error) {
	c := types.NewDocument(src.Doctype, locals.LocalName(src.Doctype))
	c.Owner = f.sess.User
	c.IsLocal = true
	c.Unsaved = true
	for k, v := range src.Values {
		df := dt.Field(k)
		if (df != nil && df.NoCopy) || identityFields[k] {
			continue
		}
		rows, ok := v.([]*types.Document)
		if !ok {
			c.Values[k] = v
			continue
		}
		c.Values[k] = []*types.Document{}
		if len(rows) == 0 {
			continue
		}
		childMeta, err := f.sess.Meta.Get(ctx, rows[0].Doctype)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			rc, err := f.copyDoc(ctx, row, childMeta)
			if err != nil {
				return nil, err
			}
			rc.Owner = ""
			rc.Unsaved = false
			c.AddChild(k, rc)
		}
	}
	return c, nil
}

// Discard throws away a document that has unsaved edits: a New document or
// a Draft with local changes. A server-side draft is deleted too.
func (f *Controller) Discard(ctx context.Context) error {
	unlock, err := f.begin()
	if err != nil {
		return err
	}
	defer unlock()

	doc := f.doc
	if doc == nil {
		return ErrNoDocument
	}
	state := f.State()
	if state != StateNew && !(state == StateDraft && doc.Unsaved) {
		return fmt.Errorf("%w: only unsaved New or Draft documents can be discarded, %s is %s", ErrInvalidTransition, doc.Name, state)
	}
	ok, err := f.sess.UI.Confirm(ctx, fmt.Sprintf("Discard %s?", doc.Name))
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	if !doc.IsLocal && doc.DocStatus == types.Draft {
		if _, err := f.sess.RPC.Call(ctx, MethodDelete, map[string]any{"doctype": doc.Doctype, "name": doc.Name}); err != nil {
			return f.report(err)
		}
	}
	f.sess.Locals.Remove(doc.Doctype, doc.Name)
	f.sess.RemoveUnloadGuard(f.owner)
	f.sess.UI.ClearBanner(conflictKey(doc.Doctype, doc.Name))
	err = f.scripts.Trigger(ctx, script.AfterDiscard, doc.Doctype, doc.Name)
	f.detach()
	return err
}
