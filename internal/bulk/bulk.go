// Package bulk runs one batched server call per action over a selection of
// documents from a list.
package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/ui"
)

// Server methods.
const (
	MethodSubmitCancelUpdate = "frappe.desk.doctype.bulk_update.bulk_update.submit_cancel_or_update_docs"
	MethodDeleteItems        = "frappe.desk.reportview.delete_items"
	MethodAssign             = "frappe.desk.form.assign_to.add_multiple"
	MethodAddTags            = "frappe.desk.doctype.tag.tag.add_tags"
	MethodPrint              = "frappe.utils.print_format.download_multi_pdf"
	MethodExport             = "frappe.desk.reportview.export_query"
)

// Action names a bulk operation.
type Action string

const (
	Edit   Action = "edit"
	Delete Action = "delete"
	Assign Action = "assign"
	Submit Action = "submit"
	Cancel Action = "cancel"
	Print  Action = "print"
	Export Action = "export"
	Tag    Action = "tag"
)

// Label is the menu text of the action.
func (a Action) Label() string {
	if a == "" {
		return ""
	}
	return strings.ToUpper(string(a[:1])) + string(a[1:])
}

// Actions lists every action in menu order.
var Actions = []Action{Edit, Export, Assign, Tag, Print, Submit, Cancel, Delete}

var (
	ErrNoSelection = errors.New("bulk: no documents selected")
	ErrNotAllowed  = errors.New("bulk: action not available")
	ErrDeclined    = errors.New("bulk: declined")
)

// BatchError reports the documents a batched action failed on. The rest of
// the batch was processed and is not rolled back.
type BatchError struct {
	Action  Action
	Doctype string
	Failed  []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("bulk %s on %s failed for %d document(s): %s",
		e.Action, e.Doctype, len(e.Failed), strings.Join(e.Failed, ", "))
}

// Available returns the actions roles may run on doctype. Submit and cancel
// need a submittable doctype without an active workflow.
func Available(dt *meta.DocType, roles []string) []Action {
	can := func(ptype string) bool {
		return len(dt.Permissions) == 0 || dt.HasPermission(roles, ptype)
	}
	var out []Action
	for _, a := range Actions {
		var ok bool
		switch a {
		case Edit, Assign, Tag:
			ok = can(meta.PermWrite)
		case Delete:
			ok = can(meta.PermDelete)
		case Submit:
			ok = dt.IsSubmittable && !dt.HasWorkflow && can(meta.PermSubmit)
		case Cancel:
			ok = dt.IsSubmittable && !dt.HasWorkflow && can(meta.PermCancel)
		case Print:
			ok = can(meta.PermPrint)
		case Export:
			ok = can(meta.PermExport)
		}
		if ok {
			out = append(out, a)
		}
	}
	return out
}

// IsAvailable reports whether a is in Available(dt, roles).
func IsAvailable(dt *meta.DocType, roles []string, a Action) bool {
	for _, x := range Available(dt, roles) {
		if x == a {
			return true
		}
	}
	return false
}

// Done is called once per action with its final error, whatever happened.
type Done func(err error)

// Runner executes bulk actions for one doctype within a session.
type Runner struct {
	sess    *session.Session
	Doctype string

	// OnProgress, when set, receives task_progress events for the running
	// batch.
	OnProgress func(event.TaskProgressPayload)
}

// NewRunner creates a Runner.
func NewRunner(sess *session.Session, doctype string) *Runner {
	return &Runner{sess: sess, Doctype: doctype}
}

// Edit sets the same values on every named document.
func (r *Runner) Edit(ctx context.Context, names []string, values map[string]any, done Done) error {
	if len(values) == 0 {
		err := errors.New("bulk: no values to set")
		finish(done, err)
		return err
	}
	data, err := json.Marshal(values)
	if err != nil {
		finish(done, err)
		return err
	}
	_, err = r.run(ctx, Edit, names, "", done, func(taskID string) (string, map[string]any) {
		return MethodSubmitCancelUpdate, map[string]any{
			"doctype":  r.Doctype,
			"docnames": jsonList(names),
			"action":   "update",
			"data":     string(data),
			"task_id":  taskID,
		}
	})
	return err
}

// Submit submits every named draft.
func (r *Runner) Submit(ctx context.Context, names []string, done Done) error {
	_, err := r.run(ctx, Submit, names, fmt.Sprintf("Submit %d documents?", len(names)), done, r.submitCancel("submit", names))
	return err
}

// Cancel cancels every named submitted document.
func (r *Runner) Cancel(ctx context.Context, names []string, done Done) error {
	_, err := r.run(ctx, Cancel, names, fmt.Sprintf("Cancel %d documents?", len(names)), done, r.submitCancel("cancel", names))
	return err
}

func (r *Runner) submitCancel(action string, names []string) func(string) (string, map[string]any) {
	return func(taskID string) (string, map[string]any) {
		return MethodSubmitCancelUpdate, map[string]any{
			"doctype":  r.Doctype,
			"docnames": jsonList(names),
			"action":   action,
			"task_id":  taskID,
		}
	}
}

// Delete deletes every named document.
func (r *Runner) Delete(ctx context.Context, names []string, done Done) error {
	_, err := r.run(ctx, Delete, names, fmt.Sprintf("Delete %d items permanently?", len(names)), done, func(string) (string, map[string]any) {
		return MethodDeleteItems, map[string]any{"doctype": r.Doctype, "items": jsonList(names)}
	})
	return err
}

// AssignTo assigns every named document to users.
func (r *Runner) AssignTo(ctx context.Context, names, users []string, description string, done Done) error {
	if len(users) == 0 {
		err := errors.New("bulk: no assignees")
		finish(done, err)
		return err
	}
	_, err := r.run(ctx, Assign, names, "", done, func(string) (string, map[string]any) {
		return MethodAssign, map[string]any{"args": map[string]any{
			"doctype":     r.Doctype,
			"name":        jsonList(names),
			"assign_to":   jsonList(users),
			"description": description,
			"bulk_assign": true,
		}}
	})
	return err
}

// AddTags adds tags to every named document.
func (r *Runner) AddTags(ctx context.Context, names, tags []string, done Done) error {
	if len(tags) == 0 {
		err := errors.New("bulk: no tags")
		finish(done, err)
		return err
	}
	_, err := r.run(ctx, Tag, names, "", done, func(string) (string, map[string]any) {
		return MethodAddTags, map[string]any{"dt": r.Doctype, "docs": jsonList(names), "tags": jsonList(tags)}
	})
	return err
}

// Print renders the named documents in one print job and returns what the
// server produced.
func (r *Runner) Print(ctx context.Context, names []string, format string, done Done) (json.RawMessage, error) {
	if format == "" {
		format = "Standard"
	}
	return r.run(ctx, Print, names, "", done, func(string) (string, map[string]any) {
		return MethodPrint, map[string]any{
			"doctype":       r.Doctype,
			"name":          jsonList(names),
			"format":        format,
			"no_letterhead": 0,
		}
	})
}

// Export exports the named documents as CSV or Excel.
func (r *Runner) Export(ctx context.Context, names []string, fileFormat string, done Done) (json.RawMessage, error) {
	if fileFormat == "" {
		fileFormat = "CSV"
	}
	return r.run(ctx, Export, names, "", done, func(string) (string, map[string]any) {
		return MethodExport, map[string]any{
			"doctype":          r.Doctype,
			"file_format_type": fileFormat,
			"selected_items":   jsonList(names),
		}
	})
}

// run checks availability, asks confirm when set, issues the single call
// and maps failures. done always runs exactly once.
func (r *Runner) run(ctx context.Context, a Action, names []string, confirm string, done Done,
	build func(taskID string) (string, map[string]any)) (msg json.RawMessage, err error) {
	defer func() { finish(done, err) }()

	if len(names) == 0 {
		return nil, ErrNoSelection
	}
	dt, err := r.sess.Meta.Get(ctx, r.Doctype)
	if err != nil {
		return nil, err
	}
	if !IsAvailable(dt, r.sess.Roles, a) {
		r.sess.UI.Msgprint("Not Permitted", []string{fmt.Sprintf("Cannot %s %s", a, r.Doctype)})
		return nil, fmt.Errorf("%w: %s on %s", ErrNotAllowed, a, r.Doctype)
	}
	if confirm != "" {
		ok, err := r.sess.UI.Confirm(ctx, confirm)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDeclined
		}
	}

	taskID := ulid.Make().String()
	if r.OnProgress != nil {
		sub := "bulk:" + taskID
		r.sess.Bus.Subscribe(sub, eventbus.HandlerFunc(func(_ context.Context, evt event.Event) error {
			if evt.Type != event.TaskProgress || evt.Room != event.TaskRoom(taskID) {
				return nil
			}
			var p event.TaskProgressPayload
			if err := evt.DecodePayload(&p); err != nil {
				return err
			}
			r.OnProgress(p)
			return nil
		}))
		defer r.sess.Bus.Unsubscribe(sub)
	}

	method, args := build(taskID)
	glog.V(1).Infof("bulk: %s %d %s via %s", a, len(names), r.Doctype, method)
	resp, err := r.sess.RPC.Call(ctx, method, args)
	if err != nil {
		if rpc.IsPermission(err) {
			r.sess.UI.Msgprint("Not Permitted", []string{rpc.Describe(err)})
		} else {
			r.sess.UI.Alert(rpc.Describe(err), ui.Red)
		}
		return nil, err
	}

	if failed := failedNames(resp); len(failed) > 0 {
		be := &BatchError{Action: a, Doctype: r.Doctype, Failed: failed}
		glog.Warningf("bulk: %v", be)
		r.sess.UI.Msgprint("Bulk "+a.Label(), []string{
			fmt.Sprintf("Failed for %d of %d documents: %s", len(failed), len(names), strings.Join(failed, ", ")),
		})
		return resp.Message, be
	}
	r.sess.UI.Alert(fmt.Sprintf("%s: %d documents", a.Label(), len(names)), ui.Green)
	return resp.Message, nil
}

// failedNames reads the failed subset from a message that is either a list
// of names or an object with a "failed" list. Any other message means no
// failures.
func failedNames(resp *rpc.Response) []string {
	var list []string
	if err := resp.Decode(&list); err == nil {
		return list
	}
	var obj struct {
		Failed []string `json:"failed"`
	}
	if err := resp.Decode(&obj); err == nil {
		return obj.Failed
	}
	return nil
}

func finish(done Done, err error) {
	if done != nil {
		done(err)
	}
}

// jsonList encodes names the way the server form handlers expect list
// arguments: as a JSON string.
func jsonList(names []string) string {
	b, _ := json.Marshal(names)
	return string(b)
}
