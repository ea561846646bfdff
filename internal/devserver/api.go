package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/auth"
	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/types"
)

// call is one decoded method invocation.
type call struct {
	method string
	actor  Actor
	args   map[string]json.RawMessage
}

// reply is the success half of the envelope.
type reply struct {
	Message any
	Docs    any
}

type methodFunc func(c *call) (*reply, error)

// API serves the method-addressed endpoints over a Backend.
type API struct {
	backend *Backend
	pub     event.Publisher
	methods map[string]methodFunc
}

// NewAPI creates the method table. pub receives task progress events.
func NewAPI(b *Backend, pub event.Publisher) *API {
	a := &API{backend: b, pub: pub}
	a.methods = map[string]methodFunc{
		"frappe.auth.get_logged_user":                                              a.loggedUser,
		"frappe.desk.form.load.getdoctype":                                         a.getDocType,
		"frappe.desk.form.load.getdoc":                                             a.getDoc,
		"frappe.desk.form.save.savedocs":                                           a.saveDocs,
		"frappe.desk.form.save.cancel":                                             a.cancel,
		"frappe.desk.form.linked_with.get_submitted_linked_docs":                   a.linkedDocs,
		"frappe.desk.form.linked_with.cancel_all_linked_docs":                      a.cancelAllLinked,
		"frappe.client.get_value":                                                  a.getValue,
		"frappe.client.delete":                                                     a.deleteDoc,
		"frappe.desk.reportview.get":                                               a.list,
		"frappe.desk.reportview.get_count":                                         a.count,
		"frappe.desk.reportview.delete_items":                                      a.deleteItems,
		"frappe.desk.reportview.export_query":                                      a.export,
		"frappe.desk.doctype.bulk_update.bulk_update.submit_cancel_or_update_docs": a.bulk,
		"frappe.desk.form.assign_to.add_multiple":                                  a.assign,
		"frappe.desk.doctype.tag.tag.add_tags":                                     a.addTags,
		"frappe.utils.print_format.download_multi_pdf":                             a.print,
	}
	return a
}

// Methods returns the served method names.
func (a *API) Methods() []string {
	out := make([]string, 0, len(a.methods))
	for m := range a.methods {
		out = append(out, m)
	}
	return out
}

// ServeMethod handles POST /api/method/{method}.
func (a *API) ServeMethod(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	fn, ok := a.methods[method]
	if !ok {
		writeError(w, method, &Error{Status: http.StatusNotFound, ExcType: "DoesNotExistError",
			Messages: []string{fmt.Sprintf("method %s not found", method)}})
		return
	}

	c := &call{method: method, actor: actorFrom(r), args: map[string]json.RawMessage{}}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &c.args); err != nil {
			writeError(w, method, errBadRequest("invalid request body: %v", err))
			return
		}
	}

	rep, err := fn(c)
	if err != nil {
		writeError(w, method, err)
		return
	}
	env := map[string]any{}
	if rep != nil {
		if rep.Message != nil {
			env["message"] = rep.Message
		}
		if rep.Docs != nil {
			env["docs"] = rep.Docs
		}
	}
	writeJSON(w, http.StatusOK, env)
}

func actorFrom(r *http.Request) Actor {
	if c := auth.FromContext(r.Context()); c != nil {
		return Actor{User: c.User, Roles: c.Roles}
	}
	return Administrator
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("devserver: encoding response: %v", err)
	}
}

// writeError writes the failure envelope. Backend errors keep their status
// and exc_type; anything else is a 500.
func writeError(w http.ResponseWriter, method string, err error) {
	var e *Error
	if !errors.As(err, &e) {
		glog.Errorf("devserver: %s: %v", method, err)
		e = &Error{Status: http.StatusInternalServerError, ExcType: "Exception", Messages: []string{err.Error()}}
	} else {
		glog.V(1).Infof("devserver: %s: %v", method, err)
	}
	msgs := make([]rpc.ServerMessage, len(e.Messages))
	for i, m := range e.Messages {
		msgs[i] = rpc.ServerMessage{Message: m, Indicator: "red"}
	}
	exc, _ := json.Marshal([]string{"Traceback (most recent call last):\n  " + method + "\n" + e.ExcType + ": " + strings.Join(e.Messages, "; ")})
	writeJSON(w, e.Status, map[string]any{
		"exc_type":         e.ExcType,
		"exc":              string(exc),
		"_server_messages": rpc.EncodeServerMessages(msgs...),
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Argument helpers. Form-style clients send lists and objects either as
// JSON values or as JSON-encoded strings; both are accepted.

func (c *call) raw(key string) json.RawMessage {
	v := c.args[key]
	var s string
	if len(v) > 0 && v[0] == '"' && json.Unmarshal(v, &s) == nil {
		t := strings.TrimSpace(s)
		if strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
			return json.RawMessage(t)
		}
	}
	return v
}

func (c *call) str(key string) string {
	var s string
	_ = json.Unmarshal(c.args[key], &s)
	return s
}

func (c *call) required(keys ...string) error {
	for _, k := range keys {
		if c.str(k) == "" {
			return errBadRequest("%s: missing argument %q", c.method, k)
		}
	}
	return nil
}

func (c *call) int(key string, def int) int {
	var n float64
	if err := json.Unmarshal(c.args[key], &n); err != nil {
		return def
	}
	return int(n)
}

func (c *call) decode(key string, v any) error {
	raw := c.raw(key)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest("%s: argument %q: %v", c.method, key, err)
	}
	return nil
}

func (c *call) strings(key string) ([]string, error) {
	var out []string
	err := c.decode(key, &out)
	return out, err
}

// filters accepts [[doctype, field, op, value], ...], [[field, op, value]]
// or {field: value | [op, value]}.
func (c *call) filters(key, doctype string) (types.Filters, error) {
	raw := c.raw(key)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out types.Filters
	if raw[0] == '{' {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errBadRequest("%s: filters: %v", c.method, err)
		}
		for field, v := range m {
			f := types.Filter{Doctype: doctype, Field: field, Operator: "="}
			var pair []any
			if json.Unmarshal(v, &pair) == nil && len(pair) == 2 {
				if op, ok := pair[0].(string); ok {
					f.Operator, f.Value = op, pair[1]
					out = append(out, f)
					continue
				}
			}
			_ = json.Unmarshal(v, &f.Value)
			out = append(out, f)
		}
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errBadRequest("%s: filters: %v", c.method, err)
	}
	for i := range out {
		if out[i].Doctype == "" {
			out[i].Doctype = doctype
		}
	}
	return out, nil
}

func (a *API) loggedUser(c *call) (*reply, error) {
	return &reply{Message: c.actor.User}, nil
}

func (a *API) getDocType(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	dts, err := a.backend.DocType(c.actor, c.str("doctype"))
	if err != nil {
		return nil, err
	}
	return &reply{Docs: dts}, nil
}

func (a *API) getDoc(c *call) (*reply, error) {
	if err := c.required("doctype", "name"); err != nil {
		return nil, err
	}
	doc, err := a.backend.Get(c.actor, c.str("doctype"), c.str("name"))
	if err != nil {
		return nil, err
	}
	return &reply{Docs: []*types.Document{doc}}, nil
}

func (a *API) saveDocs(c *call) (*reply, error) {
	var doc types.Document
	if err := c.decode("doc", &doc); err != nil {
		return nil, err
	}
	if doc.Doctype == "" {
		return nil, errBadRequest("%s: doc has no doctype", c.method)
	}
	action := c.str("action")
	if action == "" {
		action = ActionSave
	}
	saved, err := a.backend.Save(c.actor, &doc, action)
	if err != nil {
		return nil, err
	}
	return &reply{Docs: []*types.Document{saved}}, nil
}

func (a *API) cancel(c *call) (*reply, error) {
	if err := c.required("doctype", "name"); err != nil {
		return nil, err
	}
	doc, err := a.backend.Cancel(c.actor, c.str("doctype"), c.str("name"))
	if err != nil {
		return nil, err
	}
	return &reply{Docs: []*types.Document{doc}}, nil
}

func (a *API) linkedDocs(c *call) (*reply, error) {
	if err := c.required("doctype", "name"); err != nil {
		return nil, err
	}
	docs, err := a.backend.LinkedSubmitted(c.actor, c.str("doctype"), c.str("name"))
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []LinkedDoc{}
	}
	return &reply{Message: map[string]any{"docs": docs, "count": len(docs)}}, nil
}

func (a *API) cancelAllLinked(c *call) (*reply, error) {
	var docs []LinkedDoc
	if err := c.decode("docs", &docs); err != nil {
		return nil, err
	}
	if err := a.backend.CancelLinked(c.actor, docs); err != nil {
		return nil, err
	}
	return &reply{}, nil
}

func (a *API) getValue(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	doctype := c.str("doctype")
	fieldname := c.str("fieldname")
	if fieldname == "" {
		fieldname = "name"
	}
	filters, err := c.filters("filters", doctype)
	if err != nil {
		return nil, err
	}
	v, err := a.backend.GetValue(c.actor, doctype, fieldname, filters)
	if err != nil {
		return nil, err
	}
	return &reply{Message: v}, nil
}

func (a *API) deleteDoc(c *call) (*reply, error) {
	if err := c.required("doctype", "name"); err != nil {
		return nil, err
	}
	if err := a.backend.Delete(c.actor, c.str("doctype"), c.str("name")); err != nil {
		return nil, err
	}
	return &reply{}, nil
}

func (a *API) list(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	q := Query{
		Doctype:    c.str("doctype"),
		OrderBy:    c.str("order_by"),
		Start:      c.int("start", 0),
		PageLength: c.int("page_length", 20),
	}
	var err error
	if q.Fields, err = c.strings("fields"); err != nil {
		return nil, err
	}
	if q.Filters, err = c.filters("filters", q.Doctype); err != nil {
		return nil, err
	}
	keys, values, err := a.backend.List(c.actor, q)
	if err != nil {
		return nil, err
	}
	return &reply{Message: map[string]any{"keys": keys, "values": values}}, nil
}

func (a *API) count(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	doctype := c.str("doctype")
	filters, err := c.filters("filters", doctype)
	if err != nil {
		return nil, err
	}
	n, err := a.backend.Count(c.actor, doctype, filters)
	if err != nil {
		return nil, err
	}
	return &reply{Message: n}, nil
}

// failedReply always carries a list so clients can tell "none failed" from
// a missing message.
func failedReply(failed []string) *reply {
	if failed == nil {
		failed = []string{}
	}
	return &reply{Message: failed}
}

func (a *API) bulk(c *call) (*reply, error) {
	if err := c.required("doctype", "action"); err != nil {
		return nil, err
	}
	names, err := c.strings("docnames")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := c.decode("data", &data); err != nil {
		return nil, err
	}
	taskID := c.str("task_id")
	var progress BulkProgress
	if taskID != "" && a.pub != nil {
		progress = func(done, total int, failed []string) {
			evt := event.NewTaskProgress(event.TaskProgressPayload{
				TaskID: taskID, Progress: done, Total: total, Title: c.str("action"), Failed: failed,
			})
			evt.User = c.actor.User
			a.pub.Publish(context.Background(), evt)
		}
	}
	failed, err := a.backend.Bulk(c.actor, c.str("doctype"), names, c.str("action"), data, progress)
	if err != nil {
		return nil, err
	}
	return failedReply(failed), nil
}

func (a *API) deleteItems(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	names, err := c.strings("items")
	if err != nil {
		return nil, err
	}
	failed, err := a.backend.DeleteMany(c.actor, c.str("doctype"), names)
	if err != nil {
		return nil, err
	}
	return failedReply(failed), nil
}

func (a *API) assign(c *call) (*reply, error) {
	var args struct {
		Doctype  string `json:"doctype"`
		Name     any    `json:"name"`
		AssignTo any    `json:"assign_to"`
	}
	if err := c.decode("args", &args); err != nil {
		return nil, err
	}
	names, users := stringList(args.Name), stringList(args.AssignTo)
	if args.Doctype == "" || len(names) == 0 || len(users) == 0 {
		return nil, errBadRequest("%s: doctype, name and assign_to are required", c.method)
	}
	failed, err := a.backend.Assign(c.actor, args.Doctype, names, users)
	if err != nil {
		return nil, err
	}
	return failedReply(failed), nil
}

// stringList reads a list given as JSON or as a JSON-encoded string.
func stringList(v any) []string {
	switch vv := v.(type) {
	case string:
		var out []string
		if json.Unmarshal([]byte(vv), &out) == nil {
			return out
		}
		if vv != "" {
			return []string{vv}
		}
	case []any:
		var out []string
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (a *API) addTags(c *call) (*reply, error) {
	if err := c.required("dt"); err != nil {
		return nil, err
	}
	names, err := c.strings("docs")
	if err != nil {
		return nil, err
	}
	tags, err := c.strings("tags")
	if err != nil {
		return nil, err
	}
	failed, err := a.backend.AddTags(c.actor, c.str("dt"), names, tags)
	if err != nil {
		return nil, err
	}
	return failedReply(failed), nil
}

func (a *API) print(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	names, err := c.strings("name")
	if err != nil {
		return nil, err
	}
	file, content, err := a.backend.Print(c.actor, c.str("doctype"), names)
	if err != nil {
		return nil, err
	}
	return &reply{Message: map[string]any{"filename": file, "content": content}}, nil
}

func (a *API) export(c *call) (*reply, error) {
	if err := c.required("doctype"); err != nil {
		return nil, err
	}
	if f := c.str("file_format_type"); f != "" && f != "CSV" {
		return nil, errBadRequest("%s: only CSV export is supported, got %s", c.method, f)
	}
	names, err := c.strings("selected_items")
	if err != nil {
		return nil, err
	}
	file, content, err := a.backend.Export(c.actor, c.str("doctype"), names)
	if err != nil {
		return nil, err
	}
	return &reply{Message: map[string]any{"filename": file, "content": content}}, nil
}
