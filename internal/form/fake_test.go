package form

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui/uitest"
)

// fakeServer answers form calls from an in-memory document table. Override
// lets a test replace any method.
type fakeServer struct {
	mu       sync.Mutex
	calls    []string
	args     map[string][]map[string]any
	docs     map[string]*types.Document
	seq      int
	modified int
	override map[string]func(args map[string]any) (*rpc.Response, error)
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		args:     make(map[string][]map[string]any),
		docs:     make(map[string]*types.Document),
		override: make(map[string]func(map[string]any) (*rpc.Response, error)),
	}
}

func docKey(doctype, name string) string { return doctype + "/" + name }

func (s *fakeServer) put(doc *types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(doc.Doctype, doc.Name)] = doc.Clone()
}

func (s *fakeServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (s *fakeServer) lastArgs(method string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.args[method]
	if len(a) == 0 {
		return nil
	}
	return a[len(a)-1]
}

func docsResponse(docs ...*types.Document) *rpc.Response {
	b, _ := json.Marshal(docs)
	return &rpc.Response{Docs: b, StatusCode: http.StatusOK}
}

func messageResponse(v any) *rpc.Response {
	b, _ := json.Marshal(v)
	return &rpc.Response{Message: b, StatusCode: http.StatusOK}
}

func (s *fakeServer) Call(_ context.Context, method string, args any) (*rpc.Response, error) {
	m, _ := args.(map[string]any)
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.args[method] = append(s.args[method], m)
	fn := s.override[method]
	s.mu.Unlock()
	if fn != nil {
		return fn(m)
	}

	switch method {
	case MethodGetDoc:
		s.mu.Lock()
		defer s.mu.Unlock()
		doc, ok := s.docs[docKey(m["doctype"].(string), m["name"].(string))]
		if !ok {
			return nil, &rpc.ServerError{Method: method, Status: http.StatusNotFound, ExcType: "DoesNotExistError"}
		}
		return docsResponse(doc.Clone()), nil
	case MethodSaveDocs:
		var doc types.Document
		if err := json.Unmarshal([]byte(m["doc"].(string)), &doc); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if doc.IsLocal {
			s.seq++
			doc.Name = fmt.Sprintf("%s-%04d", prefix(doc.Doctype), s.seq)
		}
		for _, field := range doc.TableFields() {
			for i, row := range doc.Children(field) {
				row.Name = fmt.Sprintf("%s-row-%d", doc.Name, i+1)
				row.Parent = doc.Name
				row.IsLocal = false
			}
		}
		doc.IsLocal, doc.Unsaved = false, false
		s.modified++
		doc.Modified = fmt.Sprintf("2024-01-01 00:00:%02d", s.modified)
		if m["action"] == ActionSubmit {
			doc.DocStatus = types.Submitted
		}
		s.docs[docKey(doc.Doctype, doc.Name)] = doc.Clone()
		return docsResponse(&doc), nil
	case MethodCancel:
		s.mu.Lock()
		defer s.mu.Unlock()
		doc := s.docs[docKey(m["doctype"].(string), m["name"].(string))]
		doc.DocStatus = types.Cancelled
		return docsResponse(doc.Clone()), nil
	case MethodLinkedDocs:
		return messageResponse(map[string]any{"docs": []any{}, "count": 0}), nil
	case MethodGetValue:
		return messageResponse(map[string]any{}), nil
	case MethodDelete, MethodCancelAllLinked:
		return &rpc.Response{StatusCode: http.StatusOK}, nil
	}
	return nil, fmt.Errorf("fake server: unexpected method %s", method)
}

func prefix(doctype string) string {
	switch doctype {
	case "Sales Order":
		return "SO"
	case "ToDo":
		return "TD"
	}
	return "DOC"
}

func todoMeta() *meta.DocType {
	return &meta.DocType{
		Name:       "ToDo",
		TitleField: "description",
		Fields: []meta.DocField{
			{Fieldname: "description", Label: "Description", Fieldtype: "Text Editor", Reqd: true},
			{Fieldname: "status", Label: "Status", Fieldtype: "Select", Options: "Open\nClosed", Default: "Open"},
			{Fieldname: "date", Label: "Due Date", Fieldtype: "Date", MandatoryDependsOn: "eval:doc.status=='Closed'"},
			{Fieldname: "section_break", Fieldtype: "Section Break"},
		},
	}
}

func orderMeta() (*meta.DocType, *meta.DocType) {
	so := &meta.DocType{
		Name:          "Sales Order",
		IsSubmittable: true,
		Fields: []meta.DocField{
			{Fieldname: "customer", Label: "Customer", Fieldtype: "Link", Options: "Customer", Reqd: true},
			{Fieldname: "po_no", Label: "PO No", Fieldtype: "Data", NoCopy: true},
			{Fieldname: "items", Label: "Items", Fieldtype: "Table", Options: "Sales Order Item", Reqd: true},
			{Fieldname: "amended_from", Label: "Amended From", Fieldtype: "Link", Options: "Sales Order", NoCopy: true, ReadOnly: true},
		},
		Permissions: []meta.DocPerm{
			{Role: "Sales User", Read: true, Write: true, Create: true, Submit: true, Cancel: true, Amend: true, Print: true},
			{Role: "Guest", Read: true},
		},
	}
	item := &meta.DocType{
		Name:    "Sales Order Item",
		IsTable: true,
		Fields: []meta.DocField{
			{Fieldname: "item_code", Label: "Item Code", Fieldtype: "Link", Options: "Item", Reqd: true},
			{Fieldname: "qty", Label: "Quantity", Fieldtype: "Float", Default: "1"},
		},
	}
	return so, item
}

func newTestSession(t *testing.T, srv *fakeServer, roles ...string) (*session.Session, *uitest.Recorder) {
	t.Helper()
	if len(roles) == 0 {
		roles = []string{"Sales User"}
	}
	rec := uitest.New()
	sess := session.New(srv, "a@example.com", roles, rec)
	so, item := orderMeta()
	sess.Meta.Put(todoMeta())
	sess.Meta.Put(so)
	sess.Meta.Put(item)
	return sess, rec
}

// savedOrder stores a draft Sales Order with one item on the server.
func savedOrder(srv *fakeServer, status types.DocStatus) *types.Document {
	doc := types.NewDocument("Sales Order", "SO-0100")
	doc.Owner = "b@example.com"
	doc.DocStatus = status
	doc.Modified = "2024-01-01 09:00:00"
	_ = doc.Set("customer", "Acme")
	_ = doc.Set("po_no", "PO-7")
	_ = doc.Set("_assign", `["c@example.com"]`)
	_ = doc.Set("_user_tags", "urgent, export")
	row := types.NewDocument("Sales Order Item", "SO-0100-row-1")
	_ = row.Set("item_code", "WIDGET")
	_ = row.Set("qty", 2.0)
	doc.AddChild("items", row)
	srv.put(doc)
	return doc
}
