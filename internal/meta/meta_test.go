package meta

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/types"
)

const todoCUE = `
#Field: {
	fieldname: string
	fieldtype: *"Data" | "Select" | "Text" | "Date" | "Link" | "Table" | "Check" | "Int"
	label?:    string
	options?:  string
	reqd?:     bool
	mandatory_depends_on?: string
}

doctypes: {
	ToDo: {
		module: "Desk"
		fields: [...#Field] & [
			{fieldname: "status", fieldtype: "Select", options: "Open\nClosed"},
			{fieldname: "description", fieldtype: "Text", reqd: true},
			{fieldname: "date", fieldtype: "Date", mandatory_depends_on: "eval:doc.status=='Closed'"},
		]
		permissions: [{role: "System Manager", read: true, write: true, create: true, delete: true}]
	}
	"Sales Order": {
		is_submittable: true
		fields: [{fieldname: "items", fieldtype: "Table", options: "Sales Order Item"}]
		permissions: [{role: "Sales User", read: true, submit: true}]
	}
}
`

func TestLoadCUE(t *testing.T) {
	dts, err := LoadCUE("todo.cue", []byte(todoCUE))
	require.NoError(t, err)
	require.Len(t, dts, 2)

	so, todo := dts[0], dts[1]
	assert.Equal(t, "Sales Order", so.Name)
	assert.True(t, so.IsSubmittable)
	require.Len(t, so.TableFields(), 1)

	assert.Equal(t, "ToDo", todo.Name)
	desc := todo.Field("description")
	require.NotNil(t, desc)
	assert.True(t, desc.Reqd)
	assert.Equal(t, "Description", desc.DisplayLabel())
	assert.Equal(t, "Select", todo.Fields[0].Fieldtype)
	assert.Equal(t, "eval:doc.status=='Closed'", todo.Field("date").MandatoryDependsOn)
	assert.True(t, todo.HasPermission([]string{"System Manager"}, PermWrite))
	assert.False(t, todo.HasPermission([]string{"Guest"}, PermRead))
	assert.False(t, so.HasPermission([]string{"Sales User"}, PermCancel))
}

func TestLoadCUE_RejectsBadFieldtype(t *testing.T) {
	_, err := LoadCUE("bad.cue", []byte(`
#Field: {fieldname: string, fieldtype: "Data" | "Int"}
doctypes: X: fields: [...#Field] & [{fieldname: "a", fieldtype: "Nope"}]
`))
	assert.Error(t, err)
}

func TestEval(t *testing.T) {
	doc := types.NewDocument("ToDo", "TD-0001")
	doc.Values["status"] = "Closed"
	doc.Values["qty"] = float64(3)
	doc.Values["note"] = ""
	doc.IsLocal = true
	parent := types.NewDocument("Sales Order", "SO-0001")
	parent.Values["customer"] = "ACME"

	tests := []struct {
		expr string
		want bool
	}{
		{"", false},
		{"status", true},
		{"note", false},
		{"missing", false},
		{"eval:doc.status=='Closed'", true},
		{"eval:doc.status==='Open'", false},
		{"eval:doc.status!=='Open' && doc.qty > 2", true},
		{"eval:doc.qty >= 4 || doc.name == \"TD-0001\"", true},
		{"eval:parent.customer == 'ACME'", true},
		{"eval:doc.nosuchfield == 'x'", false},
		{"eval:this is not an expression(", false},
		{"eval:doc.status", true},
		{"eval:doc.status && parent.customer", true},
		{"eval:doc.status && doc.note", false},
		{"eval:doc.note || doc.qty", true},
		{"eval:!doc.email", true},
		{"eval:!doc.note", true},
		{"eval:!doc.status", false},
		{"eval:!(doc.status == 'Closed') || doc.qty", true},
		{"eval:doc.qty && !(doc.status != 'Closed')", true},
		{"eval:!", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Eval(tt.expr, doc, parent), tt.expr)
	}
}

func TestNormalizeExpr(t *testing.T) {
	assert.Equal(t, `doc.a == "x" && doc.b != "it's"`, normalizeExpr(`doc.a === 'x' && doc.b !== 'it\'s'`))
	assert.Equal(t, `doc.a == "say \"hi\""`, normalizeExpr(`doc.a == 'say "hi"'`))
}

func TestIsMandatoryLooseTruthiness(t *testing.T) {
	doc := types.NewDocument("Sales Order", "SO-0001")
	doc.Values["customer"] = "ACME"
	f := &DocField{Fieldname: "company", MandatoryDependsOn: "eval:doc.customer && !doc.company"}
	assert.True(t, IsMandatory(f, doc, nil))
	doc.Values["company"] = "Corp"
	assert.False(t, IsMandatory(f, doc, nil))
	assert.True(t, Eval("eval:doc.customer && doc.company", doc, nil))
}

func TestIsMandatory(t *testing.T) {
	doc := types.NewDocument("ToDo", "TD-0001")
	doc.Values["status"] = "Open"
	f := &DocField{Fieldname: "date", MandatoryDependsOn: "eval:doc.status=='Closed'"}
	assert.False(t, IsMandatory(f, doc, nil))
	doc.Values["status"] = "Closed"
	assert.True(t, IsMandatory(f, doc, nil))
	assert.True(t, IsMandatory(&DocField{Reqd: true}, doc, nil))
	assert.False(t, IsDisplayed(&DocField{Hidden: true}, doc, nil))
	assert.True(t, IsReadOnly(&DocField{ReadOnlyDependsOn: "status"}, doc, nil))
}

type countingCaller struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *countingCaller) Call(_ context.Context, method string, args any) (*rpc.Response, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	name := args.(map[string]any)["doctype"].(string)
	docs, _ := json.Marshal([]*DocType{
		{Name: name, Fields: []DocField{{Fieldname: "items", Fieldtype: "Table", Options: name + " Item"}}},
		{Name: name + " Item", IsTable: true},
	})
	return &rpc.Response{Docs: docs}, nil
}

func TestCache_FetchesOnceAndCachesChildren(t *testing.T) {
	caller := &countingCaller{delay: 10 * time.Millisecond}
	c := NewCache(caller)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt, err := c.Get(ctx, "Sales Order")
			assert.NoError(t, err)
			assert.Equal(t, "Sales Order", dt.Name)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), caller.calls.Load())

	child, err := c.Get(ctx, "Sales Order Item")
	require.NoError(t, err)
	assert.True(t, child.IsTable)
	assert.Equal(t, int32(1), caller.calls.Load())

	c.Invalidate("Sales Order")
	assert.Nil(t, c.Peek("Sales Order"))
	_, err = c.Get(ctx, "Sales Order")
	require.NoError(t, err)
	assert.Equal(t, int32(2), caller.calls.Load())
}
