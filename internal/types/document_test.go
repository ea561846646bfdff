package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocStatus(t *testing.T) {
	tests := []struct {
		from, to DocStatus
		ok       bool
	}{
		{Draft, Draft, true},
		{Draft, Submitted, true},
		{Draft, Cancelled, false},
		{Submitted, Cancelled, true},
		{Submitted, Draft, false},
		{Cancelled, Draft, false},
		{Cancelled, Submitted, false},
		{Cancelled, Cancelled, true},
	}
	for _, tt := range tests {
		err := ValidateDocStatus(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.Error(t, err, "%s -> %s", tt.from, tt.to)
		}
	}
}

func TestDocument_SetDocStatusNeverRegresses(t *testing.T) {
	d := NewDocument("ToDo", "TD-0001")
	require.NoError(t, d.SetDocStatus(Submitted))
	require.NoError(t, d.SetDocStatus(Cancelled))
	require.Error(t, d.SetDocStatus(Draft))
	assert.Equal(t, Cancelled, d.DocStatus)
	assert.Error(t, d.Set(KeyDocStatus, 0))
}

func TestDocument_JSONWithChildren(t *testing.T) {
	raw := `{
		"doctype": "Sales Order", "name": "SO-0001", "docstatus": 1,
		"owner": "alice@example.com", "modified": "2026-01-02 10:00:00.000000",
		"customer": "ACME",
		"items": [
			{"doctype": "Sales Order Item", "name": "row-1", "parent": "SO-0001", "parentfield": "items", "parenttype": "Sales Order", "idx": 1, "qty": 2},
			{"doctype": "Sales Order Item", "name": "row-2", "parent": "SO-0001", "parentfield": "items", "parenttype": "Sales Order", "idx": 2, "qty": 5}
		],
		"tags": ["a", "b"]
	}`
	var d Document
	require.NoError(t, json.Unmarshal([]byte(raw), &d))

	assert.Equal(t, "Sales Order", d.Doctype)
	assert.Equal(t, Submitted, d.DocStatus)
	assert.Equal(t, "ACME", d.Get("customer"))
	rows := d.Children("items")
	require.Len(t, rows, 2)
	assert.Equal(t, "items", rows[1].ParentField)
	assert.Equal(t, 2, rows[1].Idx)
	assert.Equal(t, []string{"items"}, d.TableFields())

	out, err := json.Marshal(&d)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, float64(1), back["docstatus"])
	assert.Len(t, back["items"], 2)
	_, local := back[KeyIsLocal]
	assert.False(t, local)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	d := NewDocument("Sales Order", "SO-0001")
	d.AddChild("items", &Document{Doctype: "Sales Order Item", Name: "row-1", Values: map[string]any{"qty": 1}})

	c := d.Clone()
	c.Children("items")[0].Values["qty"] = 9
	c.Values["customer"] = "Other"

	assert.Equal(t, 1, d.Children("items")[0].Values["qty"])
	assert.Nil(t, d.Get("customer"))
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull("   "))
	assert.True(t, IsNull("<p><br></p>"))
	assert.True(t, IsNull([]*Document{}))
	assert.False(t, IsNull(0))
	assert.False(t, IsNull("x"))
}

func TestFilter_JSONRoundTripShape(t *testing.T) {
	f := Filter{Doctype: "ToDo", Field: "status", Operator: "=", Value: "Open"}
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `["ToDo","status","=","Open"]`, string(b))

	var three Filter
	require.NoError(t, json.Unmarshal([]byte(`["status","!=","Closed"]`), &three))
	assert.Equal(t, "status", three.Field)
	assert.Equal(t, "", three.Doctype)

	assert.Error(t, json.Unmarshal([]byte(`["status"]`), &three))
}

func TestFilters_Match(t *testing.T) {
	d := NewDocument("ToDo", "TD-0001")
	d.Values["status"] = "Open"
	d.Values["priority"] = float64(3)
	d.Values["description"] = "Call the plumber"

	tests := []struct {
		f    Filter
		want bool
	}{
		{Filter{"ToDo", "status", "=", "Open"}, true},
		{Filter{"ToDo", "status", "!=", "Open"}, false},
		{Filter{"ToDo", "priority", ">", 2}, true},
		{Filter{"ToDo", "priority", "<=", "2"}, false},
		{Filter{"ToDo", "description", "like", "%plumber%"}, true},
		{Filter{"ToDo", "description", "not like", "call%"}, false},
		{Filter{"ToDo", "status", "in", []any{"Open", "Closed"}}, true},
		{Filter{"ToDo", "status", "not in", "Closed, Cancelled"}, true},
		{Filter{"ToDo", "allocated_to", "is", "not set"}, true},
		{Filter{"ToDo", "priority", "between", []any{1, 3}}, true},
		{Filter{"ToDo", "name", "=", "TD-0001"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.f.Match(d), tt.f.String())
	}

	assert.True(t, Filters{{"ToDo", "status", "=", "Open"}, {"Note", "title", "=", "x"}}.Match(d))
	assert.Error(t, Filter{Operator: "~"}.Validate())
}
