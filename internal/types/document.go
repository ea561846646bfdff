// Package types holds the value types shared by every desk component:
// documents, docstatus, list filters and the string state machine helper.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Standard document keys that live on Document itself rather than in Values.
const (
	KeyDoctype     = "doctype"
	KeyName        = "name"
	KeyOwner       = "owner"
	KeyDocStatus   = "docstatus"
	KeyModified    = "modified"
	KeyIsLocal     = "__islocal"
	KeyUnsaved     = "__unsaved"
	KeyParent      = "parent"
	KeyParentField = "parentfield"
	KeyParentType  = "parenttype"
	KeyIdx         = "idx"
)

// Document is one instance of a DocType, identified by (Doctype, Name).
//
// Field values live in Values. Table fields hold []*Document child rows.
// LastSyncOn is client-only bookkeeping and is never serialized.
type Document struct {
	Doctype     string
	Name        string
	Owner       string
	DocStatus   DocStatus
	Modified    string
	IsLocal     bool
	Unsaved     bool
	Parent      string
	ParentField string
	ParentType  string
	Idx         int
	Values      map[string]any

	LastSyncOn time.Time
}

// NewDocument returns an empty document of the given doctype.
func NewDocument(doctype, name string) *Document {
	return &Document{Doctype: doctype, Name: name, Values: make(map[string]any)}
}

// Get returns the value of a field. Standard keys are resolved too.
func (d *Document) Get(field string) any {
	switch field {
	case KeyDoctype:
		return d.Doctype
	case KeyName:
		return d.Name
	case KeyOwner:
		return d.Owner
	case KeyDocStatus:
		return int(d.DocStatus)
	case KeyModified:
		return d.Modified
	case KeyParent:
		return d.Parent
	case KeyParentField:
		return d.ParentField
	case KeyParentType:
		return d.ParentType
	case KeyIdx:
		return d.Idx
	}
	if d.Values == nil {
		return nil
	}
	return d.Values[field]
}

// GetString returns a field formatted as a string, "" when unset.
func (d *Document) GetString(field string) string {
	v := d.Get(field)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Set assigns a field value. Standard keys update the struct fields; setting
// docstatus directly is rejected, use SetDocStatus.
func (d *Document) Set(field string, v any) error {
	switch field {
	case KeyDocStatus:
		return fmt.Errorf("docstatus must be changed with SetDocStatus")
	case KeyDoctype:
		d.Doctype = toString(v)
	case KeyName:
		d.Name = toString(v)
	case KeyOwner:
		d.Owner = toString(v)
	case KeyModified:
		d.Modified = toString(v)
	case KeyParent:
		d.Parent = toString(v)
	case KeyParentField:
		d.ParentField = toString(v)
	case KeyParentType:
		d.ParentType = toString(v)
	case KeyIdx:
		d.Idx = toInt(v)
	default:
		if d.Values == nil {
			d.Values = make(map[string]any)
		}
		d.Values[field] = v
	}
	return nil
}

// SetDocStatus moves the document to next, refusing any regression.
func (d *Document) SetDocStatus(next DocStatus) error {
	if err := ValidateDocStatus(d.DocStatus, next); err != nil {
		return fmt.Errorf("%s %s: %w", d.Doctype, d.Name, err)
	}
	d.DocStatus = next
	return nil
}

// Children returns the child rows held in a table field.
func (d *Document) Children(field string) []*Document {
	rows, _ := d.Get(field).([]*Document)
	return rows
}

// TableFields returns the fields currently holding child rows, sorted.
func (d *Document) TableFields() []string {
	var out []string
	for k, v := range d.Values {
		if _, ok := v.([]*Document); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// AddChild appends a row to a table field and links it to d.
func (d *Document) AddChild(field string, child *Document) {
	rows := d.Children(field)
	child.Parent = d.Name
	child.ParentField = field
	child.ParentType = d.Doctype
	child.Idx = len(rows) + 1
	if d.Values == nil {
		d.Values = make(map[string]any)
	}
	d.Values[field] = append(rows, child)
}

// Clone returns a deep copy, child rows included.
func (d *Document) Clone() *Document {
	c := *d
	c.Values = make(map[string]any, len(d.Values))
	for k, v := range d.Values {
		switch vv := v.(type) {
		case []*Document:
			rows := make([]*Document, len(vv))
			for i, r := range vv {
				rows[i] = r.Clone()
			}
			c.Values[k] = rows
		default:
			c.Values[k] = v
		}
	}
	return &c
}

// AsMap returns the flat server representation of the document.
func (d *Document) AsMap() map[string]any {
	m := make(map[string]any, len(d.Values)+8)
	for k, v := range d.Values {
		if rows, ok := v.([]*Document); ok {
			list := make([]any, len(rows))
			for i, r := range rows {
				list[i] = r.AsMap()
			}
			m[k] = list
			continue
		}
		m[k] = v
	}
	m[KeyDoctype] = d.Doctype
	m[KeyName] = d.Name
	m[KeyDocStatus] = int(d.DocStatus)
	if d.Owner != "" {
		m[KeyOwner] = d.Owner
	}
	if d.Modified != "" {
		m[KeyModified] = d.Modified
	}
	if d.IsLocal {
		m[KeyIsLocal] = 1
	}
	if d.Unsaved {
		m[KeyUnsaved] = 1
	}
	if d.ParentField != "" {
		m[KeyParent] = d.Parent
		m[KeyParentField] = d.ParentField
		m[KeyParentType] = d.ParentType
		m[KeyIdx] = d.Idx
	}
	return m
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.AsMap())
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = *FromMap(m)
	return nil
}

// FromMap builds a document from its flat server representation. Lists of
// objects carrying a doctype key are decoded as child rows.
func FromMap(m map[string]any) *Document {
	d := &Document{Values: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case KeyDoctype:
			d.Doctype = toString(v)
		case KeyName:
			d.Name = toString(v)
		case KeyOwner:
			d.Owner = toString(v)
		case KeyDocStatus:
			d.DocStatus = DocStatus(toInt(v))
		case KeyModified:
			d.Modified = toString(v)
		case KeyIsLocal:
			d.IsLocal = truthy(v)
		case KeyUnsaved:
			d.Unsaved = truthy(v)
		case KeyParent:
			d.Parent = toString(v)
		case KeyParentField:
			d.ParentField = toString(v)
		case KeyParentType:
			d.ParentType = toString(v)
		case KeyIdx:
			d.Idx = toInt(v)
		default:
			if rows, ok := childRows(v); ok {
				d.Values[k] = rows
				continue
			}
			d.Values[k] = v
		}
	}
	return d
}

func childRows(v any) ([]*Document, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	rows := make([]*Document, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		if _, ok := obj[KeyDoctype]; !ok {
			return nil, false
		}
		rows = append(rows, FromMap(obj))
	}
	return rows, true
}

// IsNull reports whether a value counts as empty for mandatory checks.
func IsNull(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(vv)
		return s == "" || s == "<p><br></p>"
	case []*Document:
		return len(vv) == 0
	case []any:
		return len(vv) == 0
	}
	return false
}

// Truthy applies loose truthiness: empty strings, zero numbers, false and
// empty lists are false.
func Truthy(v any) bool { return truthy(v) }

func truthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != "" && vv != "0"
	case int:
		return vv != 0
	case int64:
		return vv != 0
	case float64:
		return vv != 0
	case json.Number:
		f, err := vv.Float64()
		return err == nil && f != 0
	case []*Document:
		return len(vv) > 0
	case []any:
		return len(vv) > 0
	}
	return true
}

func toString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	default:
		return fmt.Sprint(vv)
	}
}

func toInt(v any) int {
	switch vv := v.(type) {
	case int:
		return vv
	case int64:
		return int(vv)
	case float64:
		return int(vv)
	case json.Number:
		n, _ := vv.Int64()
		return int(n)
	case string:
		var n int
		fmt.Sscan(vv, &n)
		return n
	case bool:
		if vv {
			return 1
		}
	}
	return 0
}
