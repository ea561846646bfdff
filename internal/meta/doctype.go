// Package meta provides DocType metadata: field definitions, permissions and
// layout, a lazily filled per-session cache, and depends_on expression
// evaluation.
package meta

import "strings"

// Field types that carry no value.
var noValueTypes = map[string]bool{
	"Section Break": true,
	"Column Break":  true,
	"Tab Break":     true,
	"HTML":          true,
	"Button":        true,
	"Image":         true,
	"Fold":          true,
	"Heading":       true,
}

// Field types holding child rows.
var tableTypes = map[string]bool{
	"Table":             true,
	"Table MultiSelect": true,
}

// DocField describes a single field on a DocType.
type DocField struct {
	Fieldname          string `json:"fieldname"`
	Label              string `json:"label,omitempty"`
	Fieldtype          string `json:"fieldtype"`
	Options            string `json:"options,omitempty"`
	Reqd               bool   `json:"reqd,omitempty"`
	Hidden             bool   `json:"hidden,omitempty"`
	ReadOnly           bool   `json:"read_only,omitempty"`
	NoCopy             bool   `json:"no_copy,omitempty"`
	InListView         bool   `json:"in_list_view,omitempty"`
	InStandardFilter   bool   `json:"in_standard_filter,omitempty"`
	Default            string `json:"default,omitempty"`
	DependsOn          string `json:"depends_on,omitempty"`
	MandatoryDependsOn string `json:"mandatory_depends_on,omitempty"`
	ReadOnlyDependsOn  string `json:"read_only_depends_on,omitempty"`
	Permlevel          int    `json:"permlevel,omitempty"`
}

// IsTable reports whether the field holds child rows of DocField.Options.
func (f *DocField) IsTable() bool { return tableTypes[f.Fieldtype] }

// HasValue reports whether the field stores data.
func (f *DocField) HasValue() bool { return !noValueTypes[f.Fieldtype] }

// DisplayLabel returns the label, falling back to the fieldname.
func (f *DocField) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	words := strings.Split(f.Fieldname, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Permission types checked against DocPerm rows.
const (
	PermRead   = "read"
	PermWrite  = "write"
	PermCreate = "create"
	PermDelete = "delete"
	PermSubmit = "submit"
	PermCancel = "cancel"
	PermAmend  = "amend"
	PermPrint  = "print"
	PermExport = "export"
	PermReport = "report"
	PermShare  = "share"
)

// DocPerm is one row of a DocType's role permission matrix.
type DocPerm struct {
	Role      string `json:"role"`
	Permlevel int    `json:"permlevel,omitempty"`
	Read      bool   `json:"read,omitempty"`
	Write     bool   `json:"write,omitempty"`
	Create    bool   `json:"create,omitempty"`
	Delete    bool   `json:"delete,omitempty"`
	Submit    bool   `json:"submit,omitempty"`
	Cancel    bool   `json:"cancel,omitempty"`
	Amend     bool   `json:"amend,omitempty"`
	Print     bool   `json:"print,omitempty"`
	Export    bool   `json:"export,omitempty"`
	Report    bool   `json:"report,omitempty"`
	Share     bool   `json:"share,omitempty"`
}

func (p *DocPerm) allows(ptype string) bool {
	switch ptype {
	case PermRead:
		return p.Read
	case PermWrite:
		return p.Write
	case PermCreate:
		return p.Create
	case PermDelete:
		return p.Delete
	case PermSubmit:
		return p.Submit
	case PermCancel:
		return p.Cancel
	case PermAmend:
		return p.Amend
	case PermPrint:
		return p.Print
	case PermExport:
		return p.Export
	case PermReport:
		return p.Report
	case PermShare:
		return p.Share
	}
	return false
}

// DocType holds the complete metadata for one document type.
type DocType struct {
	Name          string     `json:"name"`
	Module        string     `json:"module,omitempty"`
	IsSubmittable bool       `json:"is_submittable,omitempty"`
	IsTable       bool       `json:"istable,omitempty"`
	TitleField    string     `json:"title_field,omitempty"`
	SortField     string     `json:"sort_field,omitempty"`
	SortOrder     string     `json:"sort_order,omitempty"`
	Autoname      string     `json:"autoname,omitempty"`
	HasWorkflow   bool       `json:"has_workflow,omitempty"`
	Fields        []DocField `json:"fields"`
	Permissions   []DocPerm  `json:"permissions,omitempty"`
}

// Field returns the named field or nil.
func (dt *DocType) Field(name string) *DocField {
	for i := range dt.Fields {
		if dt.Fields[i].Fieldname == name {
			return &dt.Fields[i]
		}
	}
	return nil
}

// HasField reports whether the doctype declares the field.
func (dt *DocType) HasField(name string) bool { return dt.Field(name) != nil }

// TableFields returns the fields holding child rows.
func (dt *DocType) TableFields() []*DocField {
	var out []*DocField
	for i := range dt.Fields {
		if dt.Fields[i].IsTable() {
			out = append(out, &dt.Fields[i])
		}
	}
	return out
}

// ListViewFields returns the fieldnames shown as list columns.
func (dt *DocType) ListViewFields() []string {
	var out []string
	for _, f := range dt.Fields {
		if f.InListView && f.HasValue() && !f.IsTable() {
			out = append(out, f.Fieldname)
		}
	}
	return out
}

// HasPermission reports whether any of roles grants ptype at permlevel 0.
func (dt *DocType) HasPermission(roles []string, ptype string) bool {
	for i := range dt.Permissions {
		p := &dt.Permissions[i]
		if p.Permlevel != 0 || !p.allows(ptype) {
			continue
		}
		for _, r := range roles {
			if r == p.Role || r == "Administrator" {
				return true
			}
		}
	}
	return false
}

// DefaultSort returns the configured sort, defaulting to modified desc.
func (dt *DocType) DefaultSort() (field, order string) {
	field, order = dt.SortField, strings.ToLower(dt.SortOrder)
	if field == "" {
		field = "modified"
	}
	if order != "asc" {
		order = "desc"
	}
	return field, order
}
