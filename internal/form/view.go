package form

import (
	"encoding/json"
	"strings"

	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui"
)

// Toolbar composes the form actions from state, permissions and dirtiness.
// The first action is the primary one.
func (f *Controller) Toolbar() []ui.Action {
	doc := f.doc
	if doc == nil {
		return nil
	}
	var primary *ui.Action
	var secondary []ui.Action
	state := f.State()

	switch state {
	case StateNew:
		primary = &ui.Action{Name: "save", Label: "Save"}
		secondary = append(secondary, ui.Action{Name: "discard", Label: "Discard"})
	case StateDraft:
		switch {
		case doc.Unsaved || !f.meta.IsSubmittable:
			if f.can(meta.PermWrite) {
				primary = &ui.Action{Name: "save", Label: "Save"}
			}
		case f.can(meta.PermSubmit):
			primary = &ui.Action{Name: "submit", Label: "Submit"}
		}
		if doc.Unsaved {
			secondary = append(secondary, ui.Action{Name: "discard", Label: "Discard"})
		}
	case StateSubmitted:
		if f.can(meta.PermCancel) {
			primary = &ui.Action{Name: "cancel", Label: "Cancel"}
		}
	case StateCancelled:
		if f.can(meta.PermAmend) && f.meta.HasField("amended_from") {
			primary = &ui.Action{Name: "amend", Label: "Amend"}
		}
	}

	if state != StateNew {
		if f.can(meta.PermPrint) {
			secondary = append(secondary, ui.Action{Name: "print", Label: "Print"})
		}
		secondary = append(secondary, ui.Action{Name: "reload", Label: "Reload"})
	}

	var out []ui.Action
	if primary != nil {
		primary.Primary = true
		out = append(out, *primary)
	}
	return append(out, secondary...)
}

// Sidebar lists owner, last modification, assignees, tags and the
// document this one amends.
func (f *Controller) Sidebar() []ui.SidebarItem {
	doc := f.doc
	if doc == nil {
		return nil
	}
	var out []ui.SidebarItem
	if doc.Owner != "" {
		out = append(out, ui.SidebarItem{Label: "Created By", Value: doc.Owner})
	}
	if doc.Modified != "" {
		out = append(out, ui.SidebarItem{Label: "Last Modified", Value: doc.Modified})
	}
	if assigned := listValue(doc.Get("_assign")); len(assigned) > 0 {
		out = append(out, ui.SidebarItem{Label: "Assigned To", Value: strings.Join(assigned, ", ")})
	}
	if tags := tagList(doc.GetString("_user_tags")); len(tags) > 0 {
		out = append(out, ui.SidebarItem{Label: "Tags", Value: strings.Join(tags, ", ")})
	}
	if from := doc.GetString("amended_from"); from != "" {
		out = append(out, ui.SidebarItem{Label: "Amended From", Value: from})
	}
	return out
}

// listValue reads a list stored either natively or as a JSON string.
func listValue(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		if json.Unmarshal([]byte(vv), &out) == nil {
			return out
		}
	}
	return nil
}

func tagList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Title returns the title field value, falling back to the name.
func (f *Controller) Title() string {
	if f.doc == nil {
		return ""
	}
	if f.meta != nil && f.meta.TitleField != "" {
		if t := f.doc.GetString(f.meta.TitleField); t != "" {
			return t
		}
	}
	return f.doc.Name
}

// View builds the view model of the form.
func (f *Controller) View() ui.FormView {
	doc := f.doc
	if doc == nil {
		return ui.FormView{}
	}
	v := ui.FormView{
		Doctype: doc.Doctype,
		Name:    doc.Name,
		Title:   f.Title(),
		State:   string(f.State()),
		Dirty:   doc.Unsaved,
		Actions: f.Toolbar(),
		Sidebar: f.Sidebar(),
	}
	if f.meta == nil {
		return v
	}
	for i := range f.meta.Fields {
		df := &f.meta.Fields[i]
		if !df.HasValue() || !meta.IsDisplayed(df, doc, nil) {
			continue
		}
		fv := ui.FieldView{
			Fieldname: df.Fieldname,
			Label:     df.DisplayLabel(),
			Fieldtype: df.Fieldtype,
			Reqd:      meta.IsMandatory(df, doc, nil),
			ReadOnly:  doc.DocStatus != types.Draft || meta.IsReadOnly(df, doc, nil),
		}
		if df.IsTable() {
			fv.Rows = len(doc.Children(df.Fieldname))
		} else {
			fv.Value = doc.Get(df.Fieldname)
		}
		v.Fields = append(v.Fields, fv)
	}
	return v
}

func (f *Controller) render() {
	f.sess.UI.RenderForm(f.View())
}
