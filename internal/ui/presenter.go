// Package ui defines what the controllers need from a user interface: view
// models to render plus alerts, blocking messages, confirmations, banners
// and sounds.
package ui

import "context"

// Indicator colours an alert.
type Indicator string

const (
	Green  Indicator = "green"
	Red    Indicator = "red"
	Orange Indicator = "orange"
	Blue   Indicator = "blue"
)

// Banner is a non-blocking notice shown above a form or list until cleared.
type Banner struct {
	Key     string
	Message string
	Action  string
}

// Presenter is implemented by every front end.
type Presenter interface {
	// Alert shows a transient toast.
	Alert(msg string, ind Indicator)
	// Msgprint shows a blocking message list.
	Msgprint(title string, msgs []string)
	// Confirm asks a yes/no question and blocks until answered.
	Confirm(ctx context.Context, msg string) (bool, error)
	ShowBanner(b Banner)
	ClearBanner(key string)
	// HighlightFields marks fields of a document as failing validation.
	HighlightFields(doctype, name string, fields []string)
	PlaySound(name string)
	RenderForm(v FormView)
	RenderList(v ListView)
}

// Action is one toolbar button.
type Action struct {
	Name    string
	Label   string
	Primary bool
}

// SidebarItem is one label/value line of the form sidebar.
type SidebarItem struct {
	Label string
	Value string
}

// FieldView is one field as displayed on a form.
type FieldView struct {
	Fieldname string
	Label     string
	Fieldtype string
	Value     any
	Reqd      bool
	ReadOnly  bool
	Rows      int
}

// FormView is everything needed to draw a form.
type FormView struct {
	Doctype string
	Name    string
	Title   string
	State   string
	Dirty   bool
	Actions []Action
	Sidebar []SidebarItem
	Fields  []FieldView
}

// ListView is everything needed to draw a list, report or board.
type ListView struct {
	Doctype    string
	View       string
	Columns    []string
	Rows       []map[string]any
	Groups     map[string][]string
	GroupOrder []string
	Total      int
	Start      int
	PageLength int
	Selected   []string
	Filters    []string
}
