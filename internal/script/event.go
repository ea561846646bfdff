// Package script is the per-form event dispatcher. Handlers registered for a
// (doctype, event) pair run strictly in registration order, each one
// finishing before the next starts.
package script

import (
	"context"
	"fmt"

	"github.com/matthewbaird/desk/internal/types"
)

// Event names a form lifecycle hook. Field change events use the fieldname.
type Event string

const (
	Setup            Event = "setup"
	Onload           Event = "onload"
	Refresh          Event = "refresh"
	OnloadPostRender Event = "onload_post_render"
	Validate         Event = "validate"
	BeforeSave       Event = "before_save"
	AfterSave        Event = "after_save"
	BeforeSubmit     Event = "before_submit"
	OnSubmit         Event = "on_submit"
	BeforeCancel     Event = "before_cancel"
	AfterCancel      Event = "after_cancel"
	AfterDiscard     Event = "after_discard"
	TimelineRefresh  Event = "timeline_refresh"
)

var lifecycle = map[Event]bool{
	Setup: true, Onload: true, Refresh: true, OnloadPostRender: true,
	Validate: true, BeforeSave: true, AfterSave: true,
	BeforeSubmit: true, OnSubmit: true, BeforeCancel: true, AfterCancel: true,
	AfterDiscard: true, TimelineRefresh: true,
}

// Change returns the event fired when fieldname changes.
func Change(fieldname string) Event { return Event(fieldname) }

// IsLifecycle reports whether e is a lifecycle hook rather than a field change.
func (e Event) IsLifecycle() bool { return lifecycle[e] }

// Form is the view of a form controller that handlers work against.
type Form interface {
	Doctype() string
	Doc() *types.Document
	SetValue(ctx context.Context, field string, v any) error
	// Invalidate marks the current save as failed; the save aborts after
	// the running hook batch without calling the server.
	Invalidate(reason string)
}

// Handler is a new-style registered callback. cdt and cdn identify the
// document the event fired for, which is a child row for child table events.
type Handler func(ctx context.Context, frm Form, cdt, cdn string) error

// HandlerError wraps a failure raised inside a handler.
type HandlerError struct {
	Doctype string
	Event   Event
	Method  string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s handler %s: %v", e.Doctype, e.Event, e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
