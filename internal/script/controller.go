package script

import (
	"context"
	"fmt"
)

// Controllers are composed per doctype with Registry.Extend. A controller
// takes part in an event by implementing the matching interface.

type Setuper interface {
	Setup(ctx context.Context, frm Form) error
}

type Onloader interface {
	Onload(ctx context.Context, frm Form) error
}

type Refresher interface {
	Refresh(ctx context.Context, frm Form) error
}

type PostRenderer interface {
	OnloadPostRender(ctx context.Context, frm Form) error
}

type Validator interface {
	Validate(ctx context.Context, frm Form) error
}

type BeforeSaver interface {
	BeforeSave(ctx context.Context, frm Form) error
}

type AfterSaver interface {
	AfterSave(ctx context.Context, frm Form) error
}

type BeforeSubmitter interface {
	BeforeSubmit(ctx context.Context, frm Form) error
}

type OnSubmitter interface {
	OnSubmit(ctx context.Context, frm Form) error
}

type BeforeCanceller interface {
	BeforeCancel(ctx context.Context, frm Form) error
}

type AfterCanceller interface {
	AfterCancel(ctx context.Context, frm Form) error
}

type AfterDiscarder interface {
	AfterDiscard(ctx context.Context, frm Form) error
}

// FieldChanger receives every field change event.
type FieldChanger interface {
	FieldChanged(ctx context.Context, frm Form, field, cdt, cdn string) error
}

// method resolves the controller method for an event. The returned name is
// used when logging failures.
func method(c any, ev Event) (Handler, string, bool) {
	wrap := func(name string, fn func(context.Context, Form) error) (Handler, string, bool) {
		return func(ctx context.Context, frm Form, _, _ string) error { return fn(ctx, frm) },
			fmt.Sprintf("%T.%s", c, name), true
	}
	switch ev {
	case Setup:
		if x, ok := c.(Setuper); ok {
			return wrap("Setup", x.Setup)
		}
	case Onload:
		if x, ok := c.(Onloader); ok {
			return wrap("Onload", x.Onload)
		}
	case Refresh:
		if x, ok := c.(Refresher); ok {
			return wrap("Refresh", x.Refresh)
		}
	case OnloadPostRender:
		if x, ok := c.(PostRenderer); ok {
			return wrap("OnloadPostRender", x.OnloadPostRender)
		}
	case Validate:
		if x, ok := c.(Validator); ok {
			return wrap("Validate", x.Validate)
		}
	case BeforeSave:
		if x, ok := c.(BeforeSaver); ok {
			return wrap("BeforeSave", x.BeforeSave)
		}
	case AfterSave:
		if x, ok := c.(AfterSaver); ok {
			return wrap("AfterSave", x.AfterSave)
		}
	case BeforeSubmit:
		if x, ok := c.(BeforeSubmitter); ok {
			return wrap("BeforeSubmit", x.BeforeSubmit)
		}
	case OnSubmit:
		if x, ok := c.(OnSubmitter); ok {
			return wrap("OnSubmit", x.OnSubmit)
		}
	case BeforeCancel:
		if x, ok := c.(BeforeCanceller); ok {
			return wrap("BeforeCancel", x.BeforeCancel)
		}
	case AfterCancel:
		if x, ok := c.(AfterCanceller); ok {
			return wrap("AfterCancel", x.AfterCancel)
		}
	case AfterDiscard:
		if x, ok := c.(AfterDiscarder); ok {
			return wrap("AfterDiscard", x.AfterDiscard)
		}
	case TimelineRefresh:
		return nil, "", false
	default:
		if x, ok := c.(FieldChanger); ok {
			field := string(ev)
			return func(ctx context.Context, frm Form, cdt, cdn string) error {
				return x.FieldChanged(ctx, frm, field, cdt, cdn)
			}, fmt.Sprintf("%T.FieldChanged(%s)", c, field), true
		}
	}
	return nil, "", false
}
