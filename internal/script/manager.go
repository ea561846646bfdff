package script

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/golang/glog"
)

type namedHandler struct {
	name string
	fn   Handler
}

// Registry accumulates handlers and controllers per doctype at script load
// time. It is shared by every form of a session.
type Registry struct {
	mu          sync.RWMutex
	handlers    map[string]map[Event][]namedHandler
	controllers map[string][]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[string]map[Event][]namedHandler),
		controllers: make(map[string][]any),
	}
}

// On registers a handler. Handlers run in registration order; there is no
// priority.
func (r *Registry) On(doctype string, ev Event, h Handler) {
	r.OnNamed(doctype, ev, funcName(h), h)
}

// OnNamed registers a handler under an explicit name used in error logs.
func (r *Registry) OnNamed(doctype string, ev Event, name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byEvent, ok := r.handlers[doctype]
	if !ok {
		byEvent = make(map[Event][]namedHandler)
		r.handlers[doctype] = byEvent
	}
	byEvent[ev] = append(byEvent[ev], namedHandler{name: name, fn: h})
}

// Extend composes a controller into the doctype's controller chain.
func (r *Registry) Extend(doctype string, controller any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[doctype] = append(r.controllers[doctype], controller)
}

// Has reports whether anything would run for the event.
func (r *Registry) Has(doctype string, ev Event) bool {
	return len(r.thunks(doctype, ev)) > 0
}

type thunk struct {
	name string
	fn   Handler
}

// thunks lists new-style handlers first, then controller methods.
func (r *Registry) thunks(doctype string, ev Event) []thunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []thunk
	for _, h := range r.handlers[doctype][ev] {
		out = append(out, thunk{name: h.name, fn: h.fn})
	}
	for _, c := range r.controllers[doctype] {
		if fn, name, ok := method(c, ev); ok {
			out = append(out, thunk{name: name, fn: fn})
		}
	}
	return out
}

func funcName(h Handler) string {
	fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
	if fn == nil {
		return "handler"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Drainer reports when the network queue has no calls in flight.
type Drainer interface {
	Wait(ctx context.Context) error
}

// Manager dispatches events for one form.
type Manager struct {
	registry *Registry
	frm      Form
	queue    Drainer
}

// NewManager binds a registry to a form. queue may be nil.
func NewManager(registry *Registry, frm Form, queue Drainer) *Manager {
	return &Manager{registry: registry, frm: frm, queue: queue}
}

// Registry returns the registry the manager reads from.
func (m *Manager) Registry() *Registry { return m.registry }

// Trigger runs every handler for (doctype, ev) serially. An empty doctype or
// name defaults to the form's document. Each handler starts only after the
// previous one returned and the network queue drained; setup handlers run
// immediately without waiting on the queue. The first failure stops the
// chain and is returned as a *HandlerError.
func (m *Manager) Trigger(ctx context.Context, ev Event, doctype, name string) error {
	if doctype == "" {
		doctype = m.frm.Doctype()
	}
	if name == "" {
		if doc := m.frm.Doc(); doc != nil {
			name = doc.Name
		}
	}

	thunks := m.registry.thunks(doctype, ev)
	if len(thunks) == 0 {
		return nil
	}
	glog.V(2).Infof("script: %s on %s %s (%d handlers)", ev, doctype, name, len(thunks))

	for _, t := range thunks {
		if err := t.fn(ctx, m.frm, doctype, name); err != nil {
			herr := &HandlerError{Doctype: doctype, Event: ev, Method: t.name, Err: err}
			glog.Errorf("script: error in %s for %s %s: %v", t.name, doctype, ev, err)
			return herr
		}
		if ev == Setup || m.queue == nil {
			continue
		}
		if err := m.queue.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
