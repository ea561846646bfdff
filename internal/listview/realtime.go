package listview

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/types"
)

// Attach subscribes the list to realtime events on the session bus.
func (l *Controller) Attach() {
	l.sess.Bus.Subscribe(l.owner, l)
}

// Close unsubscribes and cancels a pending refetch.
func (l *Controller) Close() {
	l.sess.Bus.Unsubscribe(l.owner)
	l.pmu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = nil
	l.pmu.Unlock()
}

// HandleEvent queues the names of changed documents of this doctype. The
// first queued name arms a debounce timer that refetches them together.
func (l *Controller) HandleEvent(_ context.Context, evt event.Event) error {
	if evt.Type != event.ListUpdate || evt.Doctype != l.Doctype || evt.Name == "" {
		return nil
	}
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if l.pending == nil {
		l.pending = make(map[string]bool)
	}
	l.pending[evt.Name] = true
	if l.timer == nil {
		l.timer = time.AfterFunc(l.Debounce, func() {
			if err := l.Flush(context.Background()); err != nil {
				glog.Warningf("listview %s: realtime refetch: %v", l.Doctype, err)
			}
		})
	}
	return nil
}

// Pending returns the names waiting for a refetch.
func (l *Controller) Pending() []string {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	return sortedKeys(l.pending)
}

// Flush refetches the queued names with the current filters plus a name
// filter. Returned rows replace loaded ones, new matches are prepended and
// queued names the server no longer returns are removed.
func (l *Controller) Flush(ctx context.Context) error {
	l.pmu.Lock()
	names := sortedKeys(l.pending)
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pmu.Unlock()
	if len(names) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.meta == nil {
		// never loaded; the next refresh sees the changes anyway
		return nil
	}

	filters := append(types.Filters{}, l.Filters...)
	filters = append(filters, types.Filter{Doctype: l.Doctype, Field: "name", Operator: "in", Value: names})
	rows, err := l.query(ctx, l.args(filters, 0, len(names)))
	if err != nil {
		return l.report(err)
	}

	fresh := make(map[string]*types.Document, len(rows))
	for _, r := range rows {
		fresh[r.Name] = r
	}
	var added []*types.Document
	for _, n := range names {
		r, ok := fresh[n]
		i := l.indexOf(n)
		switch {
		case ok && i >= 0:
			l.data[i] = r
		case ok:
			added = append(added, r)
			l.total++
		case i >= 0:
			l.data = append(l.data[:i], l.data[i+1:]...)
			delete(l.selected, n)
			l.total--
		}
	}
	if len(added) > 0 {
		l.data = append(added, l.data...)
	}
	glog.V(1).Infof("listview %s: refetched %d changed rows (%d added)", l.Doctype, len(rows), len(added))
	l.render()
	return nil
}
