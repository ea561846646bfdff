package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/locals"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/script"
	"github.com/matthewbaird/desk/internal/types"
)

func TestSaveNewToDoWithoutDescriptionFailsLocally(t *testing.T) {
	srv := newFakeServer()
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	assert.Equal(t, StateNew, f.State())
	assert.Equal(t, "Open", f.Doc().GetString("status"))

	err := f.Save(ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Description"}, verr.Labels)
	assert.Equal(t, []string{"description"}, verr.Fields)
	assert.Equal(t, 0, srv.count(MethodSaveDocs))

	require.Len(t, rec.Highlights, 1)
	assert.Equal(t, []string{"description"}, rec.Highlights[0])
	require.Len(t, rec.Msgprints, 1)
	assert.Equal(t, "Missing Fields", rec.Msgprints[0].Title)
}

func TestMandatoryDependsOn(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	require.NoError(t, f.SetValue(ctx, "description", "call back"))
	require.NoError(t, f.SetValue(ctx, "status", "Closed"))

	var verr *ValidationError
	require.ErrorAs(t, f.Save(ctx), &verr)
	assert.Equal(t, []string{"Due Date"}, verr.Labels)

	require.NoError(t, f.SetValue(ctx, "date", "2024-02-01"))
	require.NoError(t, f.Save(ctx))
}

func TestSaveNewAssignsServerName(t *testing.T) {
	srv := newFakeServer()
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	var hooks []string
	for _, ev := range []script.Event{script.Validate, script.BeforeSave, script.AfterSave, script.Refresh} {
		ev := ev
		sess.Scripts.On("ToDo", ev, func(context.Context, script.Form, string, string) error {
			hooks = append(hooks, string(ev))
			return nil
		})
	}

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	localName := f.Doc().Name
	assert.True(t, locals.IsLocalName(localName))
	assert.True(t, sess.CanLeave())

	require.NoError(t, f.SetValue(ctx, "description", "Follow up"))
	assert.True(t, f.Dirty())
	assert.False(t, sess.CanLeave(), "first dirty mutation installs the unload guard")

	hooks = nil
	require.NoError(t, f.Save(ctx))
	assert.Equal(t, []string{"validate", "before_save", "after_save", "refresh"}, hooks)

	doc := f.Doc()
	assert.Equal(t, "TD-0001", doc.Name)
	assert.Equal(t, StateDraft, f.State())
	assert.False(t, f.Dirty())
	assert.True(t, sess.CanLeave())
	assert.Same(t, doc, sess.Locals.Get("ToDo", "TD-0001"))
	assert.Nil(t, sess.Locals.Get("ToDo", localName))
	assert.False(t, doc.LastSyncOn.IsZero())
	assert.Equal(t, "Saved", rec.LastAlert())

	args := srv.lastArgs(MethodSaveDocs)
	assert.Equal(t, ActionSave, args["action"])
	assert.Contains(t, args["doc"], `"__islocal":1`)
}

func TestSavingOneFormKeepsGuardForAnotherDirtyForm(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	a, b := NewController(sess), NewController(sess)
	require.NoError(t, a.New(ctx, "ToDo"))
	require.NoError(t, b.New(ctx, "ToDo"))
	require.NoError(t, a.SetValue(ctx, "description", "first"))
	require.NoError(t, b.SetValue(ctx, "description", "second"))
	assert.False(t, sess.CanLeave())

	require.NoError(t, a.Save(ctx))
	assert.True(t, b.Dirty())
	assert.False(t, sess.CanLeave(), "b still holds unsaved edits")

	require.NoError(t, b.Save(ctx))
	assert.True(t, sess.CanLeave())
}

func TestFormActionMarksSessionActive(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	later := time.Now().Add(time.Hour)
	sess.Now = func() time.Time { return later }
	require.True(t, sess.IsIdle(time.Minute))

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.False(t, sess.IsIdle(time.Minute))
}

func TestSaveCleanDraftIsNoop(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Save(ctx))
	assert.Equal(t, 0, srv.count(MethodSaveDocs))
	assert.Equal(t, "No changes in document", rec.LastAlert())
}

func TestSaveAbortsWhenHandlerInvalidates(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	var beforeSave bool
	sess.Scripts.On("ToDo", script.Validate, func(_ context.Context, frm script.Form, _, _ string) error {
		if frm.Doc().GetString("description") == "bad" {
			frm.Invalidate("description may not be bad")
		}
		return nil
	})
	sess.Scripts.On("ToDo", script.BeforeSave, func(context.Context, script.Form, string, string) error {
		beforeSave = true
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	require.NoError(t, f.SetValue(ctx, "description", "bad"))

	var verr *ValidationError
	require.ErrorAs(t, f.Save(ctx), &verr)
	assert.Equal(t, []string{"description may not be bad"}, verr.Reasons)
	assert.False(t, beforeSave)
	assert.Equal(t, 0, srv.count(MethodSaveDocs))
}

func TestHandlerErrorAbortsSave(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()
	boom := errors.New("boom")
	sess.Scripts.On("ToDo", script.BeforeSave, func(context.Context, script.Form, string, string) error { return boom })

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	require.NoError(t, f.SetValue(ctx, "description", "x"))
	err := f.Save(ctx)
	assert.ErrorIs(t, err, boom)
	var herr *script.HandlerError
	assert.ErrorAs(t, err, &herr)
	assert.Equal(t, 0, srv.count(MethodSaveDocs))
}

func TestFieldChangeHandlers(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	sess.Scripts.On("ToDo", script.Change("status"), func(ctx context.Context, frm script.Form, _, _ string) error {
		if frm.Doc().GetString("status") == "Closed" {
			return frm.SetValue(ctx, "date", "2024-03-01")
		}
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	require.NoError(t, f.SetValue(ctx, "status", "Closed"))
	assert.Equal(t, "2024-03-01", f.Doc().GetString("date"))

	assert.Error(t, f.SetValue(ctx, "docstatus", 1))
}

func TestChildRowMandatoryAndAdd(t *testing.T) {
	srv := newFakeServer()
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	var added []string
	sess.Scripts.On("Sales Order Item", script.Event("items_add"), func(_ context.Context, _ script.Form, cdt, cdn string) error {
		added = append(added, cdt+":"+cdn)
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "Sales Order"))
	require.NoError(t, f.SetValue(ctx, "customer", "Acme"))

	var verr *ValidationError
	require.ErrorAs(t, f.Save(ctx), &verr)
	assert.Equal(t, []string{"Items"}, verr.Labels)

	row, err := f.AddRow(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 1.0, toFloat(row.Get("qty")))
	assert.Equal(t, []string{"Sales Order Item:" + row.Name}, added)

	require.ErrorAs(t, f.Save(ctx), &verr)
	assert.Equal(t, []string{"Items, Row 1: Item Code"}, verr.Labels)

	require.NoError(t, f.SetChildValue(ctx, row.Doctype, row.Name, "item_code", "WIDGET"))
	require.NoError(t, f.Save(ctx))
	saved := f.Doc()
	require.Len(t, saved.Children("items"), 1)
	assert.Equal(t, "SO-0001", saved.Children("items")[0].Parent)
	assert.NotNil(t, sess.Locals.Get("Sales Order Item", "SO-0001-row-1"))
	assert.Nil(t, sess.Locals.Get("Sales Order Item", row.Name))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return -1
}

func TestSubmitFlow(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	var order []string
	sess.Scripts.On("Sales Order", script.BeforeSubmit, func(context.Context, script.Form, string, string) error {
		order = append(order, "before_submit")
		return nil
	})
	sess.Scripts.On("Sales Order", script.OnSubmit, func(context.Context, script.Form, string, string) error {
		order = append(order, "on_submit")
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.Equal(t, "submit", f.Toolbar()[0].Name)

	require.NoError(t, f.Submit(ctx))
	assert.Equal(t, StateSubmitted, f.State())
	assert.Equal(t, []string{"before_submit", "on_submit"}, order)
	assert.Equal(t, []string{"submit"}, rec.Sounds)
	assert.Equal(t, []string{"Permanently Submit SO-0100?"}, rec.Confirms)
	assert.Equal(t, ActionSubmit, srv.lastArgs(MethodSaveDocs)["action"])

	assert.ErrorIs(t, f.SetValue(ctx, "customer", "Other"), ErrNotEditable)
	assert.ErrorIs(t, f.Submit(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, f.Save(ctx), ErrInvalidTransition)
}

func TestRenderHooks(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	var hooks []string
	for _, ev := range []script.Event{script.Onload, script.Refresh, script.TimelineRefresh, script.OnloadPostRender} {
		ev := ev
		sess.Scripts.On("Sales Order", ev, func(context.Context, script.Form, string, string) error {
			hooks = append(hooks, fmt.Sprintf("%s@%d", ev, len(rec.Forms)))
			return nil
		})
	}

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.Equal(t, []string{"onload@0", "refresh@0", "timeline_refresh@1", "onload_post_render@1"}, hooks)

	hooks = nil
	require.NoError(t, f.Submit(ctx))
	assert.Equal(t, []string{"refresh@1", "timeline_refresh@2"}, hooks, "only the first render after a load fires onload_post_render")
}

func TestDoubleSubmitIsRejected(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	var inner error
	sess.Scripts.On("Sales Order", script.BeforeSubmit, func(ctx context.Context, _ script.Form, _, _ string) error {
		inner = f.Submit(ctx)
		return nil
	})
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Submit(ctx))
	assert.ErrorIs(t, inner, ErrBusy)
	assert.Equal(t, 1, srv.count(MethodSaveDocs))
}

func TestSubmitDeclinedAndDenied(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	ctx := context.Background()

	sess, rec := newTestSession(t, srv)
	rec.Answers = []bool{false}
	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.ErrorIs(t, f.Submit(ctx), ErrDeclined)
	assert.Equal(t, 0, srv.count(MethodSaveDocs))

	guest, grec := newTestSession(t, srv, "Guest")
	g := NewController(guest)
	require.NoError(t, g.Open(ctx, "Sales Order", "SO-0100"))
	var perr *PermissionError
	require.ErrorAs(t, g.Submit(ctx), &perr)
	assert.Equal(t, "submit", perr.Ptype)
	assert.Len(t, grec.Msgprints, 1)
	assert.Equal(t, []string{"reload"}, actionNames(g))
}

func TestCancelWithLinkedDocuments(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Submitted)
	srv.override[MethodLinkedDocs] = func(map[string]any) (*rpc.Response, error) {
		return messageResponse(map[string]any{
			"docs":  []map[string]any{{"doctype": "Delivery Note", "name": "DN-0001", "docstatus": 1}},
			"count": 1,
		}), nil
	}
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	var hooks []string
	sess.Scripts.On("Sales Order", script.BeforeCancel, func(context.Context, script.Form, string, string) error {
		hooks = append(hooks, "before_cancel")
		return nil
	})
	sess.Scripts.On("Sales Order", script.AfterCancel, func(context.Context, script.Form, string, string) error {
		hooks = append(hooks, "after_cancel")
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.Equal(t, "cancel", f.Toolbar()[0].Name)

	require.NoError(t, f.Cancel(ctx))
	assert.Equal(t, StateCancelled, f.State())
	assert.Equal(t, []string{"before_cancel", "after_cancel"}, hooks)
	assert.Equal(t, 1, srv.count(MethodCancelAllLinked))
	assert.Equal(t, 1, srv.count(MethodCancel))
	require.Len(t, rec.Confirms, 1)
	assert.Contains(t, rec.Confirms[0], "Delivery Note DN-0001")
	assert.Equal(t, "amend", f.Toolbar()[0].Name)
}

func TestCancelLinkedDeclined(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Submitted)
	srv.override[MethodLinkedDocs] = func(map[string]any) (*rpc.Response, error) {
		return messageResponse(map[string]any{
			"docs":  []map[string]any{{"doctype": "Delivery Note", "name": "DN-0001", "docstatus": 1}},
			"count": 1,
		}), nil
	}
	sess, rec := newTestSession(t, srv)
	rec.Answers = []bool{false}
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.ErrorIs(t, f.Cancel(ctx), ErrDeclined)
	assert.Equal(t, 0, srv.count(MethodCancelAllLinked))
	assert.Equal(t, 0, srv.count(MethodCancel))
	assert.Equal(t, StateSubmitted, f.State())
}

func TestCancelWithoutLinksAsksPlainConfirmation(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Submitted)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Cancel(ctx))
	assert.Equal(t, []string{"Permanently Cancel SO-0100?"}, rec.Confirms)
	assert.Equal(t, 0, srv.count(MethodCancelAllLinked))
}

func TestAmendCopiesCancelledDocument(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Cancelled)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Amend(ctx))

	doc := f.Doc()
	assert.Equal(t, StateNew, f.State())
	assert.True(t, locals.IsLocalName(doc.Name))
	assert.Equal(t, "SO-0100", doc.GetString("amended_from"))
	assert.Equal(t, "Acme", doc.GetString("customer"))
	assert.Nil(t, doc.Get("po_no"), "no_copy fields are cleared")
	assert.Nil(t, doc.Get("_assign"))
	assert.Equal(t, types.Draft, doc.DocStatus)
	assert.Equal(t, "a@example.com", doc.Owner)

	rows := doc.Children("items")
	require.Len(t, rows, 1)
	assert.NotEqual(t, "SO-0100-row-1", rows[0].Name)
	assert.Equal(t, doc.Name, rows[0].Parent)
	assert.Equal(t, "WIDGET", rows[0].GetString("item_code"))
	assert.Same(t, rows[0], sess.Locals.Get("Sales Order Item", rows[0].Name))

	filters := srv.lastArgs(MethodGetValue)["filters"].(map[string]any)
	assert.Equal(t, "SO-0100", filters["amended_from"])
	assert.Equal(t, "", sess.Locals.OpenedBy("Sales Order", "SO-0100"))
}

func TestAmendRefusedWhenAlreadyAmended(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Cancelled)
	srv.override[MethodGetValue] = func(map[string]any) (*rpc.Response, error) {
		return messageResponse(map[string]any{"name": "SO-0100-1"}), nil
	}
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.ErrorIs(t, f.Amend(ctx), ErrAlreadyAmended)
	assert.Equal(t, "SO-0100", f.Doc().Name)
}

func TestAmendNeedsCancelledAndField(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	assert.ErrorIs(t, f.Amend(ctx), ErrInvalidTransition)

	todo := types.NewDocument("ToDo", "TD-0009")
	todo.DocStatus = types.Cancelled
	srv.put(todo)
	g := NewController(sess)
	require.NoError(t, g.Open(ctx, "ToDo", "TD-0009"))
	assert.ErrorIs(t, g.Amend(ctx), ErrInvalidTransition)
	assert.Equal(t, 0, srv.count(MethodGetValue))
}

func TestDiscard(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	var discarded []string
	sess.Scripts.On("ToDo", script.AfterDiscard, func(_ context.Context, _ script.Form, cdt, cdn string) error {
		discarded = append(discarded, cdn)
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	name := f.Doc().Name
	require.NoError(t, f.SetValue(ctx, "description", "scratch"))
	require.NoError(t, f.Discard(ctx))
	assert.Nil(t, f.Doc())
	assert.Nil(t, sess.Locals.Get("ToDo", name))
	assert.Equal(t, []string{name}, discarded)
	assert.True(t, sess.CanLeave())
	assert.Equal(t, 0, srv.count(MethodDelete))

	g := NewController(sess)
	require.NoError(t, g.Open(ctx, "Sales Order", "SO-0100"))
	assert.ErrorIs(t, g.Discard(ctx), ErrInvalidTransition, "clean draft has nothing to discard")
	require.NoError(t, g.SetValue(ctx, "customer", "Other"))
	require.NoError(t, g.Discard(ctx))
	assert.Equal(t, 1, srv.count(MethodDelete))
	assert.Nil(t, sess.Locals.Get("Sales Order", "SO-0100"))
	assert.Nil(t, sess.Locals.Get("Sales Order Item", "SO-0100-row-1"))
}

func TestRefreshReloadsStaleCleanDocument(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Refresh(ctx))
	assert.Equal(t, 1, srv.count(MethodGetDoc), "fresh document is reused")

	later := time.Now().Add(DefaultStaleAfter + time.Minute)
	sess.Now = func() time.Time { return later }
	require.NoError(t, f.Refresh(ctx))
	assert.Equal(t, 2, srv.count(MethodGetDoc))

	require.NoError(t, f.SetValue(ctx, "customer", "Edited"))
	sess.Now = func() time.Time { return later.Add(time.Hour) }
	require.NoError(t, f.Refresh(ctx))
	assert.Equal(t, 2, srv.count(MethodGetDoc), "dirty document is never reloaded")
	assert.Equal(t, "Edited", f.Doc().GetString("customer"))
	assert.False(t, sess.CanLeave())
}

func TestOpenReusesFreshStoreCopy(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	f.Close()

	g := NewController(sess)
	require.NoError(t, g.Open(ctx, "Sales Order", "SO-0100"))
	assert.Equal(t, 1, srv.count(MethodGetDoc))
}

func TestSecondFormCannotOpenSameDocument(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	g := NewController(sess)
	assert.ErrorIs(t, g.Open(ctx, "Sales Order", "SO-0100"), locals.ErrOpenedElsewhere)
	_, ok := rec.Banner(conflictKey("Sales Order", "SO-0100"))
	assert.True(t, ok)

	f.Close()
	require.NoError(t, g.Open(ctx, "Sales Order", "SO-0100"))
}

func TestDocUpdateFromAnotherUser(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))

	// Own update is ignored.
	require.NoError(t, f.HandleEvent(ctx, event.NewDocUpdate("Sales Order", "SO-0100", "2024-01-02 00:00:00", "a@example.com")))
	assert.Equal(t, 1, srv.count(MethodGetDoc))

	// Clean form reloads.
	require.NoError(t, f.HandleEvent(ctx, event.NewDocUpdate("Sales Order", "SO-0100", "2024-01-02 00:00:00", "b@example.com")))
	assert.Equal(t, 2, srv.count(MethodGetDoc))

	// Dirty form keeps the edits and shows a banner.
	require.NoError(t, f.SetValue(ctx, "customer", "Mine"))
	require.NoError(t, f.HandleEvent(ctx, event.NewDocUpdate("Sales Order", "SO-0100", "2024-01-03 00:00:00", "b@example.com")))
	assert.Equal(t, 2, srv.count(MethodGetDoc))
	assert.Equal(t, "Mine", f.Doc().GetString("customer"))
	b, ok := rec.Banner(conflictKey("Sales Order", "SO-0100"))
	require.True(t, ok)
	assert.Equal(t, "Reload", b.Action)

	// Other documents and event types are ignored.
	require.NoError(t, f.HandleEvent(ctx, event.NewDocUpdate("Sales Order", "SO-0999", "x", "b@example.com")))
	require.NoError(t, f.HandleEvent(ctx, event.NewListUpdate("Sales Order", "SO-0100", "b@example.com")))
	assert.Equal(t, 2, srv.count(MethodGetDoc))
}

func TestDocUpdateDuringSubmitDoesNotStallBus(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, _ := newTestSession(t, srv)
	ctx := context.Background()
	sess.Bus.Start(ctx)
	t.Cleanup(sess.Bus.Stop)

	listUpdates := make(chan struct{}, 1)
	sess.Bus.Subscribe("list", eventbus.HandlerFunc(func(_ context.Context, evt event.Event) error {
		if evt.Type == event.ListUpdate {
			listUpdates <- struct{}{}
		}
		return nil
	}))

	var delivered bool
	sess.Scripts.On("Sales Order", script.BeforeSubmit, func(ctx context.Context, _ script.Form, _, _ string) error {
		sess.Bus.Publish(ctx, event.NewDocUpdate("Sales Order", "SO-0100", "2099-01-01 00:00:00", "b@example.com"))
		sess.Bus.Publish(ctx, event.NewListUpdate("Sales Order", "SO-0100", "b@example.com"))
		select {
		case <-listUpdates:
			delivered = true
		case <-time.After(2 * time.Second):
		}
		return nil
	})

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.Submit(ctx))
	assert.True(t, delivered)

	// The deferred update is applied once Submit releases the form.
	assert.Equal(t, 2, srv.count(MethodGetDoc))
	assert.Equal(t, StateSubmitted, f.State())
}

func TestServerErrorsAreMapped(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.Open(ctx, "Sales Order", "SO-0100"))
	require.NoError(t, f.SetValue(ctx, "customer", "Other"))

	srv.override[MethodSaveDocs] = func(map[string]any) (*rpc.Response, error) {
		return nil, &rpc.ServerError{Method: MethodSaveDocs, Status: http.StatusForbidden, ExcType: "PermissionError",
			Messages: []rpc.ServerMessage{{Message: "Not permitted"}}}
	}
	var perr *PermissionError
	require.ErrorAs(t, f.Save(ctx), &perr)
	require.NotEmpty(t, rec.Msgprints)
	assert.Equal(t, []string{"Not permitted"}, rec.Msgprints[len(rec.Msgprints)-1].Messages)

	srv.override[MethodSaveDocs] = func(map[string]any) (*rpc.Response, error) {
		return nil, &rpc.ServerError{Method: MethodSaveDocs, Status: http.StatusOK, ExcType: "TimestampMismatchError"}
	}
	var cerr *ConflictError
	require.ErrorAs(t, f.Save(ctx), &cerr)
	_, ok := rec.Banner(conflictKey("Sales Order", "SO-0100"))
	assert.True(t, ok)
	assert.True(t, f.Dirty(), "edits survive a failed save")

	srv.override[MethodSaveDocs] = func(map[string]any) (*rpc.Response, error) {
		return nil, &rpc.ServerError{Method: MethodSaveDocs, Status: http.StatusInternalServerError, Exc: "Traceback"}
	}
	require.Error(t, f.Save(ctx))
	assert.Contains(t, rec.LastAlert(), "Traceback")
}

func TestToolbarAndSidebar(t *testing.T) {
	srv := newFakeServer()
	savedOrder(srv, types.Draft)
	sess, rec := newTestSession(t, srv)
	ctx := context.Background()

	f := NewController(sess)
	require.NoError(t, f.New(ctx, "ToDo"))
	assert.Equal(t, []string{"save", "discard"}, actionNames(f))
	assert.True(t, f.Toolbar()[0].Primary)

	g := NewController(sess)
	require.NoError(t, g.Open(ctx, "Sales Order", "SO-0100"))
	assert.Equal(t, []string{"submit", "print", "reload"}, actionNames(g))
	require.NoError(t, g.SetValue(ctx, "customer", "Other"))
	assert.Equal(t, []string{"save", "discard", "print", "reload"}, actionNames(g))

	side := g.Sidebar()
	values := map[string]string{}
	for _, s := range side {
		values[s.Label] = s.Value
	}
	assert.Equal(t, "b@example.com", values["Created By"])
	assert.Equal(t, "c@example.com", values["Assigned To"])
	assert.Equal(t, "urgent, export", values["Tags"])

	view, ok := rec.LastForm()
	require.True(t, ok)
	assert.Equal(t, "Sales Order", view.Doctype)
	for _, fv := range view.Fields {
		if fv.Fieldname == "items" {
			assert.Equal(t, 1, fv.Rows)
		}
		assert.NotEqual(t, "section_break", fv.Fieldname)
	}
}

func actionNames(f *Controller) []string {
	var out []string
	for _, a := range f.Toolbar() {
		out = append(out, a.Name)
	}
	return out
}
